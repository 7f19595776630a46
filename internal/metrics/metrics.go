// Package metrics exposes Prometheus instrumentation for the quoting pipeline.
// Recording functions are no-ops until Init has been called.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "kestrel_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultInvalid = "invalid"
)

var (
	registerOnce sync.Once

	quotesTotal     *prometheus.CounterVec
	quoteLatency    *prometheus.HistogramVec
	overridesTotal  prometheus.Counter
	reviewFlags     *prometheus.CounterVec
	catalogLookups  *prometheus.CounterVec
	exportsTotal    *prometheus.CounterVec
	catalogImported prometheus.Counter
)

// Init registers metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		quotesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "quotes_total",
				Help: "Total quotes built by result",
			},
			[]string{"result"},
		)
		quoteLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "quote_latency_seconds",
				Help:    "Quote build latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		overridesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "overrides_total",
				Help: "Total manual cost overrides applied",
			},
		)
		reviewFlags = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "review_flags_total",
				Help: "Total review flags raised by outcome",
			},
			[]string{"outcome"},
		)
		catalogLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "catalog_lookups_total",
				Help: "Catalog lookups by cache result",
			},
			[]string{"cache"},
		)
		exportsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "exports_total",
				Help: "Total quote exports by format and result",
			},
			[]string{"format", "result"},
		)
		catalogImported = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "catalog_records_imported_total",
				Help: "Total cost records imported into the catalog",
			},
		)

		prometheus.MustRegister(
			quotesTotal,
			quoteLatency,
			overridesTotal,
			reviewFlags,
			catalogLookups,
			exportsTotal,
			catalogImported,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveQuote records a quote build and its latency.
func ObserveQuote(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if quotesTotal != nil {
		quotesTotal.WithLabelValues(result).Inc()
	}
	if quoteLatency != nil {
		quoteLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncOverride counts a manual override.
func IncOverride() {
	if overridesTotal != nil {
		overridesTotal.Inc()
	}
}

// AddReviewFlag counts a raised review flag.
func AddReviewFlag(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if reviewFlags != nil {
		reviewFlags.WithLabelValues(outcome).Inc()
	}
}

// ObserveCatalogLookup counts a catalog lookup as a cache hit or miss.
func ObserveCatalogLookup(hit bool) {
	if catalogLookups == nil {
		return
	}
	if hit {
		catalogLookups.WithLabelValues("hit").Inc()
		return
	}
	catalogLookups.WithLabelValues("miss").Inc()
}

// ObserveExport counts an export by format and result.
func ObserveExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if exportsTotal != nil {
		exportsTotal.WithLabelValues(format, result).Inc()
	}
}

// AddCatalogImported counts imported catalog records.
func AddCatalogImported(n int) {
	if n <= 0 {
		return
	}
	if catalogImported != nil {
		catalogImported.Add(float64(n))
	}
}
