// Package quote builds fee quotes for an issuance: catalog lookup, cost
// computation, totals and review.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fees"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// EngineVersion is stamped on every quote.
const EngineVersion = "kestrel-1.0"

var (
	ErrInvalidRequest = errors.New("invalid quote request")
	ErrCostNotFound   = errors.New("cost not found")
)

var tracer = otel.Tracer("kestrel-quote")

// CatalogSource resolves the cost catalog for a combination.
type CatalogSource interface {
	Lookup(ctx context.Context, tenantID string, combo domain.Combination) (*catalog.Entry, error)
}

// Reviewer flags computed cost lines.
type Reviewer interface {
	Review(ctx context.Context, input *rules.ReviewInput) ([]domain.ReviewFlag, int, error)
}

// Request holds the issuance parameters to price.
type Request struct {
	TenantID    string                  `json:"-"`
	TraceID     string                  `json:"-"`
	IssuanceID  string                  `json:"issuanceId,omitempty"`
	Combination domain.Combination      `json:"combination"`
	Volume      float64                 `json:"volume"`
	Series      []domain.SeriesNotional `json:"series"`
}

// Validate checks the request and fills in the volume from the series when
// it is omitted.
func (r *Request) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidRequest)
	}
	if !r.Combination.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, r.Combination.Category)
	}

	seen := make(map[int]bool, len(r.Series))
	total := 0.0
	for _, s := range r.Series {
		if s.Number <= 0 {
			return fmt.Errorf("%w: series number must be positive, got %d", ErrInvalidRequest, s.Number)
		}
		if seen[s.Number] {
			return fmt.Errorf("%w: duplicate series number %d", ErrInvalidRequest, s.Number)
		}
		seen[s.Number] = true
		if !finite(s.NotionalValue) || s.NotionalValue < 0 {
			return fmt.Errorf("%w: series %d notional must be a non-negative amount", ErrInvalidRequest, s.Number)
		}
		total += s.NotionalValue
	}

	if !finite(r.Volume) || r.Volume < 0 {
		return fmt.Errorf("%w: volume must be a positive amount", ErrInvalidRequest)
	}
	if r.Volume == 0 {
		r.Volume = total
	}
	if r.Volume <= 0 {
		return fmt.Errorf("%w: volume or series notionals are required", ErrInvalidRequest)
	}
	return nil
}

// Builder orchestrates quote computation.
type Builder struct {
	catalog  CatalogSource
	reviewer Reviewer
}

// NewBuilder creates a builder. reviewer may be nil to skip review.
func NewBuilder(cat CatalogSource, reviewer Reviewer) *Builder {
	return &Builder{
		catalog:  cat,
		reviewer: reviewer,
	}
}

// Build prices a request.
func (b *Builder) Build(ctx context.Context, req Request) (*domain.Quote, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "quote.Build")
	defer span.End()

	q, err := b.build(ctx, &req, start)

	result := metrics.ResultSuccess
	switch {
	case errors.Is(err, ErrInvalidRequest):
		result = metrics.ResultInvalid
	case err != nil:
		result = metrics.ResultError
	}
	metrics.ObserveQuote(result, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("quote.id", q.ID),
		attribute.String("quote.status", string(q.Status)),
		attribute.Int("quote.costs", q.Metadata.CostsComputed),
	)
	return q, nil
}

func (b *Builder) build(ctx context.Context, req *Request, start time.Time) (*domain.Quote, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 1. Catalog
	catalogStart := time.Now()
	entry, err := b.catalog.Lookup(ctx, req.TenantID, req.Combination)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup failed: %w", err)
	}
	catalogMs := time.Since(catalogStart).Milliseconds()

	// 2. Costs and totals
	computeStart := time.Now()
	buckets, totals := fees.ComputeBuckets(entry.Definitions(), req.Volume, req.Series, entry.Custody)
	computeMs := time.Since(computeStart).Milliseconds()

	now := time.Now().UTC()
	q := &domain.Quote{
		ID:           uuid.New().String(),
		TenantID:     req.TenantID,
		IssuanceID:   req.IssuanceID,
		Combination:  req.Combination,
		Volume:       req.Volume,
		Series:       req.Series,
		CustodyTable: entry.Custody,
		Costs:        buckets,
		Totals:       totals,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = q.ID
	}

	// 3. Review
	reviewStart := time.Now()
	evaluated, err := b.review(ctx, q)
	if err != nil {
		return nil, err
	}

	q.Metadata = domain.QuoteMetadata{
		TraceID:        traceID,
		CatalogMs:      catalogMs,
		ComputeMs:      computeMs,
		ReviewMs:       time.Since(reviewStart).Milliseconds(),
		TotalMs:        time.Since(start).Milliseconds(),
		CostsComputed:  entry.Len(),
		RulesEvaluated: evaluated,
		CatalogCached:  entry.Cached,
		EngineVersion:  EngineVersion,
	}

	slog.Info("quote built",
		"quote_id", q.ID,
		"tenant_id", q.TenantID,
		"category", q.Combination.Category,
		"costs", entry.Len(),
		"total_first_year", q.Totals.TotalFirstYear,
		"status", q.Status,
		"duration_ms", q.Metadata.TotalMs,
	)

	return q, nil
}

// Rereview runs the review rules again, for example after an override.
func (b *Builder) Rereview(ctx context.Context, q *domain.Quote) error {
	_, err := b.review(ctx, q)
	return err
}

func (b *Builder) review(ctx context.Context, q *domain.Quote) (int, error) {
	q.Flags = nil
	evaluated := 0

	if b.reviewer != nil {
		flags, n, err := b.reviewer.Review(ctx, &rules.ReviewInput{
			TenantID:        q.TenantID,
			QuoteID:         q.ID,
			Volume:          q.Volume,
			SeriesCount:     len(q.Series),
			CustodyBrackets: len(q.CustodyTable),
			Costs:           q.Costs.All(),
		})
		if err != nil {
			return 0, fmt.Errorf("review failed: %w", err)
		}
		q.Flags = flags
		evaluated = n
	}

	for _, f := range q.Flags {
		metrics.AddReviewFlag(f.Outcome)
	}
	q.Status = Summarize(q.Flags).Status
	return evaluated, nil
}

// Override replaces the baseline value of one cost line and re-totals the
// quote. The line keeps its gross-up and is marked as edited. q is not
// modified; the updated copy is returned.
func Override(q *domain.Quote, costID string, value float64) (*domain.Quote, error) {
	if !finite(value) || value < 0 {
		return nil, fmt.Errorf("%w: override value must be a non-negative amount", ErrInvalidRequest)
	}

	out := *q
	out.Costs = domain.Buckets{
		Upfront: slices.Clone(q.Costs.Upfront),
		Annual:  slices.Clone(q.Costs.Annual),
		Monthly: slices.Clone(q.Costs.Monthly),
	}

	found := false
	for _, bucket := range [][]domain.ComputedCost{out.Costs.Upfront, out.Costs.Annual, out.Costs.Monthly} {
		for i := range bucket {
			if bucket[i].ID == costID {
				bucket[i] = fees.ApplyManualOverride(bucket[i], value)
				found = true
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrCostNotFound, costID)
	}

	out.UpdatedAt = time.Now().UTC()
	metrics.IncOverride()

	slog.Debug("cost overridden",
		"quote_id", q.ID,
		"cost_id", costID,
		"value", value,
	)

	return Retotal(&out), nil
}

// Retotal re-aggregates the totals of q from its current lines.
func Retotal(q *domain.Quote) *domain.Quote {
	q.Totals = fees.Totals(q.Costs)
	return q
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
