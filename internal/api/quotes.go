package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/export"
	"github.com/opensource-finance/kestrel/internal/fees"
	"github.com/opensource-finance/kestrel/internal/formula"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/quote"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// AcceptedResponse is returned for asynchronous quote requests.
type AcceptedResponse struct {
	RequestID string `json:"requestId"`
	Topic     string `json:"topic"`
}

// CreateQuote handles POST /quotes. With ?async=true the request is handed
// to the worker over the event bus instead.
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req quote.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	req.TenantID = tenantID
	req.TraceID = GetTraceID(ctx)

	if req.IssuanceID != "" && h.repo != nil {
		if _, err := h.repo.GetIssuance(ctx, tenantID, req.IssuanceID); err != nil {
			writeError(w, "get issuance", err)
			return
		}
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueueQuote(w, r, req)
		return
	}

	if !h.requireCatalog(w) {
		return
	}

	q, err := h.builder.Build(ctx, req)
	if err != nil {
		writeError(w, "build quote", err)
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveQuote(ctx, tenantID, q); err != nil {
			writeError(w, "save quote", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) enqueueQuote(w http.ResponseWriter, r *http.Request, req quote.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("event bus not available"))
		return
	}
	// Reject early what the worker would reject anyway.
	if err := req.Validate(); err != nil {
		writeError(w, "validate quote", err)
		return
	}

	msg := worker.QuoteMessage{
		RequestID:   uuid.New().String(),
		TenantID:    req.TenantID,
		TraceID:     req.TraceID,
		IssuanceID:  req.IssuanceID,
		Combination: req.Combination,
		Volume:      req.Volume,
		Series:      req.Series,
	}
	if err := bus.PublishJSON(r.Context(), h.bus, req.TenantID, domain.TopicQuoteRequested, msg); err != nil {
		writeError(w, "publish quote request", err)
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		RequestID: msg.RequestID,
		Topic:     domain.TopicQuoteComputed,
	})
}

// GetQuote retrieves a persisted quote by ID.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	q, err := h.repo.GetQuote(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get quote", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// OverrideRequest is the body of PUT /quotes/{id}/costs/{costId}.
type OverrideRequest struct {
	Value *float64 `json:"value"`
}

// OverrideCost replaces a line's baseline value, re-totals, re-reviews and
// stores the quote.
func (h *Handler) OverrideCost(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	quoteID := chi.URLParam(r, "id")
	costID := chi.URLParam(r, "costId")

	var req OverrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("value is required"))
		return
	}

	q, err := h.repo.GetQuote(ctx, tenantID, quoteID)
	if err != nil {
		writeError(w, "get quote", err)
		return
	}

	updated, err := quote.Override(q, costID, *req.Value)
	if err != nil {
		writeError(w, "override cost", err)
		return
	}
	if err := h.builder.Rereview(ctx, updated); err != nil {
		writeError(w, "review quote", err)
		return
	}

	if err := h.repo.SaveQuote(ctx, tenantID, updated); err != nil {
		writeError(w, "save quote", err)
		return
	}

	slog.Info("cost overridden",
		"quote_id", quoteID,
		"cost_id", costID,
		"tenant_id", tenantID,
		"total_first_year", updated.Totals.TotalFirstYear,
	)
	writeJSON(w, http.StatusOK, updated)
}

// TotalsRequest carries three buckets to re-aggregate.
type TotalsRequest struct {
	Upfront []domain.ComputedCost `json:"upfront"`
	Annual  []domain.ComputedCost `json:"annual"`
	Monthly []domain.ComputedCost `json:"monthly"`
}

// ComputeTotals handles POST /totals. No catalog or storage is touched.
func (h *Handler) ComputeTotals(w http.ResponseWriter, r *http.Request) {
	var req TotalsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, fees.ComputeTotals(req.Upfront, req.Annual, req.Monthly))
}

// ExportQuote serves a stored quote as XLSX or CSV.
func (h *Handler) ExportQuote(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.requireRepo(w) {
			return
		}
		ctx := r.Context()

		q, err := h.repo.GetQuote(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, "get quote", err)
			return
		}

		var (
			buf         bytes.Buffer
			contentType string
		)
		switch format {
		case "xlsx":
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
			var data []byte
			data, err = export.QuoteXLSX(q)
			buf.Write(data)
		default:
			contentType = "text/csv; charset=utf-8"
			err = export.QuoteCSV(q, &buf)
		}
		if err != nil {
			metrics.ObserveExport(format, metrics.ResultError)
			writeError(w, "export quote", err)
			return
		}
		metrics.ObserveExport(format, metrics.ResultSuccess)

		filename := fmt.Sprintf("cotacao-%s-%s.%s", q.ID, time.Now().UTC().Format("20060102"), format)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// ParseFormulaRequest is the body of POST /formula/parse.
type ParseFormulaRequest struct {
	Formula string  `json:"formula"`
	Volume  float64 `json:"volume,omitempty"`
}

// ParseFormulaResponse previews the parameters of a percentage formula.
// Maximum is null when the formula has no ceiling.
type ParseFormulaResponse struct {
	Rate      float64  `json:"rate"`
	Minimum   float64  `json:"minimum"`
	Maximum   *float64 `json:"maximum"`
	Value     *float64 `json:"value,omitempty"`
	Formatted string   `json:"formatted,omitempty"`
}

// ParseFormula handles POST /formula/parse.
func (h *Handler) ParseFormula(w http.ResponseWriter, r *http.Request) {
	var req ParseFormulaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if math.IsNaN(req.Volume) || req.Volume < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("volume must not be negative"))
		return
	}

	p := formula.Parse(req.Formula)
	resp := ParseFormulaResponse{
		Rate:    p.Rate,
		Minimum: p.Minimum,
	}
	if !p.Unbounded() {
		maximum := p.Maximum
		resp.Maximum = &maximum
	}
	if req.Volume > 0 {
		v := fees.ComputePercentageCost(req.Volume, req.Formula)
		resp.Value = &v
		resp.Formatted = export.FormatBRL(v)
	}

	writeJSON(w, http.StatusOK, resp)
}
