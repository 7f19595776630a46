package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CreateIssuanceRequest is the body of POST /issuances. Volume defaults to
// the sum of series notionals.
type CreateIssuanceRequest struct {
	Requester        string                  `json:"requester"`
	RecipientCompany string                  `json:"recipientCompany"`
	Combination      domain.Combination      `json:"combination"`
	Volume           float64                 `json:"volume"`
	Series           []domain.SeriesNotional `json:"series"`
	Observation      string                  `json:"observation,omitempty"`
}

// CreateIssuance handles POST /issuances.
func (h *Handler) CreateIssuance(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateIssuanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	iss := &domain.Issuance{
		Requester:        req.Requester,
		RecipientCompany: req.RecipientCompany,
		Combination:      req.Combination,
		Volume:           req.Volume,
		Series:           req.Series,
		Observation:      req.Observation,
	}
	if iss.Volume == 0 {
		iss.Volume = iss.SeriesTotal()
	}

	if err := h.repo.CreateIssuance(ctx, tenantID, iss); err != nil {
		writeError(w, "create issuance", err)
		return
	}

	slog.Info("issuance created",
		"issuance_id", iss.ID,
		"number", iss.Number,
		"tenant_id", tenantID,
	)
	writeJSON(w, http.StatusCreated, iss)
}

// GetIssuance handles GET /issuances/{id}.
func (h *Handler) GetIssuance(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	iss, err := h.repo.GetIssuance(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get issuance", err)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

// UpdateStatusRequest is the body of PUT /issuances/{id}/status.
type UpdateStatusRequest struct {
	Status domain.IssuanceStatus `json:"status"`
	Reason string                `json:"reason,omitempty"`
}

// UpdateIssuanceStatus handles PUT /issuances/{id}/status.
func (h *Handler) UpdateIssuanceStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.repo.UpdateIssuanceStatus(ctx, tenantID, id, req.Status, req.Reason); err != nil {
		writeError(w, "update issuance status", err)
		return
	}

	iss, err := h.repo.GetIssuance(ctx, tenantID, id)
	if err != nil {
		writeError(w, "get issuance", err)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

// IssuanceHistory handles GET /issuances/{id}/history.
func (h *Handler) IssuanceHistory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if _, err := h.repo.GetIssuance(ctx, tenantID, id); err != nil {
		writeError(w, "get issuance", err)
		return
	}

	events, err := h.repo.ListIssuanceHistory(ctx, tenantID, id)
	if err != nil {
		writeError(w, "list issuance history", err)
		return
	}
	if events == nil {
		events = []domain.IssuanceEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
