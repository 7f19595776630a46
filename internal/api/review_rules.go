package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GlobalTenantID is used for review rules that apply to all tenants.
const GlobalTenantID = "*"

func (h *Handler) requireEngine(w http.ResponseWriter) bool {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("review engine not available"))
		return false
	}
	return true
}

// ListReviewRules returns the rules currently loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /review-rules/reload.
func (h *Handler) ListReviewRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// GetReviewRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetReviewRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, errorBody("rule not found"))
}

// CreateReviewRuleRequest is the request body for creating a review rule.
type CreateReviewRuleRequest struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Version     string              `json:"version,omitempty"`
	Expression  string              `json:"expression"`
	Bands       []domain.ReviewBand `json:"bands"`
	Enabled     bool                `json:"enabled"`
}

// CreateReviewRule validates a rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /review-rules/reload to hot-reload into the engine.
func (h *Handler) CreateReviewRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) || !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	var req CreateReviewRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id, name, and expression are required"))
		return
	}
	for _, b := range req.Bands {
		switch b.Outcome {
		case domain.ReviewOutcomePass, domain.ReviewOutcomeReview, domain.ReviewOutcomeFail:
		default:
			writeJSON(w, http.StatusBadRequest, errorBody("band outcome must be .pass, .review or .fail"))
			return
		}
	}

	rule := &domain.ReviewRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid CEL expression: "+err.Error()))
		return
	}

	if err := h.repo.SaveReviewRule(ctx, GlobalTenantID, rule); err != nil {
		writeError(w, "save review rule", err)
		return
	}

	slog.Info("review rule created", "id", rule.ID, "name", rule.Name, "version", rule.Version)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule saved. Call POST /review-rules/reload to apply changes.",
	})
}

// ReloadReviewRules reloads all rules from the database into the engine.
func (h *Handler) ReloadReviewRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) || !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	dbRules, err := h.repo.ListReviewRules(ctx, GlobalTenantID)
	if err != nil {
		writeError(w, "list review rules", err)
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to reload rules: "+err.Error()))
		return
	}

	slog.Info("review rules reloaded from database", "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}
