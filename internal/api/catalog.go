package api

import (
	"net/http"

	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ListCatalogCosts handles GET /catalog/costs?category=DEB&offerType=...
// Empty filters other than category match every row.
func (h *Handler) ListCatalogCosts(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	q := r.URL.Query()
	combo := domain.Combination{
		Category:     domain.Category(q.Get("category")),
		OfferType:    q.Get("offerType"),
		Vehicle:      q.Get("vehicle"),
		BackingAsset: q.Get("backingAsset"),
	}

	entry, err := h.catalog.Lookup(r.Context(), GetTenantID(r.Context()), combo)
	if err != nil {
		writeError(w, "catalog lookup", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"combination": entry.Combination,
		"upfront":     entry.Upfront,
		"annual":      entry.Annual,
		"monthly":     entry.Monthly,
		"count":       entry.Len(),
		"cached":      entry.Cached,
	})
}

// ImportCatalog handles POST /catalog/costs with a body in the catalog
// exchange format. The custody table is replaced when the body carries one.
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}

	var f catalog.File
	if !decodeJSON(w, r, &f) {
		return
	}
	if len(f.Costs) == 0 && len(f.Custody) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("custos_padrao or custodia_debenture is required"))
		return
	}

	n, err := h.catalog.ImportFile(r.Context(), GetTenantID(r.Context()), &f)
	if err != nil {
		writeError(w, "import catalog", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"imported": n,
		"custody":  len(f.Custody),
	})
}

// ListCustody handles GET /catalog/custody.
func (h *Handler) ListCustody(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}

	brackets, err := h.catalog.CustodyTable(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, "list custody table", err)
		return
	}
	if brackets == nil {
		brackets = []domain.CustodyBracket{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"brackets": brackets,
		"count":    len(brackets),
	})
}

// ReplaceCustodyRequest is the body of POST /catalog/custody. A null
// maxValue marks the open-ended top bracket.
type ReplaceCustodyRequest struct {
	Brackets []domain.CustodyBracket `json:"brackets"`
}

// ReplaceCustody handles POST /catalog/custody.
func (h *Handler) ReplaceCustody(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}

	var req ReplaceCustodyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.catalog.ReplaceCustody(r.Context(), GetTenantID(r.Context()), req.Brackets); err != nil {
		writeError(w, "replace custody table", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"brackets": req.Brackets,
		"count":    len(req.Brackets),
	})
}
