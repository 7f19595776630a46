package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/quote"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// maxBodyBytes caps request bodies; catalog imports are the largest.
const maxBodyBytes = 8 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	catalog *catalog.Service
	engine  *rules.Engine
	builder *quote.Builder
	version string
}

// NewHandler creates a new API handler. Any dependency may be nil; the
// routes that need it answer 503.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, catalogSvc *catalog.Service, engine *rules.Engine, version string) *Handler {
	if catalogSvc == nil && repo != nil {
		catalogSvc = catalog.NewService(repo, cache, 0)
	}

	var reviewer quote.Reviewer
	if engine != nil {
		reviewer = engine
	}
	var source quote.CatalogSource
	if catalogSvc != nil {
		source = catalogSvc
	}

	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		catalog: catalogSvc,
		engine:  engine,
		builder: quote.NewBuilder(source, reviewer),
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check event bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.catalog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorBody("request body is required"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
		return false
	}
	return true
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, quote.ErrInvalidRequest),
		errors.Is(err, catalog.ErrInvalidRecord),
		errors.Is(err, catalog.ErrInvalidCombination),
		errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, quote.ErrCostNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(op+" failed"))
	}
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return false
	}
	return true
}

func (h *Handler) requireCatalog(w http.ResponseWriter) bool {
	if h.catalog == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("catalog not available"))
		return false
	}
	return true
}
