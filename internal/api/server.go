package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, catalogSvc *catalog.Service, engine *rules.Engine, version string) *Server {
	handler := NewHandler(repo, cache, bus, catalogSvc, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Stateless helpers
	router.Post("/totals", handler.ComputeTotals)
	router.Post("/formula/parse", handler.ParseFormula)

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Quotes
		r.Post("/quotes", handler.CreateQuote)
		r.Get("/quotes/{id}", handler.GetQuote)
		r.Put("/quotes/{id}/costs/{costId}", handler.OverrideCost)
		r.Get("/quotes/{id}/export.xlsx", handler.ExportQuote("xlsx"))
		r.Get("/quotes/{id}/export.csv", handler.ExportQuote("csv"))

		// Issuances
		r.Post("/issuances", handler.CreateIssuance)
		r.Get("/issuances/{id}", handler.GetIssuance)
		r.Put("/issuances/{id}/status", handler.UpdateIssuanceStatus)
		r.Get("/issuances/{id}/history", handler.IssuanceHistory)

		// Catalog
		r.Get("/catalog/costs", handler.ListCatalogCosts)
		r.Post("/catalog/costs", handler.ImportCatalog)
		r.Get("/catalog/custody", handler.ListCustody)
		r.Post("/catalog/custody", handler.ReplaceCustody)

		// Review rule management
		r.Get("/review-rules", handler.ListReviewRules)
		r.Get("/review-rules/{id}", handler.GetReviewRule)
		r.Post("/review-rules", handler.CreateReviewRule)
		r.Post("/review-rules/reload", handler.ReloadReviewRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
