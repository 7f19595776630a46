// Kestrel - Fee quoting for structured-finance issuances.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/quote"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(config.Options{File: *configFile})
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(config.NewLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Catalog
	catalogSvc := catalog.NewService(repo, cacheImpl, cfg.Quoting.CatalogTTL)
	catalogSvc.SetEventBus(busImpl)

	if cfg.Quoting.CatalogFile != "" {
		if err := seedCatalog(ctx, catalogSvc, cfg.Quoting.CatalogFile, cfg.Quoting.DefaultTenant); err != nil {
			slog.Error("failed to import catalog file", "path", cfg.Quoting.CatalogFile, "error", err)
			os.Exit(1)
		}
	}

	// Review engine
	engine, err := rules.NewEngine(cfg.Quoting.ReviewConcurrency)
	if err != nil {
		slog.Error("failed to initialize review engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := loadRulesFromDatabase(ctx, repo, engine, cfg.Quoting.SeedDefaultRules); err != nil {
		slog.Error("failed to load review rules", "error", err)
		os.Exit(1)
	}
	slog.Info("review engine initialized", "rules_count", engine.RulesCount())

	// Async worker
	var asyncWorker *worker.Worker
	if cfg.Quoting.AsyncWorker {
		builder := quote.NewBuilder(catalogSvc, engine)
		asyncWorker = worker.NewWorker(busImpl, repo, builder, catalogSvc)

		tenantIDs := cfg.Quoting.WorkerTenants()
		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, catalogSvc, engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRulesFromDatabase loads the global review rules into the engine.
// When none are stored and seeding is on, the built-in set is saved first.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine, seed bool) error {
	dbRules, err := repo.ListReviewRules(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list review rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) == 0 && seed {
		dbRules = rules.DefaultRules()
		for _, rule := range dbRules {
			rule.TenantID = api.GlobalTenantID
			if err := repo.SaveReviewRule(ctx, api.GlobalTenantID, rule); err != nil {
				return fmt.Errorf("seed review rule %s: %w", rule.ID, err)
			}
		}
		slog.Info("seeded default review rules", "count", len(dbRules))
	}

	if len(dbRules) == 0 {
		slog.Info("no review rules in database - configure via POST /review-rules API")
		return nil
	}

	slog.Info("loading review rules from database", "count", len(dbRules))
	return engine.ReloadRules(dbRules)
}

func seedCatalog(ctx context.Context, svc *catalog.Service, path, tenantID string) error {
	f, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	n, err := svc.ImportFile(ctx, tenantID, f)
	if err != nil {
		return err
	}
	slog.Info("catalog file imported",
		"path", path,
		"tenant_id", tenantID,
		"costs", n,
		"brackets", len(f.Custody),
	)
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║      Issuance Fee Quoting Engine          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /quotes                          - Build a quote")
	fmt.Println("    GET  /quotes/{id}                     - Get quote by ID")
	fmt.Println("    PUT  /quotes/{id}/costs/{costId}      - Override a cost line")
	fmt.Println("    GET  /quotes/{id}/export.xlsx|csv     - Export a quote")
	fmt.Println("    POST /issuances                       - Register an issuance")
	fmt.Println("    PUT  /issuances/{id}/status           - Move an issuance")
	fmt.Println("    GET  /catalog/costs                   - Look up catalog costs")
	fmt.Println("    POST /catalog/costs                   - Import a catalog")
	fmt.Println("    GET  /review-rules                    - List review rules")
	fmt.Println("    POST /review-rules/reload             - Hot-reload review rules")
	fmt.Println("    POST /totals                          - Aggregate cost buckets")
	fmt.Println("    POST /formula/parse                   - Preview a rate formula")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println()
}
