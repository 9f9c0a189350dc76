// Kestrel - Deduction screening that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Threshold catalog. Community serves the seeded in-memory table with
	// API reload; Pro reads live from the database through the cache.
	var (
		engineCatalog domain.Catalog
		staticCatalog *catalog.Static
	)
	if cfg.Tier == domain.TierPro {
		engineCatalog = catalog.NewCached(catalog.NewSQL(repo, logger), cacheImpl, 5*time.Minute, logger)
		slog.Info("catalog initialized", "mode", "sql+cache")
	} else {
		staticCatalog = catalog.NewSeeded()
		engineCatalog = staticCatalog
		slog.Info("catalog initialized", "mode", "seeded")
	}

	// Initialize policy engine and load rules from the database. All rules
	// are configured via POST /policies - no hardcoded defaults.
	policies, err := policy.NewEngine()
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	if err := loadPoliciesFromDatabase(ctx, repo, policies); err != nil {
		slog.Error("failed to load policy rules", "error", err)
		os.Exit(1)
	}
	slog.Info("policy engine initialized", "rules_count", policies.RulesCount())

	// Audit recorder with a daily retention sweep.
	recorder := audit.New(repo, cfg.Screening.RetainAlertsForYears, logger)
	go recorder.RunSweeper(ctx, domain.DefaultTenant, 24*time.Hour)
	slog.Info("audit recorder initialized", "retain_years", cfg.Screening.RetainAlertsForYears)

	// Scoring engine.
	eng := engine.New(cfg.Screening, engineCatalog, policies, recorder, logger)
	slog.Info("scoring engine initialized")

	// Async worker (Pro tier, or forced via environment).
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, eng)

		tenantIDs := []string{domain.DefaultTenant}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// HTTP server.
	handler := api.NewHandler(repo, cacheImpl, busImpl, eng, policies, staticCatalog, recorder, Version)
	srv := api.NewServer(cfg.Server, handler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

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

// loadPoliciesFromDatabase loads policy rules for the default tenant into
// the engine. Missing rules are not fatal; they can be added via the API.
func loadPoliciesFromDatabase(ctx context.Context, repo domain.Repository, policies *policy.Engine) error {
	rules, err := repo.ListPolicyRules(ctx, domain.DefaultTenant)
	if err != nil {
		slog.Warn("failed to list policy rules from database", "error", err)
		return nil
	}

	if len(rules) > 0 {
		slog.Info("loading policy rules from database", "count", len(rules))
		return policies.Reload(rules)
	}

	slog.Info("no policy rules in database - configure via POST /policies API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +------------------------------------------+")
	fmt.Println("  |                KESTREL                   |")
	fmt.Println("  |      Deduction Screening Engine          |")
	fmt.Println("  |    Every claim checked before it lands.  |")
	fmt.Println("  +------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /check              - Score a transaction")
	fmt.Println("    POST /check/batch        - Score a batch of transactions")
	fmt.Println("    GET  /checks/{id}        - Get a check result by ID")
	fmt.Println("    GET  /alerts             - List alerts (?state=pending)")
	fmt.Println("    GET  /alerts/{id}        - Get an alert by ID")
	fmt.Println("    POST /alerts/{id}/review - Review a pending alert")
	fmt.Println("    GET  /thresholds         - List threshold configs")
	fmt.Println("    POST /thresholds         - Create a threshold config")
	fmt.Println("    POST /thresholds/reload  - Hot-reload the catalog")
	fmt.Println("    GET  /policies           - List policy rules")
	fmt.Println("    POST /policies           - Create a policy rule")
	fmt.Println("    POST /policies/reload    - Hot-reload policy rules")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println()
}
