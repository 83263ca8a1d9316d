// Lendmatch - Lender eligibility scoring for loan intermediaries.
// Copyright (c) 2025 LoanBridge
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

	"github.com/loanbridge/lendmatch/internal/api"
	"github.com/loanbridge/lendmatch/internal/bus"
	"github.com/loanbridge/lendmatch/internal/cache"
	"github.com/loanbridge/lendmatch/internal/catalog"
	"github.com/loanbridge/lendmatch/internal/domain"
	"github.com/loanbridge/lendmatch/internal/engine"
	"github.com/loanbridge/lendmatch/internal/repository"
	"github.com/loanbridge/lendmatch/internal/worker"
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
	if os.Getenv("LENDMATCH_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting lendmatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("LENDMATCH_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"missing_data_policy", cfg.Engine.MissingDataPolicy,
		"missing_score_policy", cfg.Engine.MissingScorePolicy,
	)

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

	// Initialize Catalog Service (cached lender policy access)
	catalogSvc := catalog.NewService(repo, cacheImpl, cfg.Cache.LocalTTL)
	slog.Info("catalog service initialized", "ttl", cfg.Cache.LocalTTL)

	// Initialize Eligibility Engine
	eng := engine.New(engine.Config{
		MaxWorkers:   cfg.Engine.MaxWorkers,
		MissingData:  engine.MissingDataPolicy(cfg.Engine.MissingDataPolicy),
		MissingScore: engine.MissingScorePolicy(cfg.Engine.MissingScorePolicy),
	})
	slog.Info("eligibility engine initialized",
		"version", engine.EngineVersion,
		"max_workers", cfg.Engine.MaxWorkers,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("LENDMATCH_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, catalogSvc, eng)

		// Tenants to process, comma separated. Empty means one global
		// subscription.
		var tenantIDs []string
		if envTenants := os.Getenv("LENDMATCH_TENANTS"); envTenants != "" {
			for _, id := range strings.Split(envTenants, ",") {
				if id = strings.TrimSpace(id); id != "" {
					tenantIDs = append(tenantIDs, id)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, catalogSvc, eng, cfg.Engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("lendmatch is ready",
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

	slog.Info("lendmatch shutdown complete")
}

// applyEnvOverrides lets single settings be tuned without a full config file.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("LENDMATCH_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("LENDMATCH_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("LENDMATCH_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("LENDMATCH_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("LENDMATCH_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("LENDMATCH_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("LENDMATCH_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("LENDMATCH_MISSING_DATA_POLICY"); v != "" {
		cfg.Engine.MissingDataPolicy = v
	}
	if v := os.Getenv("LENDMATCH_MISSING_SCORE_POLICY"); v != "" {
		cfg.Engine.MissingScorePolicy = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                 LENDMATCH")
	fmt.Println("       Lender Eligibility Scoring Engine")
	fmt.Println("       Every case, every lender, ranked.")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                    - Score a case against the catalog")
	fmt.Println("    GET  /runs/{id}                - Get a run by ID")
	fmt.Println("    GET  /cases/{caseID}/runs      - Run history for a case")
	fmt.Println("    PUT  /borrowers/{caseID}       - Upsert a borrower profile")
	fmt.Println("    GET  /borrowers/{caseID}       - Get a borrower profile")
	fmt.Println("    GET  /lenders                  - List lender products")
	fmt.Println("    POST /lenders                  - Create a lender product")
	fmt.Println("    GET  /lenders/{id}             - Get a lender product")
	fmt.Println("    PUT  /lenders/{id}/pincodes    - Replace a serviceability set")
	fmt.Println("    POST /lenders/reload           - Hot-reload the lender catalog")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
