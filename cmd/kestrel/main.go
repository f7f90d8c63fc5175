// Kestrel - Weighted symptom diagnosis engine.
// Copyright (c) 2025 opensource.health
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-health/kestrel/internal/api"
	"github.com/opensource-health/kestrel/internal/bus"
	"github.com/opensource-health/kestrel/internal/cache"
	"github.com/opensource-health/kestrel/internal/catalog"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/engine"
	"github.com/opensource-health/kestrel/internal/intake"
	"github.com/opensource-health/kestrel/internal/report"
	"github.com/opensource-health/kestrel/internal/repository"
	"github.com/opensource-health/kestrel/internal/rulebase"
	"github.com/opensource-health/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}
	envErr := cfg.ApplyEnv(os.LookupEnv)

	setupLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	if envErr != nil {
		slog.Error("invalid environment configuration", "error", envErr)
		os.Exit(1)
	}

	thresholds := engine.ThresholdsFromConfig(cfg.Classification)
	if err := thresholds.Validate(); err != nil {
		slog.Error("invalid classification thresholds", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"threshold_high", thresholds.High,
		"threshold_medium", thresholds.Medium,
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

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	catalogues := catalog.NewService(repo, cacheImpl, busImpl, cfg.Cache.CatalogueTTL)
	if err := loadCatalogues(ctx, catalogues, cfg.Catalogue); err != nil {
		slog.Error("failed to load catalogues", "error", err)
		os.Exit(1)
	}
	if err := catalogues.Watch(ctx); err != nil {
		slog.Error("failed to watch catalogue updates", "error", err)
		os.Exit(1)
	}
	defer catalogues.Close()

	deriver, err := intake.NewDeriver(intake.ProbesFromConfig(cfg.Probes))
	if err != nil {
		slog.Error("failed to compile measurement probes", "error", err)
		os.Exit(1)
	}
	slog.Info("measurement probes compiled", "probes", deriver.Len())

	processor := report.NewProcessor()
	processor.Thresholds = thresholds

	diagnoser := catalog.NewDiagnoser(catalogues, deriver, processor)

	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, diagnoser)

		scopes := []string{}
		if cats, err := catalogues.List(ctx); err == nil {
			for _, c := range cats {
				scopes = append(scopes, c.ID)
			}
		}

		if err := asyncWorker.Start(worker.Config{Scopes: scopes}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "scope_count", len(scopes))
		}
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, diagnoser, Version)

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

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadCatalogues seeds the built-in catalogue and loads the configured file.
// A catalogue file replaces the stored conditions of the default catalogue.
func loadCatalogues(ctx context.Context, svc *catalog.Service, cfg domain.CatalogueConfig) error {
	if cfg.SeedBuiltin {
		seeded, err := svc.Seed(ctx, domain.DefaultCatalogue, rulebase.RespiratoryConditions())
		if err != nil {
			return fmt.Errorf("seed built-in catalogue: %w", err)
		}
		if seeded {
			slog.Info("built-in catalogue seeded", "catalogue_id", domain.DefaultCatalogue)
		}
	}

	if cfg.File != "" {
		rb, err := rulebase.LoadFile(cfg.File)
		if err != nil {
			return fmt.Errorf("catalogue file %s: %w", cfg.File, err)
		}
		cat, err := svc.Put(ctx, cfg.Default, rb.Conditions())
		if err != nil {
			return err
		}
		slog.Info("catalogue file loaded",
			"catalogue_id", cat.ID,
			"version", cat.Version,
			"path", cfg.File,
		)
	}

	if _, err := svc.RuleBase(ctx, cfg.Default); err != nil {
		slog.Warn("default catalogue not available - configure via PUT /catalogues/{catalogue}",
			"catalogue_id", cfg.Default,
			"error", err,
		)
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║     Weighted Symptom Diagnosis Engine     ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:    %s\n", version)
	fmt.Printf("  Tier:       %s\n", cfg.Tier)
	fmt.Printf("  Catalogue:  %s\n", cfg.Catalogue.Default)
	fmt.Printf("  Server:     http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET    /catalogues                  - List catalogues")
	fmt.Println("    GET    /catalogues/{id}             - Get catalogue conditions")
	fmt.Println("    PUT    /catalogues/{id}             - Replace catalogue conditions")
	fmt.Println("    DELETE /catalogues/{id}             - Delete a catalogue")
	fmt.Println("    GET    /catalogues/{id}/symptoms    - List symptoms to ask about")
	fmt.Println("    POST   /catalogues/{id}/diagnose    - Rank conditions for answers")
	fmt.Println("    POST   /catalogues/{id}/explain     - Explain one condition")
	fmt.Println("    POST   /catalogues/{id}/reload      - Rebuild the rule base")
	fmt.Println("    GET    /health                      - Health check")
	fmt.Println()
}
