// Package main is the entrypoint for the Storymill API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storymill/storymill/internal/api"
	"github.com/storymill/storymill/internal/api/handler"
	mw "github.com/storymill/storymill/internal/api/middleware"
	"github.com/storymill/storymill/internal/api/response"
	"github.com/storymill/storymill/internal/cache"
	"github.com/storymill/storymill/internal/cluster"
	"github.com/storymill/storymill/internal/codeexplore"
	"github.com/storymill/storymill/internal/config"
	"github.com/storymill/storymill/internal/gate"
	"github.com/storymill/storymill/internal/pipeline"
	"github.com/storymill/storymill/internal/review"
	"github.com/storymill/storymill/internal/source"
	"github.com/storymill/storymill/internal/store"
	"github.com/storymill/storymill/internal/synthesis"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env,
		"review_enabled", cfg.Pipeline.ReviewEnabled,
		"code_context_enabled", cfg.Explorer.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store
	pgStore := store.NewPostgresStore(pool)

	// 6. Assemble the pipeline
	intake := source.NewHTTPClient(cfg.Intake.BaseURL, cfg.Intake.APIKey, cfg.Intake.Timeout)

	var explorer synthesis.Explorer
	if cfg.Explorer.Enabled {
		explorer = codeexplore.NewHTTPClient(cfg.Explorer.BaseURL, cfg.Explorer.Timeout)
	}

	var detector review.CauseDetector = &review.KeywordDetector{MinOverlap: cfg.Pipeline.ReviewMinOverlap}
	if !cfg.Pipeline.ReviewEnabled {
		detector = review.PassDetector{}
	}
	reviewGate := review.NewGate(detector)
	slog.Info("review gate ready", "detector", reviewGate.DetectorName())

	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Source:   intake,
		Strategy: cluster.NewBuilder(cfg.Pipeline.SimilarityThreshold),
		GateConfig: gate.Config{
			MinConfidence:         cfg.Pipeline.MinConfidence,
			DropRateWarnThreshold: cfg.Pipeline.DropRateWarnThreshold,
		},
		ReviewGate:  reviewGate,
		Synthesizer: synthesis.NewSynthesizer(explorer),
		Store:       pgStore,
		Cache:       redisCache,
		Config: pipeline.Config{
			FetchPageSize:    cfg.Intake.PageSize,
			FetchConcurrency: cfg.Intake.Concurrency,
		},
	})

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:      healthHandler(pgStore, redisCache),
		StartRunHandler:    handler.NewStartRunHandler(orchestrator),
		RunStatusHandler:   handler.NewRunStatusHandler(orchestrator),
		StopRunHandler:     handler.NewStopRunHandler(orchestrator),
		ListRunsHandler:    handler.NewListRunsHandler(pgStore),
		ListStoriesHandler: handler.NewListStoriesHandler(pgStore),
		GetStoryHandler:    handler.NewGetStoryHandler(pgStore),
		StoryStatusHandler: handler.NewStoryStatusHandler(pgStore),
		CreateKeyHandler:   handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:    handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:   handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
