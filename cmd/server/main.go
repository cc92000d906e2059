// Package main is the entrypoint for the BeVisible pipeline server: the
// HTTP API, the job processor, and the nightly planner run in one process.
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

	"github.com/Korner-san/bevisible/internal/ai"
	"github.com/Korner-san/bevisible/internal/api"
	"github.com/Korner-san/bevisible/internal/api/handler"
	mw "github.com/Korner-san/bevisible/internal/api/middleware"
	"github.com/Korner-san/bevisible/internal/automation"
	"github.com/Korner-san/bevisible/internal/batch"
	"github.com/Korner-san/bevisible/internal/cache"
	"github.com/Korner-san/bevisible/internal/config"
	"github.com/Korner-san/bevisible/internal/fetch"
	"github.com/Korner-san/bevisible/internal/mentions"
	"github.com/Korner-san/bevisible/internal/pipeline"
	"github.com/Korner-san/bevisible/internal/scheduler"
	"github.com/Korner-san/bevisible/internal/stages"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
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
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

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

	// 5. Create the classification provider
	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", provider.Name())

	// 6. Create store and domain services
	pgStore := store.NewPostgresStore(pool)

	capacity := scheduler.New(pgStore, redisCache, cfg.Capacity, slog.Default())
	session := automation.NewChromeSession(cfg.Automation, slog.Default())
	fetcher := fetch.NewHTTPFetcher(nil)
	planner := batch.New(pgStore, cfg.Batch, slog.Default())

	// 7. Build the pipeline: one executor per stage
	processor := pipeline.NewProcessor(pgStore, cfg.Pipeline, slog.Default())
	processor.Register(stages.NewQueryStage(pgStore, capacity, session, func(b *models.Brand) stages.BrandCounter {
		return mentions.ForBrand(b)
	}, slog.Default()))
	processor.Register(stages.NewClassifyStage(pgStore, provider, cfg.AI.InferenceTimeout, slog.Default()))
	processor.Register(stages.NewExtractStage(pgStore, fetcher, slog.Default()))

	go processor.Run(ctx)
	slog.Info("job processor running", "poll_interval", cfg.Pipeline.PollInterval)

	// 8. Start the nightly planner
	if err := planner.Start(ctx); err != nil {
		return fmt.Errorf("start planner: %w", err)
	}
	defer planner.Stop()

	// 9. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		CreateReport:   handler.NewCreateReportHandler(planner),
		GetReport:      handler.NewGetReportHandler(pgStore, redisCache),
		ListReports:    handler.NewListReportsHandler(pgStore),
		ListReportJobs: handler.NewListReportJobsHandler(pgStore),

		StartOnboarding: handler.NewStartOnboardingHandler(pgStore, planner),
		GetCapacity:     handler.NewCapacityHandler(capacity),

		ListAccounts:  handler.NewListAccountsHandler(pgStore),
		UpdateAccount: handler.NewUpdateAccountHandler(pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
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
