// Package main is the entrypoint for the linesense API server.
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

	"github.com/kiranshivaraju/linesense/internal/account"
	"github.com/kiranshivaraju/linesense/internal/analysis"
	"github.com/kiranshivaraju/linesense/internal/api"
	"github.com/kiranshivaraju/linesense/internal/api/handler"
	mw "github.com/kiranshivaraju/linesense/internal/api/middleware"
	"github.com/kiranshivaraju/linesense/internal/auth"
	"github.com/kiranshivaraju/linesense/internal/cache"
	"github.com/kiranshivaraju/linesense/internal/config"
	"github.com/kiranshivaraju/linesense/internal/insights"
	"github.com/kiranshivaraju/linesense/internal/jobs"
	"github.com/kiranshivaraju/linesense/internal/notify"
	"github.com/kiranshivaraju/linesense/internal/processing"
	"github.com/kiranshivaraju/linesense/internal/store"
	"github.com/kiranshivaraju/linesense/internal/upload"
	"github.com/kiranshivaraju/linesense/pkg/models"
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

// services are the long-lived components the router is built from.
type services struct {
	store     store.Store
	cache     cache.Cache
	accounts  *account.Service
	jobs      *jobs.Service
	dashboard *insights.Dashboard
	history   *insights.History
	// probe is nil when the external analysis service is disabled.
	probe handler.AnalysisProbe
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"upload_backend", cfg.Upload.Backend,
		"use_analysis_service", cfg.Analysis.UseExternal,
	)

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

	// 5. Transient upload storage
	uploads, err := upload.New(ctx, cfg.Upload)
	if err != nil {
		return fmt.Errorf("create upload store: %w", err)
	}

	// 6. Analyzers and notifier
	var external models.Analyzer
	var probe handler.AnalysisProbe
	if cfg.Analysis.UseExternal {
		client, err := analysis.NewHTTPClient(cfg.Analysis)
		if err != nil {
			return fmt.Errorf("create analysis client: %w", err)
		}
		external, probe = client, client
		slog.Info("analysis service configured", "base_url", cfg.Analysis.BaseURL)
	}
	fallback := analysis.NewHeuristic(cfg.Analysis.ParallelWorkers, nil)

	notifier, err := notify.New(cfg.Email)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	// 7. Orchestrator; fail jobs a previous process left behind
	pgStore := store.NewPostgresStore(pool)
	proc := processing.NewService(pgStore, redisCache, uploads, external, fallback, notifier, processing.Policy{
		UseExternal:       cfg.Analysis.UseExternal,
		FallbackOnFailure: cfg.Analysis.FallbackOnFailure,
		NotifyOnFailure:   cfg.Email.NotifyOnFailure,
	})
	if _, err := proc.Reconcile(ctx, cfg.Processing.StaleAfter); err != nil {
		return err
	}

	// 8. Services and router
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	svcs := services{
		store: pgStore,
		cache: redisCache,
		accounts: account.NewService(pgStore, tokens, redisCache, account.Options{
			BcryptCost:      cfg.Auth.BcryptCost,
			AllowEmailReuse: cfg.Auth.AllowEmailReuse,
		}),
		jobs:      jobs.NewService(pgStore, redisCache, uploads, proc, cfg.Upload),
		dashboard: insights.NewDashboard(pgStore, redisCache, cfg.Redis.StatsCacheTTL),
		history:   insights.NewHistory(pgStore, redisCache),
		probe:     probe,
	}
	router := newRouter(cfg, svcs)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
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
	if err := proc.Wait(shutdownCtx); err != nil {
		slog.Warn("in-flight jobs still running at shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newRouter wires every handler to its service.
func newRouter(cfg *config.Config, s services) http.Handler {
	limits := handler.UploadLimits{MaxFileSize: cfg.Upload.MaxFileSize, MaxBatchFiles: cfg.Upload.MaxBatchFiles}

	return api.NewRouter(api.Dependencies{
		Auth:              mw.NewAuth(s.accounts),
		RateLimit:         mw.NewRateLimit(s.cache, cfg.Redis.RateLimitPerMinute),
		CORSOrigin:        cfg.Server.CORSOrigin,
		ExposeErrorDetail: !cfg.Server.IsProduction(),

		HealthHandler:         handler.NewHealthHandler(s.store, s.cache),
		AnalysisHealthHandler: handler.NewAnalysisHealthHandler(s.probe),

		RegisterHandler:       handler.NewRegisterHandler(s.accounts),
		LoginHandler:          handler.NewLoginHandler(s.accounts),
		LogoutHandler:         handler.NewLogoutHandler(s.accounts),
		MeHandler:             handler.NewMeHandler(s.accounts),
		UpdateProfileHandler:  handler.NewUpdateProfileHandler(s.accounts),
		ChangePasswordHandler: handler.NewChangePasswordHandler(s.accounts),
		DeleteAccountHandler:  handler.NewDeleteAccountHandler(s.accounts),
		ReactivateHandler:     handler.NewReactivateHandler(s.accounts),

		UploadHandler:       handler.NewUploadHandler(s.jobs, limits),
		BatchUploadHandler:  handler.NewBatchUploadHandler(s.jobs, limits),
		ProcessTextHandler:  handler.NewProcessTextHandler(s.jobs, limits),
		JobStatusHandler:    handler.NewJobStatusHandler(s.jobs),
		JobResultsHandler:   handler.NewJobResultsHandler(s.jobs),
		CancelJobHandler:    handler.NewCancelJobHandler(s.jobs),
		BatchStatusHandler:  handler.NewBatchStatusHandler(s.jobs),
		BatchResultsHandler: handler.NewBatchResultsHandler(s.jobs),

		DashboardStatsHandler: handler.NewDashboardStatsHandler(s.dashboard),
		RecentJobsHandler:     handler.NewRecentJobsHandler(s.dashboard),
		QuickStatsHandler:     handler.NewQuickStatsHandler(s.dashboard),

		HistoryListHandler:   handler.NewHistoryListHandler(s.history),
		HistorySearchHandler: handler.NewHistorySearchHandler(s.history),
		HistoryDetailHandler: handler.NewHistoryDetailHandler(s.history),
		HistoryDeleteHandler: handler.NewHistoryDeleteHandler(s.history),
		HistoryExportHandler: handler.NewHistoryExportHandler(s.history),
	})
}
