package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confra/outreach/internal/api"
	"github.com/confra/outreach/internal/campaign"
	"github.com/confra/outreach/internal/config"
	"github.com/confra/outreach/internal/followup"
	"github.com/confra/outreach/internal/mailer"
	"github.com/confra/outreach/internal/metrics"
	"github.com/confra/outreach/internal/store"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *store.Store
	engine        *followup.Engine
	cleaner       *followup.Cleaner
	runner        *campaign.Runner
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	selector := mailer.NewSelector(st)
	sender := mailer.NewSMTPSender(cfg.Server.Hostname, cfg.Mailer.Timeout,
		logger.With("component", "mailer"))

	engine := followup.NewEngine(st, st, st, st, selector, sender,
		followup.Config{
			TickInterval: cfg.Engine.TickInterval,
			Concurrency:  cfg.Engine.Concurrency,
			SendTimeout:  cfg.Engine.SendTimeout,
			SendRetries:  cfg.Engine.SendRetries,
			RetryBackoff: cfg.Engine.RetryBackoff,
		},
		logger.With("component", "engine"))

	var cleaner *followup.Cleaner
	if cfg.Storage.Retention != nil {
		cleaner = followup.NewCleaner(st, followup.CleanerConfig{
			MaxAge:   cfg.Storage.Retention.MaxAge,
			Interval: cfg.Storage.Retention.CleanupInterval,
		}, logger.With("component", "cleaner"))
	}

	runner := campaign.NewRunner(st, st, st, selector, sender,
		logger.With("component", "campaign"))

	var metricsServer *metrics.Server
	var collector *metrics.Collector
	var apiMiddleware []func(http.Handler) http.Handler
	if cfg.Metrics.Enabled {
		m := metrics.New()
		engine.SetObserver(metrics.NewEngineObserver(m))
		runner.SetObserver(metrics.NewCampaignObserver(m))
		collector = metrics.NewCollector(m, st, cfg.Storage.Path, cfg.Metrics.RefreshInterval)
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		apiMiddleware = append(apiMiddleware, metrics.HTTPMiddleware(m))
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr)
	}

	apiServer := api.NewServer(engine, st, st, runner, &cfg.API,
		logger.With("component", "api"), apiMiddleware...)

	return &App{
		config:        cfg,
		store:         st,
		engine:        engine,
		cleaner:       cleaner,
		runner:        runner,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		collector:     collector,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting outreach",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.engine.Start(ctx)
	if a.cleaner != nil {
		a.cleaner.Start(ctx)
	}
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop producing new sends before closing the outer surfaces.
	// Runner.Stop cancels throttled campaigns instead of waiting them out.
	a.engine.Stop()
	a.runner.Stop()

	if a.cleaner != nil {
		a.cleaner.Stop()
	}
	if a.collector != nil {
		a.collector.Stop()
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
