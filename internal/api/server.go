// Package api exposes the follow-up engine and campaign runner over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/confra/outreach/internal/campaign"
	"github.com/confra/outreach/internal/config"
	"github.com/confra/outreach/internal/followup"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	engine     *followup.Engine
	jobs       followup.Repository
	campaigns  campaign.Repository
	runner     *campaign.Runner
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server. Extra middlewares (e.g. metrics
// instrumentation) run after the built-in ones.
func NewServer(engine *followup.Engine, jobs followup.Repository, campaigns campaign.Repository,
	runner *campaign.Runner, cfg *config.APIConfig, logger *slog.Logger,
	middlewares ...func(http.Handler) http.Handler) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		jobs:      jobs,
		campaigns: campaigns,
		runner:    runner,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes(middlewares)
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(extra []func(http.Handler) http.Handler) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	for _, mw := range extra {
		s.router.Use(mw)
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/stats", s.handleJobStats)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/pause", s.handlePauseJob)
		r.Post("/jobs/{id}/resume", s.handleResumeJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns", s.handleListCampaigns)
		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Post("/campaigns/{id}/start", s.handleStartCampaign)
	})
}

// Handler returns the configured router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
