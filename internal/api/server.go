// Package api provides the backup service admin REST API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/photovault/internal/api/handler"
	mw "github.com/edvin/photovault/internal/api/middleware"
	"github.com/edvin/photovault/internal/config"
	"github.com/edvin/photovault/internal/core"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	engine   handler.BackupEngine
	cfg      *config.Config

	// defaultRetentionDays seeds cleanup requests that omit their own.
	defaultRetentionDays int
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, engine handler.BackupEngine, defaultRetentionDays int, cfg *config.Config) *Server {
	s := &Server{
		router:               chi.NewRouter(),
		logger:               logger,
		services:             core.NewServices(pool),
		pool:                 pool,
		engine:               engine,
		cfg:                  cfg,
		defaultRetentionDays: defaultRetentionDays,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		backup := handler.NewBackup(s.engine, s.services.BackupRun, s.defaultRetentionDays)
		r.Post("/backup/run", backup.Trigger)
		r.Get("/backup/status", backup.Status)
		r.Get("/backup/runs", backup.ListRuns)
		r.Get("/backup/runs/{id}", backup.GetRun)
		r.Get("/backup/runs/{id}/manifest", backup.GetManifest)
		r.Post("/backup/validate", backup.Validate)
		r.Post("/backup/cleanup", backup.Cleanup)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
