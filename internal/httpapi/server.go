// Package httpapi is the thin transport adapter that exposes the command
// surface (refresh, fetchHistorical, getAudit, getValidationReports,
// getSignalReadiness, getWorkflowExecutions, getWorkflowSummary,
// getDataSourceConfig) over HTTP. It carries no business logic of its own —
// every handler validates its inputs and calls straight into the core
// packages.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/config"
	"github.com/quantloop/refreshengine/internal/provider"
	"github.com/quantloop/refreshengine/internal/readiness"
	"github.com/quantloop/refreshengine/internal/refresh"
	"github.com/quantloop/refreshengine/internal/repository"
	"github.com/quantloop/refreshengine/internal/workflow"
)

// Config holds everything the server needs to wire its routes.
type Config struct {
	Log      zerolog.Logger
	Cfg      *config.Config
	Repo     *repository.Repository
	Manager  *refresh.Manager
	Orch     *workflow.Orchestrator
	Gate     *readiness.Gate
	Registry *provider.Registry
	Port     int
	DevMode  bool
}

// Server is the HTTP command surface.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New builds a Server with routes mounted and ready to Start.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "httpapi").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)
	h := &handlers{
		log:      s.log,
		cfg:      cfg.Cfg,
		repo:     cfg.Repo,
		manager:  cfg.Manager,
		orch:     cfg.Orch,
		gate:     cfg.Gate,
		registry: cfg.Registry,
	}
	s.setupRoutes(h)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes(h *handlers) {
	s.router.Get("/health", h.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/refresh", h.handleRefresh)
		r.Post("/fetch-historical", h.handleFetchHistorical)
		r.Get("/audit", h.handleGetAudit)
		r.Get("/validation-reports", h.handleGetValidationReports)
		r.Get("/signal-readiness", h.handleGetSignalReadiness)
		r.Get("/workflows", h.handleGetWorkflowExecutions)
		r.Get("/workflows/{workflowID}", h.handleGetWorkflowSummary)
		r.Get("/data-source-config", h.handleGetDataSourceConfig)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Start runs the HTTP server until it returns an error (http.ErrServerClosed
// on graceful shutdown).
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting http server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}
