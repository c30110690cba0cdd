// Package web serves the status API: health, run history, dataset listing
// and a trigger for manual runs.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/propstage/internal/pipeline"
	webmw "github.com/JonMunkholm/propstage/internal/web/middleware"
)

// Schedules lists cron entries. *pipeline.Scheduler satisfies it.
type Schedules interface {
	Entries() []pipeline.ScheduledJob
}

// Options wires the server to the pipeline.
type Options struct {
	Runner     pipeline.JobRunner
	History    pipeline.HistoryStore
	Limiter    *pipeline.RunLimiter // optional, reported by /api/status
	Schedules  Schedules            // optional
	DefaultJob pipeline.Job         // fills fields a trigger request omits
	Ping       func(context.Context) error

	TrustedProxies []string
	APIKeys        []string // empty leaves POST routes open

	Logger *slog.Logger
}

// Server is the HTTP status server.
type Server struct {
	opts   Options
	logger *slog.Logger
	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server with its routes installed.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:   opts,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(webmw.Logger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/datasets", s.handleListDatasets)
		r.Get("/schedules", s.handleListSchedules)
		r.Get("/runs", s.handleListRuns)

		r.With(webmw.APIKeyAuth(s.opts.APIKeys)).Post("/runs", s.handleTriggerRun)
	})
}

// Start listens on addr until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *Server) Start(addr string, readTimeout, writeTimeout, idleTimeout time.Duration) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	s.logger.Info("status server listening", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
