// Package server implements the gostudio HTTP facade: job submission and
// status, the merged generation feed, and the operational endpoints
// (health probes, version, optional admin signals).
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/gostudio/internal/errors"
	"github.com/3leaps/gostudio/internal/server/handlers"
	"github.com/3leaps/gostudio/internal/server/middleware"
)

// Default timeouts, overridable through WithTimeouts.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Server hosts the gostudio HTTP API.
type Server struct {
	host   string
	port   int
	router chi.Router
	http   *http.Server
	logger *zap.Logger

	feed handlers.FeedProvider
	jobs *handlers.JobsHandler

	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	draining atomic.Bool
}

// Option customizes a Server before its routes are built.
type Option func(*Server)

// WithLogger sets the access and lifecycle logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeouts overrides the HTTP server timeouts. Zero values keep the
// defaults.
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// WithIdleTimeout overrides the keep-alive idle timeout. Zero keeps the
// default.
func WithIdleTimeout(idle time.Duration) Option {
	return func(s *Server) {
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// WithFeed mounts GET /api/v1/feed over the given provider.
func WithFeed(p handlers.FeedProvider) Option {
	return func(s *Server) { s.feed = p }
}

// WithJobs mounts the job submission and status endpoints.
func WithJobs(h *handlers.JobsHandler) Option {
	return func(s *Server) { s.jobs = h }
}

// New creates a server bound to host:port. Port 0 asks the OS for a free
// port; Port() reflects the assigned one after Start.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:            host,
		port:            port,
		logger:          zap.NewNop(),
		readTimeout:     DefaultReadTimeout,
		writeTimeout:    DefaultWriteTimeout,
		idleTimeout:     DefaultIdleTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port, or the assigned one once the
// listener is open.
func (s *Server) Port() int { return s.port }

// Draining reports whether an admin drain signal is in effect.
func (s *Server) Draining() bool { return s.draining.Load() }

func (s *Server) setDraining(v bool) { s.draining.Store(v) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestLogger(s.logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("resource not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("method not allowed"))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	jobs := s.jobs
	if jobs == nil {
		jobs = handlers.NewJobsHandler(handlers.JobsConfig{})
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/feed", handlers.NewFeedHandler(s.feed))
		r.Post("/jobs", jobs.SubmitHandler)
		r.Get("/jobs/{prompt_id}", jobs.StatusHandler)
	})

	s.registerAdminEndpoint(r)

	return r
}

// Start opens the listener and serves until ctx is canceled or the
// server fails. Cancellation triggers a graceful shutdown bounded by the
// shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcp.Port
	}

	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("server shutting down")
	return s.http.Shutdown(ctx)
}
