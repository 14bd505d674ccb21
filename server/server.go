// Package server provides the HTTP control API for a scheduled batch.
//
// # Endpoints
//
//   - GET /health - Simple health check, returns "ok"
//   - GET /metrics - Prometheus metrics
//   - GET /api/status - Run status, next scheduled run and whether the batch is installed
//   - POST /run - Triggers a pass; body {"force": bool, "select": "Script:1,Database"}
//   - GET /history - Summaries of recorded passes, most recent first
//   - GET /history/{id} - One recorded pass with outcomes and step logs
//   - POST /reload - Re-reads the run history from disk
//
// Passes started over HTTP and by the cron trigger go through the same
// schedule.Runner, so at most one runs at a time.
//
// # Example
//
//	srv, err := server.New(in, server.WithCron("0 2 * * *"), server.WithListenAddr(":9090"))
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/battis/batch-action/installer"
	"github.com/battis/batch-action/schedule"
	"github.com/battis/batch-action/server/handlers"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultListenAddr      = ":8080"
)

// Server is the HTTP server for a scheduled batch.
type Server struct {
	addr        string
	logger      *slog.Logger
	installer   *installer.Installer
	runner      *schedule.Runner
	metrics     http.Handler
	cronSpec    string
	cronTrigger *schedule.Trigger
	runAtStart  bool
	httpServer  *http.Server
}

// Option configures a Server.
type Option func(*Server) error

// WithCron configures the server to run non-forced passes on a cron schedule.
// The spec follows standard cron format (5 fields: minute, hour, day, month, weekday).
func WithCron(spec string) Option {
	return func(s *Server) error {
		if _, err := schedule.ParseSpec(spec); err != nil {
			return fmt.Errorf("creating cron trigger: %w", err)
		}
		s.cronSpec = spec
		return nil
	}
}

// WithListenAddr configures the address the server listens on.
// Default is ":8080".
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.addr = addr
		return nil
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) error {
		s.metrics = h
		return nil
	}
}

// WithRunAtStart runs a non-forced pass when the server starts.
func WithRunAtStart() Option {
	return func(s *Server) error {
		s.runAtStart = true
		return nil
	}
}

// New creates a Server for the installer's batch.
func New(in *installer.Installer, opts ...Option) (*Server, error) {
	s := &Server{
		addr:      defaultListenAddr,
		logger:    slog.Default(),
		installer: in,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "server")
	s.runner = schedule.NewRunner(in.Manager, in.History, s.logger)

	if s.cronSpec != "" {
		trigger, err := schedule.NewTrigger(s.cronSpec, s.runner.Scheduled(), s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating cron trigger: %w", err)
		}
		s.cronTrigger = trigger
	}
	return s, nil
}

// Runner returns the runner shared by HTTP requests and the cron trigger.
func (s *Server) Runner() *schedule.Runner {
	return s.runner
}

// NextRun returns the next scheduled pass, or nil without a cron trigger.
func (s *Server) NextRun() *time.Time {
	if s.cronTrigger == nil {
		return nil
	}
	next := s.cronTrigger.NextRun()
	return &next
}

// Status returns the runner status.
func (s *Server) Status() schedule.RunStatus {
	return s.runner.Status()
}

// HasRun reports whether the batch is installed.
func (s *Server) HasRun() (bool, error) {
	return s.installer.Manager.HasRun()
}

// StepStatuses returns what each step of the current or latest pass is doing.
func (s *Server) StepStatuses() map[string]string {
	return s.installer.Status.All()
}

// Handler returns the routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done and waits for a
// pass in progress to finish.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
	defer s.runner.Wait()

	if s.runAtStart {
		if err := s.runner.Start(ctx, false, nil); err != nil {
			s.logger.Warn("failed to start initial run", "error", err)
		}
	}

	// Start cron trigger if configured
	if s.cronTrigger != nil {
		s.logger.Info("starting cron trigger",
			"schedule", s.cronTrigger.Spec(),
			"next_run", s.cronTrigger.NextRun(),
		)
		s.cronTrigger.Start(ctx)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	historyHandler := handlers.NewHistoryHandler(s.installer.History)
	recordHandler := handlers.NewRecordHandler(s.installer.History)
	reloadHandler := handlers.NewReloadHandler(s.logger, s.installer.History)
	runHandler := handlers.NewRunHandler(s.runner)
	statusHandler := handlers.NewStatusHandler(s)

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.Handle("GET /api/status", statusHandler)
	mux.Handle("POST /run", runHandler)
	mux.Handle("GET /history", historyHandler)
	mux.Handle("GET /history/{id}", recordHandler)
	mux.Handle("POST /reload", reloadHandler)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}
