// Package api provides the HTTP facade fronting the Policy Facade: one
// POST endpoint to evaluate a migration candidate, plus health/readiness
// probes, API-key auth, rate limiting, and CORS.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distrogate/autopkgtest-gate/internal/api/middleware"
	"github.com/distrogate/autopkgtest-gate/internal/policy"
)

// Server is the HTTP facade in front of one Policy Facade instance.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     ServerConfig
	startTime  time.Time
	facade     *policy.Facade
}

// NewServer wires the middleware chain (correlation ID, recovery, API-key
// auth, rate limiting, request logging, CORS) around the evaluate/health
// routes. facade must not be nil — a server with nothing to evaluate
// against is a configuration error.
func NewServer(cfg ServerConfig, facade *policy.Facade) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if facade == nil {
		panic("api: facade cannot be nil")
	}

	mux := http.NewServeMux()

	server := &Server{logger: logger, config: cfg, facade: facade}
	server.setupRoutes(mux)

	if cfg.APIKeyStore != nil { // pragma: allowlist secret
		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("APIKeyStore not configured - authentication disabled")
	}

	if cfg.RateLimiter != nil {
		logger.Info("rate limiting enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting disabled")
	}

	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuthPlugin(cfg.APIKeyStore, logger),
		middleware.WithRateLimit(cfg.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// ServeHTTP lets tests exercise the full middleware chain without binding
// a port.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting gate API server", slog.String("address", s.config.Address()))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if err := s.facade.Shutdown(); err != nil {
		s.logger.Error("facade shutdown failed", slog.String("error", err.Error()))
	}

	s.closeDependency("API key store", s.config.APIKeyStore)

	s.logger.Info("server shutdown completed")

	return nil
}

func (s *Server) closeDependency(name string, dep interface{}) {
	if dep == nil {
		return
	}

	closer, ok := dep.(io.Closer)
	if !ok {
		return
	}

	if err := closer.Close(); err != nil {
		s.logger.Error("failed to close "+name, slog.String("error", err.Error()))
	}
}
