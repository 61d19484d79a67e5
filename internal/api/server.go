package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/auth"
)

// Server is the HTTP API server.
type Server struct {
	httpServer     *http.Server
	telemetryHub   TelemetryPort
	orchestrator   OrchestratorPort
	authMiddleware *auth.Middleware
	startTime      time.Time
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

// NewServer creates an API server without authentication.
func NewServer(telemetryHub TelemetryPort, orchestrator OrchestratorPort, readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	return NewServerWithAuth(telemetryHub, orchestrator, auth.NewMiddleware(), readTimeout, writeTimeout, idleTimeout)
}

// NewServerWithAuth creates an API server with the given auth middleware.
func NewServerWithAuth(telemetryHub TelemetryPort, orchestrator OrchestratorPort, authMiddleware *auth.Middleware, readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	return &Server{
		telemetryHub:   telemetryHub,
		orchestrator:   orchestrator,
		authMiddleware: authMiddleware,
		startTime:      time.Now(),
		readTimeout:    readTimeout,
		writeTimeout:   writeTimeout,
		idleTimeout:    idleTimeout,
	}
}

// Start runs the HTTP server on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
