// Package core provides the HTTP chassis for the billing processor: the
// chi router, cross-cutting middleware (panic recovery, request ids,
// structured request logging, deadlines), the JSON response envelope, and
// the health endpoint.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bizpulse/internal/config"
)

// Server bundles the router with its cross-cutting dependencies so tests
// can construct one with fakes.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// HealthProbes are checked by GET /health. Each probe is a critical
	// dependency that must be reachable for the service to be useful.
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer creates a Server and its router. Routes are mounted separately
// via MountRoutes so tests can register their own.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown logs the termination; owned resources (the connection pool) are
// closed by the entry point that created them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
