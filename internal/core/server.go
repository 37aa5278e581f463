// Package core provides the API chassis for the CurbSight platform.
// It builds a chi router usable both as a standard HTTP handler (local dev)
// and behind AWS Lambda Proxy Integration, and enforces the cross-cutting
// concerns -- auth, logging, metrics, error envelopes -- before requests
// reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"curbsight/internal/config"
	"curbsight/internal/db"
	"curbsight/internal/types"
)

// MetricsCollector records API telemetry. Implementations ship request
// latency and count metrics to CloudWatch or an equivalent backend.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Authenticator resolves a bearer token to an Actor. Satisfied by
// auth.Authenticator; kept as an interface so middleware tests can inject
// stubs.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (types.Actor, error)
}

// Server bundles every dependency of the CurbSight API so handlers receive
// one injection point and tests can swap pieces individually.
type Server struct {
	Config        *config.Config
	Repos         *db.Registry
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator

	// V1RouteRegistrars is populated by the application entry point with
	// handler mount functions. The indirection keeps core free of handler
	// imports.
	V1RouteRegistrars []func(chi.Router)

	// HealthProbes are checked concurrently by the /health endpoint.
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer wires the chassis and fails fast on missing critical
// dependencies. Routes are mounted separately via MountRoutes so tests can
// customize registration.
func NewServer(cfg *config.Config, repos *db.Registry, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if repos == nil {
		return nil, fmt.Errorf("repository registry must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	validator, err := NewValidator(logger)
	if err != nil {
		return nil, fmt.Errorf("building validator: %w", err)
	}

	return &Server{
		Config:    cfg,
		Repos:     repos,
		Logger:    logger,
		Validator: validator,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.ListenAndServe or
// the Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server-held resources, closing the database pool last.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.Repos != nil {
		if err := s.Repos.Close(); err != nil {
			s.Logger.Error("error closing database pool", "error", err)
			return fmt.Errorf("closing database pool: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
