// Package server exposes the extended-response API over HTTP: the /v1/responses
// routes, the prometheus scrape endpoint, and a health probe.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/responses"
)

// Server is the HTTP front of the gateway.
type Server struct {
	cfg          *config.ServerConfig
	orchestrator *responses.Orchestrator
	httpServer   *http.Server
}

// New builds the server around the orchestrator.
func New(cfg *config.ServerConfig, orchestrator *responses.Orchestrator) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Route("/v1/responses", func(r chi.Router) {
		r.Post("/", s.createResponse)
		r.Get("/{id}", s.getResponse)
		r.Delete("/{id}", s.deleteResponse)
		r.Get("/{id}/input_items", s.listInputItems)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.health)

	return r
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	slog.Info("HTTP server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
