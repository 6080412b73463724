// Package server is the HTTP surface: the chat endpoint with SSE streaming,
// model discovery, the tool-server probe, health and metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visionliao/llm-mcp-tools/pkg/config"
	"github.com/visionliao/llm-mcp-tools/pkg/tools"
)

type Server struct {
	registry *config.Registry
	tools    *tools.Registry
	metrics  *Metrics
	logger   *slog.Logger

	httpServer *http.Server
	promReg    *prometheus.Registry
}

func New(registry *config.Registry, toolRegistry *tools.Registry) *Server {
	promReg := prometheus.NewRegistry()
	return &Server{
		registry: registry,
		tools:    toolRegistry,
		metrics:  NewMetrics(promReg),
		logger:   slog.Default().With("component", "server"),
		promReg:  promReg,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(loggingMiddleware)

	r.Post("/api/chat", s.handleChat)
	r.Get("/model-list", s.handleModelList)
	r.Post("/mcp-test", s.handleMCPTest)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	return r
}

// Start serves until the listener fails or Shutdown is called. No write
// timeout: chat responses stream for as long as the model talks.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Server listening", "addr", addr)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the tool clients.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.tools.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
