// Package api exposes the optional ops HTTP interface for a running crawl.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/metrics"
	"github.com/rendercrawl/rendercrawl/internal/supervisor"
)

// StatusSource provides the crawl progress snapshot served at /status.
type StatusSource interface {
	Stats() supervisor.Snapshot
}

// Server serves health, status, and Prometheus scrape endpoints while a
// crawl is running.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the ops server on the given port.
func NewServer(port int, source StatusSource, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, source.Stats())
	})
	r.Handle("/metrics", metrics.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in a background goroutine; ListenAndServe errors other than
// a clean shutdown are logged, not fatal to the crawl.
func (s *Server) Start() {
	go func() {
		s.logger.Info("ops server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("ops server stopped", zap.Error(err))
		}
	}()
}

// Shutdown stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("ops server shutdown", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
