// Package server exposes the run ledger over HTTP, streams live trace events
// to websocket clients and exports run metrics for Prometheus.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nstogner/contextharness/pkg/store"
)

// Server serves the run API and the live trace stream.
type Server struct {
	runs    store.RunStore
	hub     *Hub
	metrics *Metrics
	srv     *http.Server
}

// New creates a new Server listening on addr. A nil hub disables /api/live and
// a nil metrics disables /metrics.
func New(addr string, runs store.RunStore, hub *Hub, metrics *Metrics) *Server {
	s := &Server{runs: runs, hub: hub, metrics: metrics}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleListEvents)

	if s.hub != nil {
		mux.HandleFunc("GET /api/live", s.handleLive)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops and returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	slog.Info("Starting trace server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("API error", "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
