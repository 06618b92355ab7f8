package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/moltbot/pool/pkg/gateway"
	"github.com/moltbot/pool/pkg/metrics"
)

// Server exposes /health, /ready, /status, and /metrics for a Gateway.
type Server struct {
	gateway *gateway.Gateway
	mux     *http.ServeMux
	http    *http.Server
}

// HealthResponse is the /health liveness payload: 200 as long as the
// process is alive, independent of worker health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready payload: ready only once at least one
// worker is dispatchable.
type ReadyResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// New builds a Server over gw, bound to addr once Start is called.
func New(gw *gateway.Gateway, addr string) *Server {
	s := &Server{gateway: gw, mux: http.NewServeMux()}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.Handle("/metrics", metrics.Handler())

	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the HTTP server until it fails or Stop is called. It never
// returns http.ErrServerClosed as an error.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.gateway.GetStatus()
	if status.HealthyWorkers == 0 {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status:    "not ready",
			Timestamp: time.Now(),
			Message:   "no healthy workers",
		})
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Timestamp: time.Now()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.gateway.GetStatus())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
