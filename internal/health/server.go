package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketfeed/internal/core/domain"
	"marketfeed/internal/metrics"
	"marketfeed/internal/resilience/breaker"
)

// SnapshotProvider exposes the last assembled pipeline snapshot.
type SnapshotProvider interface {
	LastSnapshot() *domain.Snapshot
}

// Server provides the HTTP surface for health, reports and metrics.
type Server struct {
	monitor  *Monitor
	breaker  *breaker.Breaker
	registry *metrics.Registry
	snaps    SnapshotProvider
	server   *http.Server
}

// NewServer mounts the health endpoints on the given port.
func NewServer(monitor *Monitor, b *breaker.Breaker, registry *metrics.Registry, snaps SnapshotProvider, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor:  monitor,
		breaker:  b,
		registry: registry,
		snaps:    snaps,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/health/check", s.handleTrigger)
	mux.HandleFunc("/circuit/reset", s.handleCircuitReset)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/metrics/internal", s.handleInternalMetrics)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.BuildReport()

	w.Header().Set("Content-Type", "application/json")
	if report.Overall == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": string(report.Overall)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.monitor.BuildReport())
}

// handleTrigger runs an on-demand probe: POST /health/check?source=spy,
// or all sources when no id is given.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if id := r.URL.Query().Get("source"); id != "" {
		if err := s.monitor.TriggerCheck(r.Context(), domain.SourceID(id)); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	} else {
		s.monitor.TriggerAll(r.Context())
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleCircuitReset is the operator override: POST /circuit/reset?source=spy.
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("source")
	if id == "" {
		http.Error(w, "source query parameter required", http.StatusBadRequest)
		return
	}
	s.breaker.Reset(domain.SourceID(id))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.snaps.LastSnapshot()
	if snap == nil {
		http.Error(w, "no snapshot assembled yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleInternalMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.Snapshot())
}
