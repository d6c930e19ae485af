package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// RunStatus describes the outcome of the most recent pipeline run.
type RunStatus struct {
	RunID    string    `json:"runId"`
	Finished time.Time `json:"finished"`
	OK       bool      `json:"ok"`
	Records  int       `json:"records,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// HealthServer exposes /healthz, /readyz and /status endpoints.
type HealthServer struct {
	ready atomic.Bool

	mu      sync.RWMutex
	lastRun *RunStatus
}

// NewHealthServer creates a new health server.
func NewHealthServer() *HealthServer {
	return &HealthServer{}
}

// SetReady marks the scheduler as running.
func (h *HealthServer) SetReady(ready bool) {
	h.ready.Store(ready)
}

// RecordRun stores the outcome of a run for /status.
func (h *HealthServer) RecordRun(s RunStatus) {
	h.mu.Lock()
	h.lastRun = &s
	h.mu.Unlock()
}

// LastRun returns the most recent run status, if any.
func (h *HealthServer) LastRun() (RunStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastRun == nil {
		return RunStatus{}, false
	}
	return *h.lastRun, true
}

// Handler returns an http.Handler with health and readiness endpoints.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	mux.HandleFunc("GET /status", h.handleStatus)
	return mux
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	if h.ready.Load() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	last, ok := h.LastRun()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"lastRun": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lastRun": last})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
