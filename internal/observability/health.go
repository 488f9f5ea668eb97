package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state for /healthz and /readyz.
type HealthChecker struct {
	ready     atomic.Bool
	stalled   atomic.Bool
	lastBlock atomic.Uint64
	startTime time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// SetStalled marks ingestion as blocked on an event that cannot apply
// until an operator repairs the state. A stalled service is not ready.
func (h *HealthChecker) SetStalled(stalled bool) {
	h.stalled.Store(stalled)
}

func (h *HealthChecker) IsStalled() bool {
	return h.stalled.Load()
}

// SetLastBlock records the block of the last committed event.
func (h *HealthChecker) SetLastBlock(block uint64) {
	h.lastBlock.Store(block)
}

// LivenessHandler returns HTTP 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 once the checkpoint is restored and the
// NATS consumer is running, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
		})
		return
	}
	if h.stalled.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":     "stalled",
			"last_block": h.lastBlock.Load(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ready",
		"last_block": h.lastBlock.Load(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
