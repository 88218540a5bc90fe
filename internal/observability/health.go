package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

type probeStatus struct {
	Status string `json:"status"`
	Uptime string `json:"uptime,omitempty"`
}

// HealthChecker backs the /healthz and /readyz probes. Liveness holds as
// long as the process serves HTTP; readiness flips on after startup
// recovery and off again during shutdown so load balancers drain first.
type HealthChecker struct {
	ready   atomic.Bool
	started time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }
func (h *HealthChecker) IsReady() bool       { return h.ready.Load() }

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, probeStatus{
		Status: "alive",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() {
		h.respond(w, http.StatusServiceUnavailable, probeStatus{Status: "not_ready"})
		return
	}
	h.respond(w, http.StatusOK, probeStatus{Status: "ready"})
}

func (h *HealthChecker) respond(w http.ResponseWriter, code int, body probeStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
