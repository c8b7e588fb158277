package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sara-star-quant/hybrid-kex/pkg/tunnel"
)

// HealthStatus represents the overall health state.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// CheckFunc performs one health check and returns nil when healthy.
type CheckFunc func() error

// StatsFunc reports server session statistics.
type StatsFunc func() tunnel.RegistryStats

// HealthCheck aggregates named checks and the server's session stats.
type HealthCheck struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	stats     StatsFunc
	startTime time.Time
	version   string
	now       func() time.Time
}

// HealthResponse is the JSON body of the health endpoint.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Sessions  *tunnel.RegistryStats  `json:"sessions,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// NewHealthCheck creates a health check. stats may be nil.
func NewHealthCheck(stats StatsFunc, version string) *HealthCheck {
	return &HealthCheck{
		checks:    make(map[string]CheckFunc),
		stats:     stats,
		startTime: time.Now(),
		version:   version,
		now:       time.Now,
	}
}

// AddCheck registers a named health check.
func (h *HealthCheck) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RemoveCheck removes a named health check.
func (h *HealthCheck) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checks, name)
}

// Check runs every check. Any failing check makes the service unhealthy.
func (h *HealthCheck) Check() HealthResponse {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()

	now := h.now()
	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: now,
		Uptime:    now.Sub(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	for name, check := range checks {
		start := time.Now()
		err := check()
		res := CheckResult{Status: HealthStatusHealthy, Latency: time.Since(start).String()}
		if err != nil {
			res.Status = HealthStatusUnhealthy
			res.Message = err.Error()
			resp.Status = HealthStatusUnhealthy
		}
		resp.Checks[name] = res
	}

	if h.stats != nil {
		st := h.stats()
		resp.Sessions = &st
	}
	return resp
}

// Handler serves the full health report. Unhealthy answers 503.
func (h *HealthCheck) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := h.Check()
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}

// LivenessHandler always answers 200 while the process runs.
func (h *HealthCheck) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
}

// ReadinessHandler answers 200 only while every check passes.
func (h *HealthCheck) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := h.Check()
		ready := resp.Status != HealthStatusUnhealthy
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": resp.Status, "ready": ready})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
