package handlers

import (
	"context"
	"net/http"
	"time"

	"walletguard-lab/pkg/logger"
)

const readyTimeout = 2 * time.Second

// Pinger is a dependency that can report its liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	base
	deps      map[string]Pinger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler; nil dependencies are skipped
func NewHealthHandler(deps map[string]Pinger, version string, log *logger.Logger) *HealthHandler {
	active := make(map[string]Pinger, len(deps))
	for name, dep := range deps {
		if dep != nil {
			active[name] = dep
		}
	}
	return &HealthHandler{
		base:      base{logger: log.WithComponent("health")},
		deps:      active,
		version:   version,
		startTime: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - checks all dependencies
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"engine": "healthy"}
	status := http.StatusOK
	overall := "ready"

	for name, dep := range h.deps {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := dep.Ping(ctx)
		cancel()
		if err != nil {
			checks[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			overall = "not ready"
			continue
		}
		checks[name] = "healthy"
	}

	h.respondJSON(w, status, HealthResponse{
		Status:    overall,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}
