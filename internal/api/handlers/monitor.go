package handlers

import (
	"net/http"
	"time"

	"walletguard-lab/internal/domain/models"
	"walletguard-lab/internal/domain/services"
	"walletguard-lab/pkg/logger"
)

// MonitorHandler controls the session's balance and approval monitor
type MonitorHandler struct {
	sessionHandler
}

// NewMonitorHandler creates a new monitor handler
func NewMonitorHandler(sessions *services.SessionManager, log *logger.Logger) *MonitorHandler {
	return &MonitorHandler{sessionHandler{
		base:     base{logger: log.WithComponent("monitor-handler")},
		sessions: sessions,
	}}
}

// StartRequest is the body of POST /monitor/start
type StartRequest struct {
	Address string `json:"address"`
}

// WatchRequest is the body of POST /monitor/watch-approval
type WatchRequest struct {
	Token      string    `json:"token"`
	Spender    string    `json:"spender"`
	Amount     string    `json:"amount"`
	ApprovedAt time.Time `json:"approved_at,omitempty"`
}

func (h *MonitorHandler) monitor(w http.ResponseWriter, r *http.Request) (*services.Monitor, bool) {
	m := h.guard(r).Monitor()
	if m == nil {
		h.respondError(w, http.StatusServiceUnavailable, "monitor not configured")
		return nil, false
	}
	return m, true
}

// Status handles GET /api/v1/monitor
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.MonitorEnabled() {
		h.respondError(w, http.StatusServiceUnavailable, "monitor not configured")
		return
	}
	g, ok := h.existing(r)
	if !ok {
		h.respondJSON(w, http.StatusOK, models.MonitorStatus{})
		return
	}
	h.respondJSON(w, http.StatusOK, g.Monitor().Status())
}

// Start handles POST /api/v1/monitor/start
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	var req StartRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := m.Start(r.Context(), req.Address); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, m.Status())
}

// Stop handles POST /api/v1/monitor/stop
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	m.Stop()
	h.respondJSON(w, http.StatusOK, m.Status())
}

// WatchApproval handles POST /api/v1/monitor/watch-approval
func (h *MonitorHandler) WatchApproval(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	var req WatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ApprovedAt.IsZero() {
		req.ApprovedAt = time.Now()
	}

	if err := m.WatchApproval(req.Token, req.Spender, req.Amount, req.ApprovedAt); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, m.Status())
}
