package handlers

import (
	"net/http"

	"walletguard-lab/internal/streaming"
	"walletguard-lab/pkg/logger"
)

// StreamingHandler handles real-time notification endpoints
type StreamingHandler struct {
	base
	wsHub    *streaming.WebSocketHub
	eventBus *streaming.EventBus
}

// NewStreamingHandler creates a new streaming handler
func NewStreamingHandler(wsHub *streaming.WebSocketHub, eventBus *streaming.EventBus, log *logger.Logger) *StreamingHandler {
	return &StreamingHandler{
		base:     base{logger: log.WithComponent("streaming-handler")},
		wsHub:    wsHub,
		eventBus: eventBus,
	}
}

// HandleWebSocket handles GET /ws
func (h *StreamingHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		h.respondError(w, http.StatusServiceUnavailable, "websocket streaming not available")
		return
	}

	h.logger.Debug().
		Str("remote_addr", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Msg("websocket connection request")

	h.wsHub.ServeWebSocket(w, r)
}

// Stats handles GET /api/v1/streaming/stats
func (h *StreamingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{
		"websocket_clients":     0,
		"event_bus_subscribers": 0,
	}
	if h.wsHub != nil {
		stats["websocket_clients"] = h.wsHub.ClientCount()
	}
	if h.eventBus != nil {
		stats["event_bus_subscribers"] = h.eventBus.SubscriberCount()
	}
	h.respondJSON(w, http.StatusOK, stats)
}
