package handlers

import (
	"walletguard-lab/internal/domain/services"
	"walletguard-lab/internal/streaming"
	"walletguard-lab/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health    *HealthHandler
	Analyze   *AnalyzeHandler
	Domains   *DomainsHandler
	Emergency *EmergencyHandler
	Rules     *RulesHandler
	Monitor   *MonitorHandler
	Streaming *StreamingHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Sessions *services.SessionManager
	Revoker  Revoker
	Health   map[string]Pinger
	WSHub    *streaming.WebSocketHub
	EventBus *streaming.EventBus
	Version  string
	Logger   *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Health, deps.Version, deps.Logger),
		Analyze:   NewAnalyzeHandler(deps.Sessions, deps.Logger),
		Domains:   NewDomainsHandler(deps.Sessions.Engine(), deps.Logger),
		Emergency: NewEmergencyHandler(deps.Sessions, deps.Revoker, deps.Logger),
		Rules:     NewRulesHandler(deps.Sessions, deps.Logger),
		Monitor:   NewMonitorHandler(deps.Sessions, deps.Logger),
		Streaming: NewStreamingHandler(deps.WSHub, deps.EventBus, deps.Logger),
	}
}
