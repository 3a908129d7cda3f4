package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"walletguard-lab/internal/domain/services"
	"walletguard-lab/pkg/logger"
)

// DomainsHandler exposes domain trust lookups
type DomainsHandler struct {
	base
	engine *services.Engine
}

// NewDomainsHandler creates a new domains handler
func NewDomainsHandler(engine *services.Engine, log *logger.Logger) *DomainsHandler {
	return &DomainsHandler{
		base:   base{logger: log.WithComponent("domains-handler")},
		engine: engine,
	}
}

// Check handles GET /api/v1/domains/{domain}
func (h *DomainsHandler) Check(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		h.respondError(w, http.StatusBadRequest, "domain is required")
		return
	}
	h.respondJSON(w, http.StatusOK, h.engine.Resolver.Resolve(domain))
}

// Threats handles GET /api/v1/domains/threats
func (h *DomainsHandler) Threats(w http.ResponseWriter, r *http.Request) {
	threats := h.engine.Registry.Threats()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"threats": threats,
		"count":   len(threats),
	})
}
