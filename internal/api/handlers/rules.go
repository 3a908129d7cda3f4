package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"walletguard-lab/internal/domain/models"
	"walletguard-lab/internal/domain/services"
	"walletguard-lab/pkg/logger"
)

// RulesHandler exposes CRUD over the session's emergency rules
type RulesHandler struct {
	sessionHandler
}

// NewRulesHandler creates a new rules handler
func NewRulesHandler(sessions *services.SessionManager, log *logger.Logger) *RulesHandler {
	return &RulesHandler{sessionHandler{
		base:     base{logger: log.WithComponent("rules-handler")},
		sessions: sessions,
	}}
}

// List handles GET /api/v1/rules
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	rules := h.sessions.Rules()
	if g, ok := h.existing(r); ok {
		rules = g.Machine().Rules().List()
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// Create handles POST /api/v1/rules
func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.EmergencyRule
	if !h.decode(w, r, &req) {
		return
	}

	machine := h.guard(r).Machine()
	rule, err := machine.Rules().Add(req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	machine.Persist(r.Context())
	h.respondJSON(w, http.StatusCreated, rule)
}

// Update handles PATCH /api/v1/rules/{id}
func (h *RulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.RuleUpdate
	if !h.decode(w, r, &req) {
		return
	}

	machine := h.guard(r).Machine()
	rule, err := machine.Rules().Update(chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	machine.Persist(r.Context())
	h.respondJSON(w, http.StatusOK, rule)
}

// Delete handles DELETE /api/v1/rules/{id}
func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	machine := h.guard(r).Machine()
	if err := machine.Rules().Delete(chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	machine.Persist(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Toggle handles POST /api/v1/rules/{id}/toggle
func (h *RulesHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	machine := h.guard(r).Machine()
	rule, err := machine.Rules().Toggle(chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	machine.Persist(r.Context())
	h.respondJSON(w, http.StatusOK, rule)
}
