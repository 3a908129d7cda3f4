package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"walletguard-lab/internal/domain/models"
	"walletguard-lab/internal/domain/services"
	"walletguard-lab/pkg/logger"
)

// Revoker submits an on-chain approval revocation
type Revoker interface {
	RevokeApproval(ctx context.Context, token, spender string) (string, error)
}

// EmergencyHandler exposes the per-session emergency state machine
type EmergencyHandler struct {
	sessionHandler
	revoker Revoker
}

// NewEmergencyHandler creates a new emergency handler. revoker may be nil.
func NewEmergencyHandler(sessions *services.SessionManager, revoker Revoker, log *logger.Logger) *EmergencyHandler {
	return &EmergencyHandler{
		sessionHandler: sessionHandler{
			base:     base{logger: log.WithComponent("emergency-handler")},
			sessions: sessions,
		},
		revoker: revoker,
	}
}

// ActionRequest is the body of the freeze and revoke actions
type ActionRequest struct {
	// Success defaults to true when omitted
	Success                *bool  `json:"success,omitempty"`
	EstimatedLossPrevented string `json:"estimated_loss_prevented,omitempty"`
	// Token and Spender trigger an on-chain approve(spender, 0) when a signer is configured
	Token   string `json:"token,omitempty"`
	Spender string `json:"spender,omitempty"`
}

func (req ActionRequest) outcome() models.ActionOutcome {
	success := true
	if req.Success != nil {
		success = *req.Success
	}
	return models.ActionOutcome{
		Success:                success,
		EstimatedLossPrevented: req.EstimatedLossPrevented,
	}
}

// SimulateRequest is the body of POST /emergency/simulate
type SimulateRequest struct {
	Type models.RuleType `json:"type"`
}

// State handles GET /api/v1/emergency
func (h *EmergencyHandler) State(w http.ResponseWriter, r *http.Request) {
	g, ok := h.existing(r)
	if !ok {
		h.respondJSON(w, http.StatusOK, models.EmergencyState{Events: []models.EmergencyEvent{}})
		return
	}
	h.respondJSON(w, http.StatusOK, g.Machine().State())
}

// Dismiss handles POST /api/v1/emergency/dismiss
func (h *EmergencyHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	g, ok := h.existing(r)
	if !ok {
		h.respondJSON(w, http.StatusOK, map[string]any{
			"dismissed": false,
			"state":     models.EmergencyState{Events: []models.EmergencyEvent{}},
		})
		return
	}
	machine := g.Machine()
	dismissed := machine.Dismiss(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]any{
		"dismissed": dismissed,
		"state":     machine.State(),
	})
}

// Freeze handles POST /api/v1/emergency/freeze
func (h *EmergencyHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	g, ok := h.existing(r)
	if !ok {
		h.respondServiceError(w, services.ErrNoActiveEmergency)
		return
	}
	event, err := g.Machine().Freeze(r.Context(), req.outcome())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, event)
}

// Revoke handles POST /api/v1/emergency/revoke. When a token and spender are
// given and a signer is configured the revoke is sent on-chain first; its
// failure is recorded on the event rather than returned. Without a sent
// transaction the event says the revoke was recorded only.
func (h *EmergencyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	g, ok := h.existing(r)
	if !ok {
		h.respondServiceError(w, services.ErrNoActiveEmergency)
		return
	}
	machine := g.Machine()
	active, ok := machine.Active()
	if !ok {
		h.respondServiceError(w, services.ErrNoActiveEmergency)
		return
	}

	outcome := req.outcome()
	attempted := h.revoker != nil && strings.TrimSpace(req.Token) != "" && strings.TrimSpace(req.Spender) != ""
	if attempted {
		txHash, err := h.revoker.RevokeApproval(r.Context(), req.Token, req.Spender)
		outcome.Success = err == nil
		outcome.OnChain = err == nil && txHash != ""
		outcome.TxHash = txHash
		if err != nil {
			h.logger.Warn().Err(err).Str("token", req.Token).Str("spender", req.Spender).Msg("on-chain revoke failed")
		}
	}

	// The chain call may outlive the emergency it was sent for
	event, err := machine.RevokeEvent(r.Context(), active.ID, outcome)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"event":     event,
		"attempted": attempted,
		"on_chain":  outcome.OnChain,
		"tx_hash":   outcome.TxHash,
	})
}

// Simulate handles POST /api/v1/emergency/simulate
func (h *EmergencyHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if !h.decode(w, r, &req) {
		return
	}

	event, err := h.guard(r).Machine().Simulate(r.Context(), req.Type)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, event)
}

// Decision handles POST /api/v1/emergency/decisions
func (h *EmergencyHandler) Decision(w http.ResponseWriter, r *http.Request) {
	var req models.Decision
	if !h.decode(w, r, &req) {
		return
	}

	event, err := h.guard(r).RecordDecision(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, event)
}

// Annotate handles POST /api/v1/emergency/events/{id}/annotate
func (h *EmergencyHandler) Annotate(w http.ResponseWriter, r *http.Request) {
	var req models.Annotation
	if !h.decode(w, r, &req) {
		return
	}

	event, err := h.guard(r).Machine().Annotate(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, event)
}
