package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"walletguard-lab/internal/domain/services"
	"walletguard-lab/pkg/logger"
)

// SessionHeader selects the wallet session a request operates on
const SessionHeader = "X-Session-ID"

const maxBodyBytes = 1 << 20

// base carries the response helpers shared by all handlers
type base struct {
	logger *logger.Logger
}

// respondJSON sends a JSON response
func (b base) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		b.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response
func (b base) respondError(w http.ResponseWriter, status int, message string) {
	b.respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service sentinel errors to HTTP statuses
func (b base) respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		b.logger.Error().Err(err).Msg("request failed")
		b.respondError(w, status, "internal error")
		return
	}
	b.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrEventNotFound), errors.Is(err, services.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNoActiveEmergency), errors.Is(err, services.ErrMonitorRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func (b base) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	b.logger.Debug().Err(err).Msg("invalid request body")
	b.respondError(w, http.StatusBadRequest, "invalid request body")
	return false
}

// sessionID returns the session named by the header or ?session query
func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(SessionHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("session")); id != "" {
		return id
	}
	return services.DefaultSessionID
}

// sessionHandler resolves the request session to its guard
type sessionHandler struct {
	base
	sessions *services.SessionManager
}

func (h sessionHandler) guard(r *http.Request) *services.Guard {
	return h.sessions.Get(r.Context(), sessionID(r))
}

// existing resolves the session for read-only routes without creating it
func (h sessionHandler) existing(r *http.Request) (*services.Guard, bool) {
	return h.sessions.Lookup(r.Context(), sessionID(r))
}
