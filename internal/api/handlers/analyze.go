package handlers

import (
	"net/http"
	"strings"
	"time"

	"walletguard-lab/internal/domain/services"
	"walletguard-lab/pkg/logger"
)

// AnalyzeHandler exposes the signing, approval and code analyzers
type AnalyzeHandler struct {
	sessionHandler
}

// NewAnalyzeHandler creates a new analyze handler
func NewAnalyzeHandler(sessions *services.SessionManager, log *logger.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{sessionHandler{
		base:     base{logger: log.WithComponent("analyze-handler")},
		sessions: sessions,
	}}
}

// SigningRequest is the body of POST /analyze/signing
type SigningRequest struct {
	Domain  string `json:"domain"`
	Message string `json:"message"`
}

// ApprovalRequest is the body of POST /analyze/approval
type ApprovalRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
	Token   string `json:"token"`
	// Watch registers the approval with the session monitor for abuse follow-up
	Watch bool `json:"watch,omitempty"`
}

// CalldataRequest carries hex calldata
type CalldataRequest struct {
	Data string `json:"data"`
}

// CodeRequest carries contract source
type CodeRequest struct {
	Source string `json:"source"`
}

// GitHubRequest carries a repository URL
type GitHubRequest struct {
	URL string `json:"url"`
}

// Signing handles POST /api/v1/analyze/signing
func (h *AnalyzeHandler) Signing(w http.ResponseWriter, r *http.Request) {
	var req SigningRequest
	if !h.decode(w, r, &req) {
		return
	}

	verdict := h.guard(r).AnalyzeSigning(r.Context(), req.Domain, req.Message)
	h.respondJSON(w, http.StatusOK, verdict)
}

// SigningPreview handles POST /api/v1/analyze/signing/preview
func (h *AnalyzeHandler) SigningPreview(w http.ResponseWriter, r *http.Request) {
	var req SigningRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondJSON(w, http.StatusOK, services.FormatSigningRequest(req.Message))
}

// Approval handles POST /api/v1/analyze/approval
func (h *AnalyzeHandler) Approval(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}

	g := h.guard(r)
	verdict, err := g.AnalyzeApproval(r.Context(), req.Spender, req.Amount, req.Token)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	if req.Watch && g.Monitor() != nil && strings.TrimSpace(req.Token) != "" {
		if err := g.Monitor().WatchApproval(req.Token, req.Spender, req.Amount, time.Now()); err != nil {
			h.logger.Warn().Err(err).Msg("failed to watch approval")
		}
	}

	h.respondJSON(w, http.StatusOK, verdict)
}

// DecodeApproval handles POST /api/v1/analyze/approval/decode
func (h *AnalyzeHandler) DecodeApproval(w http.ResponseWriter, r *http.Request) {
	var req CalldataRequest
	if !h.decode(w, r, &req) {
		return
	}

	decoded, err := h.sessions.Engine().Approvals.DecodeApproval(req.Data)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, decoded)
}

// Calldata handles POST /api/v1/analyze/calldata
func (h *AnalyzeHandler) Calldata(w http.ResponseWriter, r *http.Request) {
	var req CalldataRequest
	if !h.decode(w, r, &req) {
		return
	}

	decoded, err := h.sessions.Engine().Approvals.DecodeCalldata(req.Data)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, decoded)
}

// Code handles POST /api/v1/analyze/code
func (h *AnalyzeHandler) Code(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondJSON(w, http.StatusOK, h.guard(r).ScanCode(r.Context(), req.Source))
}

// GitHub handles POST /api/v1/analyze/github
func (h *AnalyzeHandler) GitHub(w http.ResponseWriter, r *http.Request) {
	var req GitHubRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondJSON(w, http.StatusOK, services.ParseGitHubURL(req.URL))
}
