package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletguard-lab/internal/api/handlers"
	"walletguard-lab/internal/config"
	"walletguard-lab/internal/domain/models"
	"walletguard-lab/internal/domain/services"
	"walletguard-lab/pkg/logger"
)

const (
	unlimitedHex   = "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	unknownSpender = "0x0000000000000000000000000000000000000999"
	testToken      = "0x00000000000000000000000000000000000000aa"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubRevoker struct {
	txHash string
	err    error
	calls  int
	// onCall runs while the transaction is in flight
	onCall func()
}

func (r *stubRevoker) RevokeApproval(context.Context, string, string) (string, error) {
	r.calls++
	if r.onCall != nil {
		r.onCall()
	}
	return r.txHash, r.err
}

type stubLimiter struct{ allowed bool }

func (l stubLimiter) CheckRateLimit(context.Context, string, int64, time.Duration) (bool, int64, time.Time, error) {
	return l.allowed, 0, time.Now().Add(time.Minute), nil
}

type testServer struct {
	handler  http.Handler
	sessions *services.SessionManager
}

type serverOptions struct {
	cfg     config.Config
	revoker handlers.Revoker
	health  map[string]handlers.Pinger
	limiter stubLimiter
	monitor bool
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	log := logger.NewNop()

	sessionCfg := services.SessionConfig{Store: services.NewMemorySnapshotStore(), PollInterval: time.Hour}
	if opts.monitor {
		sessionCfg.Balances = constBalance(10)
	}
	sessions := services.NewSessionManager(services.NewEngine(), sessionCfg, log)
	t.Cleanup(sessions.Close)

	h := handlers.NewHandlers(handlers.Dependencies{
		Sessions: sessions,
		Revoker:  opts.revoker,
		Health:   opts.health,
		Version:  "test",
		Logger:   log,
	})

	cfg := opts.cfg
	if cfg.CORS.AllowedOrigins == nil {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	return &testServer{
		handler:  NewRouter(cfg, h, opts.limiter, log).Setup(),
		sessions: sessions,
	}
}

type constBalance float64

func (b constBalance) Balance(context.Context, string) (float64, error) { return float64(b), nil }

func (s *testServer) do(t *testing.T, method, path, session string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(handlers.SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, serverOptions{health: map[string]handlers.Pinger{
		"redis":    stubPinger{},
		"postgres": stubPinger{err: errors.New("connection refused")},
	}})

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[handlers.HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Checks["redis"])
	assert.Contains(t, resp.Checks["postgres"], "connection refused")

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "walletguard_http_requests_total")
}

func TestSigningRaisesPerSession(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/api/v1/analyze/signing", "alice", handlers.SigningRequest{
		Domain:  "uniswapp-swap.xyz",
		Message: "approve unlimited",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	verdict := decodeBody[models.SigningVerdict](t, rec)
	assert.Equal(t, models.RiskLevelCritical, verdict.RiskLevel)
	assert.True(t, verdict.IsPhishingAttempt)

	alice := decodeBody[models.EmergencyState](t, s.do(t, http.MethodGet, "/api/v1/emergency", "alice", nil))
	assert.True(t, alice.WalletEmergencyMode)
	require.NotNil(t, alice.ActiveEmergency)
	assert.Equal(t, []models.EventSource{models.EventSourceSigning}, alice.ActiveEmergency.Sources)

	bob := decodeBody[models.EmergencyState](t, s.do(t, http.MethodGet, "/api/v1/emergency?session=bob", "", nil))
	assert.False(t, bob.WalletEmergencyMode)
	assert.Empty(t, bob.Events)
	assert.Equal(t, []string{"alice"}, s.sessions.IDs())
}

func TestReadOnlyRoutesDoNotCreateSessions(t *testing.T) {
	s := newTestServer(t, serverOptions{monitor: true})

	for i := 0; i < 200; i++ {
		session := fmt.Sprintf("visitor-%d", i)
		for _, path := range []string{"/api/v1/emergency", "/api/v1/rules", "/api/v1/monitor"} {
			rec := s.do(t, http.MethodGet, path, session, nil)
			require.Equal(t, http.StatusOK, rec.Code, path)
		}
		rec := s.do(t, http.MethodPost, "/api/v1/emergency/dismiss", session, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = s.do(t, http.MethodPost, "/api/v1/emergency/freeze", session, handlers.ActionRequest{})
		require.Equal(t, http.StatusConflict, rec.Code)
	}
	assert.Empty(t, s.sessions.IDs())

	rules := decodeBody[struct {
		Count int `json:"count"`
	}](t, s.do(t, http.MethodGet, "/api/v1/rules", "visitor-0", nil))
	assert.Equal(t, 3, rules.Count)

	rec := s.do(t, http.MethodPost, "/api/v1/emergency/simulate", "visitor-0", handlers.SimulateRequest{Type: models.RuleTypeApprovalAbuse})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"visitor-0"}, s.sessions.IDs())
}

func TestAnalyzeEndpoints(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/api/v1/analyze/approval", "", handlers.ApprovalRequest{
		Spender: unknownSpender, Amount: "lots", Token: testToken,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/analyze/approval", "", handlers.ApprovalRequest{
		Spender: unknownSpender, Amount: unlimitedHex, Token: testToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	approval := decodeBody[models.ApprovalVerdict](t, rec)
	assert.True(t, approval.IsUnlimited)
	assert.Equal(t, models.RiskLevelCritical, approval.RiskLevel)

	rec = s.do(t, http.MethodPost, "/api/v1/analyze/calldata", "", handlers.CalldataRequest{Data: "0xdeadbeef"})
	require.Equal(t, http.StatusOK, rec.Code)
	call := decodeBody[models.DecodedCall](t, rec)
	assert.False(t, call.Known)
	assert.Equal(t, "Unknown Function", call.Name)

	rec = s.do(t, http.MethodPost, "/api/v1/analyze/approval/decode", "", handlers.CalldataRequest{Data: "0xdeadbeef"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/analyze/code", "", handlers.CodeRequest{Source: "selfdestruct(payable(owner));"})
	require.Equal(t, http.StatusOK, rec.Code)
	scan := decodeBody[models.CodeScanResult](t, rec)
	assert.Equal(t, 40, scan.Score)

	rec = s.do(t, http.MethodPost, "/api/v1/analyze/github", "", handlers.GitHubRequest{URL: "https://github.com/foo/bar"})
	require.Equal(t, http.StatusOK, rec.Code)
	repo := decodeBody[models.GitHubRepo](t, rec)
	assert.True(t, repo.Valid)
	assert.Equal(t, "bar", repo.Repo)

	rec = s.do(t, http.MethodPost, "/api/v1/analyze/signing/preview", "", handlers.SigningRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/signing", bytes.NewBufferString("{not json"))
	bad := httptest.NewRecorder()
	s.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestDomainEndpoints(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/api/v1/domains/uniswap.org", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assessment := decodeBody[models.DomainAssessment](t, rec)
	assert.True(t, assessment.Whitelisted)
	assert.Equal(t, models.TrustStatusTrusted, assessment.Status)

	rec = s.do(t, http.MethodGet, "/api/v1/domains/threats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	threats := decodeBody[struct {
		Count int `json:"count"`
	}](t, rec)
	assert.Positive(t, threats.Count)
}

func TestEmergencyLifecycle(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	const session = "wallet-1"

	rec := s.do(t, http.MethodPost, "/api/v1/emergency/freeze", session, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/emergency/simulate", session, handlers.SimulateRequest{Type: "gas_spike"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/emergency/simulate", session, handlers.SimulateRequest{Type: models.RuleTypeBalanceDrain})
	require.Equal(t, http.StatusCreated, rec.Code)
	simulated := decodeBody[models.EmergencyEvent](t, rec)
	assert.Equal(t, "rule-1", simulated.RuleID)

	rec = s.do(t, http.MethodPost, "/api/v1/emergency/freeze", session, map[string]string{"estimated_loss_prevented": "2.5 MON"})
	require.Equal(t, http.StatusOK, rec.Code)
	frozen := decodeBody[models.EmergencyEvent](t, rec)
	assert.Equal(t, services.ActionFrozen, frozen.ActionTaken)
	assert.Equal(t, "2.5 MON", frozen.EstimatedLossPrevented)

	rec = s.do(t, http.MethodPost, "/api/v1/emergency/events/missing/annotate", session, models.Annotation{ActionTaken: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/emergency/events/"+simulated.ID+"/annotate", session, models.Annotation{EstimatedLossPrevented: "3 MON"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3 MON", decodeBody[models.EmergencyEvent](t, rec).EstimatedLossPrevented)

	rec = s.do(t, http.MethodPost, "/api/v1/emergency/dismiss", session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dismissed := decodeBody[struct {
		Dismissed bool                  `json:"dismissed"`
		State     models.EmergencyState `json:"state"`
	}](t, rec)
	assert.True(t, dismissed.Dismissed)
	assert.False(t, dismissed.State.WalletEmergencyMode)
	assert.Len(t, dismissed.State.Events, 1)

	rec = s.do(t, http.MethodPost, "/api/v1/emergency/decisions", session, models.Decision{
		Source: models.EventSourceSigning, RiskLevel: models.RiskLevelWarning, Allowed: false, Summary: "example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, models.SeverityHigh, decodeBody[models.EmergencyEvent](t, rec).Severity)
}

func TestRevokeRecordsOnChainFailure(t *testing.T) {
	revoker := &stubRevoker{txHash: "", err: errors.New("insufficient funds")}
	s := newTestServer(t, serverOptions{revoker: revoker})

	rec := s.do(t, http.MethodPost, "/api/v1/emergency/revoke", "", handlers.ActionRequest{Token: testToken, Spender: unknownSpender})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, revoker.calls)

	s.do(t, http.MethodPost, "/api/v1/emergency/simulate", "", handlers.SimulateRequest{Type: models.RuleTypeApprovalAbuse})

	rec = s.do(t, http.MethodPost, "/api/v1/emergency/revoke", "", handlers.ActionRequest{Token: testToken, Spender: unknownSpender})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[revokeResponse](t, rec)
	assert.True(t, resp.Attempted)
	assert.False(t, resp.OnChain)
	assert.Equal(t, services.ActionRevokeFailed, resp.Event.ActionTaken)
	assert.Equal(t, 1, revoker.calls)

	revoker.err = nil
	revoker.txHash = "0xabc"
	rec = s.do(t, http.MethodPost, "/api/v1/emergency/revoke", "", handlers.ActionRequest{Token: testToken, Spender: unknownSpender})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[revokeResponse](t, rec)
	assert.True(t, resp.OnChain)
	assert.Equal(t, services.ActionRevoked, resp.Event.ActionTaken)
	assert.Equal(t, "0xabc", resp.TxHash)
}

type revokeResponse struct {
	Event     models.EmergencyEvent `json:"event"`
	Attempted bool                  `json:"attempted"`
	OnChain   bool                  `json:"on_chain"`
	TxHash    string                `json:"tx_hash"`
}

func TestRevokeWithoutTransactionIsRecordedOnly(t *testing.T) {
	tests := []struct {
		name    string
		revoker handlers.Revoker
		body    handlers.ActionRequest
	}{
		{name: "no signer, empty body", body: handlers.ActionRequest{}},
		{name: "no signer, token and spender", body: handlers.ActionRequest{Token: testToken, Spender: unknownSpender}},
		{name: "signer, missing spender", revoker: &stubRevoker{txHash: "0xabc"}, body: handlers.ActionRequest{Token: testToken}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, serverOptions{revoker: tt.revoker})
			rec := s.do(t, http.MethodPost, "/api/v1/emergency/simulate", "", handlers.SimulateRequest{Type: models.RuleTypeApprovalAbuse})
			require.Equal(t, http.StatusCreated, rec.Code)

			rec = s.do(t, http.MethodPost, "/api/v1/emergency/revoke", "", tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decodeBody[revokeResponse](t, rec)
			assert.False(t, resp.Attempted)
			assert.False(t, resp.OnChain)
			assert.Empty(t, resp.TxHash)
			assert.Equal(t, services.ActionRevokeRecorded, resp.Event.ActionTaken)
		})
	}
}

func TestRevokeLandsOnEventItWasSentFor(t *testing.T) {
	ctx := context.Background()

	t.Run("newer emergency raised mid-call", func(t *testing.T) {
		revoker := &stubRevoker{txHash: "0xabc"}
		s := newTestServer(t, serverOptions{revoker: revoker})
		rec := s.do(t, http.MethodPost, "/api/v1/emergency/simulate", "", handlers.SimulateRequest{Type: models.RuleTypeApprovalAbuse})
		require.Equal(t, http.StatusCreated, rec.Code)
		first := decodeBody[models.EmergencyEvent](t, rec)

		var second models.EmergencyEvent
		revoker.onCall = func() {
			second = s.sessions.Get(ctx, services.DefaultSessionID).Machine().Raise(ctx, models.EmergencyEvent{
				RuleID:      "rule-1",
				RuleLabel:   "Balance Drain Detection",
				Severity:    models.SeverityCritical,
				Description: "Balance dropped 60%",
			})
		}

		rec = s.do(t, http.MethodPost, "/api/v1/emergency/revoke", "", handlers.ActionRequest{Token: testToken, Spender: unknownSpender})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[revokeResponse](t, rec)
		assert.Equal(t, first.ID, resp.Event.ID)
		assert.Equal(t, services.ActionRevoked, resp.Event.ActionTaken)

		state := decodeBody[models.EmergencyState](t, s.do(t, http.MethodGet, "/api/v1/emergency", "", nil))
		require.NotNil(t, state.ActiveEmergency)
		assert.Equal(t, second.ID, state.ActiveEmergency.ID)
		assert.Empty(t, state.ActiveEmergency.ActionTaken)
		require.Len(t, state.Events, 2)
		assert.Equal(t, first.ID, state.Events[1].ID)
		assert.Equal(t, services.ActionRevoked, state.Events[1].ActionTaken)
	})

	t.Run("dismissed mid-call", func(t *testing.T) {
		revoker := &stubRevoker{txHash: "0xabc"}
		s := newTestServer(t, serverOptions{revoker: revoker})
		rec := s.do(t, http.MethodPost, "/api/v1/emergency/simulate", "", handlers.SimulateRequest{Type: models.RuleTypeApprovalAbuse})
		require.Equal(t, http.StatusCreated, rec.Code)
		first := decodeBody[models.EmergencyEvent](t, rec)

		revoker.onCall = func() {
			s.sessions.Get(ctx, services.DefaultSessionID).Machine().Dismiss(ctx)
		}

		rec = s.do(t, http.MethodPost, "/api/v1/emergency/revoke", "", handlers.ActionRequest{Token: testToken, Spender: unknownSpender})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[revokeResponse](t, rec)
		assert.Equal(t, first.ID, resp.Event.ID)
		assert.Equal(t, services.ActionRevoked, resp.Event.ActionTaken)
		assert.Equal(t, "0xabc", resp.TxHash)
	})
}

func TestRulesCRUD(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/api/v1/rules", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decodeBody[struct {
		Count int `json:"count"`
	}](t, rec).Count)

	rec = s.do(t, http.MethodPost, "/api/v1/rules", "", models.EmergencyRule{Type: "gas_spike", Label: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/rules", "", models.EmergencyRule{
		Type: models.RuleTypeBalanceDrain, Enabled: true, Label: "Fast drain", PercentThreshold: 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[models.EmergencyRule](t, rec)

	rec = s.do(t, http.MethodPatch, "/api/v1/rules/"+created.ID, "", map[string]any{"percent_threshold": 12.5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12.5, decodeBody[models.EmergencyRule](t, rec).PercentThreshold)

	rec = s.do(t, http.MethodPost, "/api/v1/rules/"+created.ID+"/toggle", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[models.EmergencyRule](t, rec).Enabled)

	rec = s.do(t, http.MethodDelete, "/api/v1/rules/"+created.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/rules/"+created.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitorEndpoints(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, http.MethodGet, "/api/v1/monitor", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = newTestServer(t, serverOptions{monitor: true})

	rec = s.do(t, http.MethodPost, "/api/v1/monitor/start", "", handlers.StartRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/monitor/start", "", handlers.StartRequest{Address: "0xabc"})
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[models.MonitorStatus](t, rec)
	assert.True(t, status.Running)
	assert.Equal(t, 10.0, status.PreviousBalance)

	rec = s.do(t, http.MethodPost, "/api/v1/monitor/start", "", handlers.StartRequest{Address: "0xabc"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/monitor/watch-approval", "", handlers.WatchRequest{
		Token: testToken, Spender: unknownSpender, Amount: "100",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, decodeBody[models.MonitorStatus](t, rec).WatchedApprovals)

	rec = s.do(t, http.MethodPost, "/api/v1/monitor/stop", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[models.MonitorStatus](t, rec).Running)
}

func TestAuthAndRateLimit(t *testing.T) {
	cfg := config.Config{
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{"secret"}},
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1},
	}
	s := newTestServer(t, serverOptions{cfg: cfg, limiter: stubLimiter{allowed: true}})

	rec := s.do(t, http.MethodGet, "/api/v1/rules", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	// health stays public
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)

	limited := newTestServer(t, serverOptions{
		cfg:     config.Config{RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1}},
		limiter: stubLimiter{allowed: false},
	})
	rec = limited.do(t, http.MethodGet, "/api/v1/rules", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
