package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletguard-lab/internal/domain/models"
)

func newTestSigningAnalyzer() *SigningAnalyzer {
	return NewSigningAnalyzer(NewDomainTrustResolver(NewScamRegistry()))
}

func TestSigningPhishingDomain(t *testing.T) {
	a := newTestSigningAnalyzer()

	v := a.Analyze("uniswapp-swap.xyz", "approve unlimited")

	assert.Equal(t, models.RiskLevelCritical, v.RiskLevel)
	assert.True(t, v.IsPhishingAttempt)
	assert.False(t, v.IsDomainTrusted)
	assert.Equal(t, []string{ReasonPhishingDomain, ReasonReplayable, ReasonGrantsPermission}, v.Reasons)
}

func TestSigningTrustedLoginIsSafe(t *testing.T) {
	a := newTestSigningAnalyzer()

	v := a.Analyze("uniswap.org", "Login. Nonce: abc123. Timestamp: 1700000000")

	assert.Equal(t, models.RiskLevelSafe, v.RiskLevel)
	assert.Empty(t, v.Reasons)
	assert.False(t, v.IsReusable)
	assert.True(t, v.IsDomainTrusted)
	assert.False(t, v.IsPhishingAttempt)
}

func TestSigningCriticalRegistryDomainsAlwaysCritical(t *testing.T) {
	a := newTestSigningAnalyzer()
	registry := NewScamRegistry()

	domains := []string{
		"uniswapp-swap.xyz",
		"uni-swap.com",
		"opensea-free.xyz",
		"etherscan-verify.click",
		"stakesecured.com",
		"maxes-q.com",
		"coinfred.com",
		"bitfreds.com",
		"coin-rilon.com",
		"wealth-frontllc.com",
		"dmd567.com",
		"creditcoin.cc",
		"bitcenter-us.com",
	}
	messages := []string{
		"",
		"hello",
		"Login. Nonce: 1. Timestamp: 2",
		"0xdeadbeef",
	}

	for _, d := range domains {
		threat := registry.IsKnownScamDomain(d)
		require.NotNil(t, threat, d)
		require.Equal(t, models.SeverityCritical, threat.Severity, d)

		for _, msg := range messages {
			v := a.Analyze(d, msg)
			assert.Equal(t, models.RiskLevelCritical, v.RiskLevel, "%s / %q", d, msg)
			assert.True(t, v.IsPhishingAttempt, "%s / %q", d, msg)
		}
	}
}

func TestSigningWhitelistedDomainsAreTrusted(t *testing.T) {
	a := newTestSigningAnalyzer()

	for _, d := range []string{"uniswap.org", "app.aave.com", "etherscan.io", "localhost:3000", "defi.monad.xyz"} {
		v := a.Analyze(d, "sign in nonce=42")
		assert.True(t, v.IsDomainTrusted, d)
		for _, r := range v.Reasons {
			assert.NotContains(t, r, "never approved", d)
		}
	}
}

func TestSigningReasonCounting(t *testing.T) {
	a := newTestSigningAnalyzer()

	tests := []struct {
		name    string
		domain  string
		message string
		want    models.RiskLevel
		reasons []string
	}{
		{
			name:    "unknown domain only",
			domain:  "example.com",
			message: "Sign in. nonce=1",
			want:    models.RiskLevelWarning,
			reasons: []string{UnknownDomainReason("example.com")},
		},
		{
			name:    "three reasons escalate",
			domain:  "example.com",
			message: "approve this",
			want:    models.RiskLevelCritical,
			reasons: []string{ReasonReplayable, ReasonGrantsPermission, UnknownDomainReason("example.com")},
		},
		{
			name:    "hex prefix",
			domain:  "uniswap.org",
			message: "0xdeadbeef nonce",
			want:    models.RiskLevelWarning,
			reasons: []string{ReasonHexEncoded},
		},
		{
			name:    "bare hex without nonce",
			domain:  "uniswap.org",
			message: strings.Repeat("ab", 20),
			want:    models.RiskLevelWarning,
			reasons: []string{ReasonReplayable, ReasonHexEncoded},
		},
		{
			name:    "long message",
			domain:  "uniswap.org",
			message: "nonce " + strings.Repeat("x", 600),
			want:    models.RiskLevelWarning,
			reasons: []string{ReasonLongMessage},
		},
		{
			name:    "keyword matching is case insensitive",
			domain:  "uniswap.org",
			message: "setApprovalForAll timestamp=1",
			want:    models.RiskLevelWarning,
			reasons: []string{ReasonGrantsPermission},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := a.Analyze(tt.domain, tt.message)
			assert.Equal(t, tt.want, v.RiskLevel)
			assert.Equal(t, tt.reasons, v.Reasons)
		})
	}
}

func TestSigningIsPure(t *testing.T) {
	a := newTestSigningAnalyzer()

	first := a.Analyze("example.com", "permit transferFrom")
	second := a.Analyze("example.com", "permit transferFrom")
	assert.Equal(t, first, second)
}

func TestSigningKeywordsNeverReduceReasons(t *testing.T) {
	a := newTestSigningAnalyzer()

	base := "hello from the dapp"
	prev := len(a.Analyze("example.com", base).Reasons)
	for _, kw := range []string{" approve", " permit", " delegatecall", " setApprovalForAll"} {
		base += kw
		v := a.Analyze("example.com", base)
		assert.GreaterOrEqual(t, len(v.Reasons), prev)
		if len(v.Reasons) >= 3 {
			assert.Equal(t, models.RiskLevelCritical, v.RiskLevel)
		}
		prev = len(v.Reasons)
	}
}

func TestFormatSigningRequest(t *testing.T) {
	t.Run("hex", func(t *testing.T) {
		msg := "0x" + strings.Repeat("a", 100)
		p := FormatSigningRequest(msg)
		assert.Equal(t, "[Hex Encoded Data]\n"+msg[:66]+"...", p.DisplayMessage)
		assert.Equal(t, "Hex: "+msg[:50]+"...", p.Preview)
	})

	t.Run("long text", func(t *testing.T) {
		msg := strings.Repeat("b", 300)
		p := FormatSigningRequest(msg)
		assert.Equal(t, msg[:200]+"...", p.DisplayMessage)
		assert.Equal(t, msg[:100], p.Preview)
	})

	t.Run("short text", func(t *testing.T) {
		p := FormatSigningRequest("hello")
		assert.Equal(t, "hello", p.DisplayMessage)
		assert.Equal(t, "hello", p.Preview)
	})

	t.Run("does not split runes", func(t *testing.T) {
		msg := strings.Repeat("é", 150)
		p := FormatSigningRequest(msg)
		assert.True(t, strings.HasPrefix(msg, p.Preview))
		assert.LessOrEqual(t, len(p.Preview), 100)
	})
}
