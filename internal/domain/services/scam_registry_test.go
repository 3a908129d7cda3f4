package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletguard-lab/internal/domain/models"
)

func TestIsKnownScamDomain(t *testing.T) {
	r := NewScamRegistry()

	tests := []struct {
		domain   string
		name     string
		severity models.Severity
	}{
		{"uniswapp-swap.xyz", "uniswap_phishing", models.SeverityCritical},
		{"uni-swap.com", "uniswap_typo", models.SeverityCritical},
		{"opensea-claim.click", "opensea_phishing", models.SeverityCritical},
		{"etherscan-verify.top", "etherscan_phishing", models.SeverityCritical},
		{"defi-rewards.xyz", "defi_suspicious_tld", models.SeverityHigh},
		{"free-nft.top", "finance_suspicious_tld", models.SeverityHigh},
		{"my--wallet.com", "double_dash", models.SeverityHigh},
		{"my__wallet.com", "separator_run", models.SeverityHigh},
		{"stakesecured.com", "stakesecured", models.SeverityCritical},
		{"  STAKESECURED.COM ", "stakesecured", models.SeverityCritical},
		{"bitcenter-us.com", "bitcenter_us", models.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			threat := r.IsKnownScamDomain(tt.domain)
			require.NotNil(t, threat)
			assert.Equal(t, tt.name, threat.Name)
			assert.Equal(t, tt.severity, threat.Severity)
			assert.Equal(t, models.ThreatCategoryDomain, threat.Category)
		})
	}
}

func TestIsKnownScamDomainNoMatch(t *testing.T) {
	r := NewScamRegistry()

	for _, d := range []string{"", "   ", "uniswap.org", "app.aave.com", "example.com", "localhost:3000"} {
		assert.Nil(t, r.IsKnownScamDomain(d), d)
	}
}

func TestRegistryOrderPrefersImpersonation(t *testing.T) {
	r := NewScamRegistry()

	// also matches the generic finance pattern
	threat := r.IsKnownScamDomain("uniswap-farm.xyz")
	require.NotNil(t, threat)
	assert.Equal(t, "uniswap_phishing", threat.Name)
}

func TestExplanation(t *testing.T) {
	r := NewScamRegistry()

	assert.Empty(t, r.Explanation("example.com"))
	assert.Contains(t, r.Explanation("uniswapp-swap.xyz"), "mimics Uniswap")
	assert.Contains(t, r.Explanation("coinfred.com"), "fraudulent")
}

func TestScoreDomainTrust(t *testing.T) {
	r := NewScamRegistry()

	tests := []struct {
		name        string
		domain      string
		whitelisted bool
		want        int
	}{
		{"whitelisted", "anything.example", true, 95},
		{"localhost", "localhost:3000", false, 90},
		{"loopback", "127.0.0.1:8545", false, 90},
		{"plain unknown", "example.com", false, 60},
		{"registry match", "uniswapp-swap.xyz", false, 50},
		{"match with digit run", "dmd567.com", false, 45},
		{"very long", strings.Repeat("a", 60) + ".com", false, 50},
		{"many dots", "a.b.c.d.e.com", false, 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ScoreDomainTrust(tt.domain, tt.whitelisted)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestThreatsReturnsCopy(t *testing.T) {
	r := NewScamRegistry()

	threats := r.Threats()
	require.NotEmpty(t, threats)
	first := threats[0].Name
	threats[0].Name = "mutated"

	assert.Equal(t, first, r.Threats()[0].Name)
	assert.Len(t, threats, 17)
}

func TestDomainTrustResolver(t *testing.T) {
	resolver := NewDomainTrustResolver(NewScamRegistry())

	t.Run("trusted subdomain", func(t *testing.T) {
		a := resolver.Resolve("app.uniswap.org")
		assert.Equal(t, models.TrustStatusTrusted, a.Status)
		assert.True(t, a.Whitelisted)
		assert.Nil(t, a.Threat)
		assert.Equal(t, 95, a.TrustScore)
	})

	t.Run("unknown", func(t *testing.T) {
		a := resolver.Resolve("Example.com")
		assert.Equal(t, models.TrustStatusUnknown, a.Status)
		assert.Equal(t, "example.com", a.Domain)
		assert.Equal(t, 60, a.TrustScore)
		assert.Empty(t, a.Explanation)
	})

	t.Run("registry wins over substring whitelist", func(t *testing.T) {
		a := resolver.Resolve("uniswap.org.uniswapp-swap.xyz")
		assert.True(t, a.Whitelisted)
		assert.Equal(t, models.TrustStatusMalicious, a.Status)
		require.NotNil(t, a.Threat)
		assert.NotEmpty(t, a.Explanation)
		assert.Less(t, a.TrustScore, 95)
	})

	t.Run("whitelist is case insensitive", func(t *testing.T) {
		assert.True(t, resolver.IsWhitelisted("ETHERSCAN.IO"))
		assert.False(t, resolver.IsWhitelisted("etherscan.com"))
	})
}
