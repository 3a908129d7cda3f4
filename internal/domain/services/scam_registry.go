package services

import (
	"regexp"
	"strings"

	"walletguard-lab/internal/domain/models"
)

// ScamRegistry holds the ordered scam signatures. Order matters: specific
// impersonation patterns are registered before the generic TLD heuristics.
type ScamRegistry struct {
	threats      []models.DomainThreat
	explanations map[string]string
}

// NewScamRegistry creates a registry with the built-in signatures
func NewScamRegistry() *ScamRegistry {
	r := &ScamRegistry{}
	r.initImpersonationPatterns()
	r.initGenericPatterns()
	r.initKnownPlatforms()
	r.initExplanations()
	return r
}

func (r *ScamRegistry) initImpersonationPatterns() {
	r.threats = append(r.threats,
		models.DomainThreat{
			Name:        "uniswap_phishing",
			Pattern:     regexp.MustCompile(`(?i)uniswap[p\-_]*[^.]*\.(xyz|click|top|download)`),
			Category:    models.ThreatCategoryDomain,
			Severity:    models.SeverityCritical,
			Description: "Uniswap phishing attempt",
		},
		models.DomainThreat{
			Name:        "uniswap_typo",
			Pattern:     regexp.MustCompile(`(?i)uni-swap|uni.*swap[^.]*\.(xyz|click|top)`),
			Category:    models.ThreatCategoryDomain,
			Severity:    models.SeverityCritical,
			Description: "Uniswap typosquatting",
		},
		models.DomainThreat{
			Name:        "opensea_phishing",
			Pattern:     regexp.MustCompile(`(?i)opensea[s\-_]*[^.]*\.(xyz|click|top)`),
			Category:    models.ThreatCategoryDomain,
			Severity:    models.SeverityCritical,
			Description: "OpenSea phishing attempt",
		},
		models.DomainThreat{
			Name:        "etherscan_phishing",
			Pattern:     regexp.MustCompile(`(?i)etherscan[s\-_]*[^.]*\.(xyz|click|top)`),
			Category:    models.ThreatCategoryDomain,
			Severity:    models.SeverityCritical,
			Description: "Etherscan phishing attempt",
		},
	)
}

func (r *ScamRegistry) initGenericPatterns() {
	r.threats = append(r.threats,
		models.DomainThreat{
			Name:        "defi_suspicious_tld",
			Pattern:     regexp.MustCompile(`(?i)defi[\w-]*\.(xyz|click|top|download|stream)`),
			Category:    models.ThreatCategoryDomain,
			Severity:    models.SeverityHigh,
			Description: "Suspicious DeFi domain",
		},
		models.DomainThreat{
			Name:        "finance_suspicious_tld",
			Pattern:     regexp.MustCompile(`(?i)(swap|bridge|farm|stake|mint|nft)[\w-]*\.(xyz|click|top)`),
			Category:    models.ThreatCategoryDomain,
			Severity:    models.SeverityHigh,
			Description: "Suspicious finance domain",
		},
		// Double dash trick
		models.DomainThreat{
			Name:        "double_dash",
			Pattern:     regexp.MustCompile(`-{2,}`),
			Category:    models.ThreatCategoryDomain,
			Severity:    models.SeverityHigh,
			Description: "Suspicious characters in domain",
		},
		models.DomainThreat{
			Name:        "separator_run",
			Pattern:     regexp.MustCompile(`_{2,}|[\-_]{3,}`),
			Category:    models.ThreatCategoryDomain,
			Severity:    models.SeverityHigh,
			Description: "Suspicious domain format",
		},
	)
}

// initKnownPlatforms registers exact matches for reported fake investment platforms
func (r *ScamRegistry) initKnownPlatforms() {
	known := []struct {
		name    string
		pattern string
		desc    string
	}{
		{"stakesecured", `(?i)^stakesecured\.com$`, "Fake crypto investment platform - no withdrawals"},
		{"maxes_q", `(?i)^maxes-q\.com(/.*)?$`, "Fake crypto investment platform - no withdrawals"},
		{"coinfred", `(?i)^coinfred\.com$`, "Fake cryptocurrency platform - scam"},
		{"bitfreds", `(?i)^bitfreds\.com$`, "Fake cryptocurrency platform - scam"},
		{"coin_rilon", `(?i)^coin-rilon\.com$`, "Fake cryptocurrency platform - scam"},
		{"wealth_frontllc", `(?i)^wealth-frontllc\.com$`, "Fake investment platform impersonating WealthFront"},
		{"dmd567", `(?i)^dmd567\.com$`, "Fake crypto/investment platform - scam"},
		{"creditcoin_cc", `(?i)^creditcoin\.cc$`, "Fake cryptocurrency platform - scam"},
		{"bitcenter_us", `(?i)^bitcenter-us\.com$`, "Fake cryptocurrency exchange - scam"},
	}

	for _, k := range known {
		r.threats = append(r.threats, models.DomainThreat{
			Name:        k.name,
			Pattern:     regexp.MustCompile(k.pattern),
			Category:    models.ThreatCategoryDomain,
			Severity:    models.SeverityCritical,
			Description: k.desc,
		})
	}
}

func (r *ScamRegistry) initExplanations() {
	r.explanations = map[string]string{
		"Uniswap phishing attempt":
			"This domain closely mimics Uniswap but uses a suspicious TLD. It's designed to trick you into thinking it's the real Uniswap.",
		"Uniswap typosquatting":
			"This domain looks like a misspelling of Uniswap. Scammers use typos to catch users who make typing mistakes.",
		"OpenSea phishing attempt":
			"This domain is impersonating OpenSea. Never sign or approve anything on fake versions.",
		"Etherscan phishing attempt":
			"This domain is mimicking Etherscan. Real Etherscan never asks you to sign transactions.",
		"Suspicious DeFi domain":
			"This domain uses a commonly abused TLD (.xyz, .click, etc.) in a DeFi context. Be very careful.",
		"Suspicious finance domain":
			"This is likely a fake trading or farming site. These are commonly used to steal funds.",
		"Suspicious characters in domain":
			"This domain has tricky characters like double dashes used to confuse users.",
		"Suspicious domain format":
			"This domain uses unusual formatting that's characteristic of scam sites.",
		"Fake crypto investment platform - no withdrawals":
			"This is a known fake investment platform. Users report being unable to withdraw funds after deposits.",
		"Fake cryptocurrency platform - scam":
			"This is a known fraudulent cryptocurrency platform designed to steal deposits.",
		"Fake investment platform impersonating WealthFront":
			"This site impersonates WealthFront to trick users into depositing funds that cannot be withdrawn.",
		"Fake crypto/investment platform - scam":
			"Known scam platform that accepts deposits but prevents withdrawals.",
		"Fake cryptocurrency exchange - scam":
			"Fraudulent exchange designed to steal funds and cryptocurrency.",
	}
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// IsKnownScamDomain returns the first matching domain signature, or nil
func (r *ScamRegistry) IsKnownScamDomain(domain string) *models.DomainThreat {
	d := normalizeDomain(domain)
	if d == "" {
		return nil
	}
	for i := range r.threats {
		t := r.threats[i]
		if t.Category != models.ThreatCategoryDomain {
			continue
		}
		if t.Pattern.MatchString(d) {
			return &t
		}
	}
	return nil
}

// Explanation returns a human-readable reason for flagging the domain,
// or an empty string when the domain matches nothing
func (r *ScamRegistry) Explanation(domain string) string {
	threat := r.IsKnownScamDomain(domain)
	if threat == nil {
		return ""
	}
	if text, ok := r.explanations[threat.Description]; ok {
		return text
	}
	return threat.Description
}

var leadingDigitRun = regexp.MustCompile(`\d{2,}`)

// ScoreDomainTrust scores a domain from 0 (suspicious) to 100 (trusted)
func (r *ScamRegistry) ScoreDomainTrust(domain string, isWhitelisted bool) int {
	if isWhitelisted {
		return 95
	}

	d := normalizeDomain(domain)
	if isLocalhost(d) {
		return 90
	}

	score := 50
	if r.IsKnownScamDomain(d) == nil {
		score += 10
	}
	if len(d) > 50 {
		score -= 10
	}
	if strings.Count(d, ".") > 3 {
		score -= 5
	}
	if leadingDigitRun.MatchString(strings.SplitN(d, ".", 2)[0]) {
		score -= 5
	}

	return max(0, min(100, score))
}

// Threats returns a copy of the registered signatures in match order
func (r *ScamRegistry) Threats() []models.DomainThreat {
	out := make([]models.DomainThreat, len(r.threats))
	copy(out, r.threats)
	return out
}

func isLocalhost(domain string) bool {
	return strings.Contains(domain, "localhost") || strings.Contains(domain, "127.0.0.1")
}
