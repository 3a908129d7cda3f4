package services

import (
	"strings"

	"walletguard-lab/internal/domain/models"
)

// trustedDomains are well-known legitimate services. Matching is substring
// containment so subdomains pass; the scam registry always wins over it.
var trustedDomains = []string{
	"etherscan.io",
	"opensea.io",
	"opensea.com",
	"uniswap.org",
	"uniswap.xyz",
	"pancakeswap.finance",
	"1inch.io",
	"aave.com",
	"curve.fi",
	"yearn.finance",
	"lido.fi",
	"makerdao.com",
	"compound.finance",
	"defi.monad.xyz",
	"localhost",
	"127.0.0.1",
}

// DomainTrustResolver decides whether a domain is trusted, unknown or malicious
type DomainTrustResolver struct {
	registry *ScamRegistry
}

// NewDomainTrustResolver creates a resolver backed by the given registry
func NewDomainTrustResolver(registry *ScamRegistry) *DomainTrustResolver {
	return &DomainTrustResolver{registry: registry}
}

// IsWhitelisted reports whether the domain contains a trusted service domain
func (d *DomainTrustResolver) IsWhitelisted(domain string) bool {
	lower := strings.ToLower(domain)
	for _, trusted := range trustedDomains {
		if strings.Contains(lower, trusted) {
			return true
		}
	}
	return false
}

// Resolve combines the allow-list and the scam registry into one assessment
func (d *DomainTrustResolver) Resolve(domain string) models.DomainAssessment {
	whitelisted := d.IsWhitelisted(domain)
	threat := d.registry.IsKnownScamDomain(domain)

	assessment := models.DomainAssessment{
		Domain:      normalizeDomain(domain),
		Whitelisted: whitelisted,
		Threat:      threat,
		TrustScore:  d.registry.ScoreDomainTrust(domain, whitelisted && threat == nil),
	}

	switch {
	case threat != nil:
		assessment.Status = models.TrustStatusMalicious
		assessment.Explanation = d.registry.Explanation(domain)
	case whitelisted:
		assessment.Status = models.TrustStatusTrusted
	default:
		assessment.Status = models.TrustStatusUnknown
	}

	return assessment
}

// Registry exposes the underlying scam registry
func (d *DomainTrustResolver) Registry() *ScamRegistry {
	return d.registry
}
