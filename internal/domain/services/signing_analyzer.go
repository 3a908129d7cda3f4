package services

import (
	"fmt"
	"regexp"
	"strings"

	"walletguard-lab/internal/domain/models"
)

// Signing reasons, in the order checks are applied
const (
	ReasonPhishingDomain   = "This domain looks like it's impersonating a popular DeFi app"
	ReasonReplayable       = "Message lacks nonce/timestamp - could be replayed"
	ReasonGrantsPermission = "Message grants permission to spend your tokens"
	ReasonLongMessage      = "Message is very long - may contain hidden content"
	ReasonHexEncoded       = "Message is hex-encoded - you can't read what you're signing"
)

const maxReadableMessageLength = 500

var (
	dangerousSigningKeywords = []string{
		"approve",
		"transferfrom",
		"call",
		"delegatecall",
		"permit",
		"setapprovalforall",
	}

	pureHexMessage = regexp.MustCompile(`(?i)^[0-9a-f]{32,}$`)
)

// SigningAnalyzer classifies message-signing requests. It holds no mutable
// state, so one instance is shared by all sessions.
type SigningAnalyzer struct {
	resolver *DomainTrustResolver
}

// NewSigningAnalyzer creates a new signing analyzer
func NewSigningAnalyzer(resolver *DomainTrustResolver) *SigningAnalyzer {
	return &SigningAnalyzer{resolver: resolver}
}

// Analyze runs the signing checks against a (domain, message) pair
func (a *SigningAnalyzer) Analyze(domain, message string) models.SigningVerdict {
	reasons := []string{}
	whitelisted := a.resolver.IsWhitelisted(domain)
	isPhishing := a.resolver.Registry().IsKnownScamDomain(domain) != nil
	lower := strings.ToLower(message)

	// 1. Phishing
	if isPhishing {
		reasons = append(reasons, ReasonPhishingDomain)
	}

	// 2. Replay protection
	isReusable := !strings.Contains(lower, "nonce") && !strings.Contains(lower, "timestamp")
	if isReusable {
		reasons = append(reasons, ReasonReplayable)
	}

	// 3. Dangerous functions
	for _, kw := range dangerousSigningKeywords {
		if strings.Contains(lower, kw) {
			reasons = append(reasons, ReasonGrantsPermission)
			break
		}
	}

	// 4. Unknown domain
	if !whitelisted && !isPhishing {
		reasons = append(reasons, UnknownDomainReason(domain))
	}

	// 5. Length
	if len(message) > maxReadableMessageLength {
		reasons = append(reasons, ReasonLongMessage)
	}

	// 6. Hex opacity
	if strings.HasPrefix(message, "0x") || pureHexMessage.MatchString(message) {
		reasons = append(reasons, ReasonHexEncoded)
	}

	level := models.RiskLevelSafe
	switch {
	case isPhishing:
		level = models.RiskLevelCritical
	case len(reasons) >= 3:
		level = models.RiskLevelCritical
	case len(reasons) >= 1:
		level = models.RiskLevelWarning
	}

	return models.SigningVerdict{
		RiskLevel:         level,
		Reasons:           reasons,
		IsReusable:        isReusable,
		IsDomainTrusted:   whitelisted && !isPhishing,
		IsPhishingAttempt: isPhishing,
	}
}

// UnknownDomainReason is the reason attached to domains never approved before
func UnknownDomainReason(domain string) string {
	return fmt.Sprintf("You've never approved %s before", domain)
}

// FormatSigningRequest renders a message for display before the user signs it
func FormatSigningRequest(message string) models.SigningPreview {
	preview := models.SigningPreview{
		DisplayMessage: message,
		Preview:        truncate(message, 100),
	}

	switch {
	case strings.HasPrefix(message, "0x"):
		preview.DisplayMessage = "[Hex Encoded Data]\n" + truncate(message, 66) + "..."
		preview.Preview = "Hex: " + truncate(message, 50) + "..."
	case len(message) > 200:
		preview.DisplayMessage = truncate(message, 200) + "..."
	}

	return preview
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
