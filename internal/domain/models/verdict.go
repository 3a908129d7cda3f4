package models

import (
	"regexp"
	"time"
)

// ThreatCategory classifies what a scam signature is matched against
type ThreatCategory string

const (
	ThreatCategoryDomain   ThreatCategory = "domain"
	ThreatCategoryContract ThreatCategory = "contract"
)

// DomainThreat is a single scam signature. Signatures are immutable once registered.
type DomainThreat struct {
	Name        string         `json:"name"`
	Pattern     *regexp.Regexp `json:"-"`
	Category    ThreatCategory `json:"category"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
}

// PatternString returns the source of the signature regex
func (t DomainThreat) PatternString() string {
	if t.Pattern == nil {
		return ""
	}
	return t.Pattern.String()
}

// TrustStatus is the resolved standing of a domain
type TrustStatus string

const (
	TrustStatusTrusted   TrustStatus = "trusted"
	TrustStatusUnknown   TrustStatus = "unknown"
	TrustStatusMalicious TrustStatus = "malicious"
)

// DomainAssessment is the result of resolving a domain against the allow-list and registry
type DomainAssessment struct {
	Domain      string        `json:"domain"`
	Status      TrustStatus   `json:"status"`
	Whitelisted bool          `json:"whitelisted"`
	Threat      *DomainThreat `json:"threat,omitempty"`
	TrustScore  int           `json:"trust_score"`
	Explanation string        `json:"explanation,omitempty"`
}

// SigningVerdict is the classification of a message-signing request
type SigningVerdict struct {
	RiskLevel         RiskLevel `json:"risk_level"`
	Reasons           []string  `json:"reasons"`
	IsReusable        bool      `json:"is_reusable"`
	IsDomainTrusted   bool      `json:"is_domain_trusted"`
	IsPhishingAttempt bool      `json:"is_phishing_attempt"`
}

// SigningPreview is a display-safe rendering of a message to sign
type SigningPreview struct {
	DisplayMessage string `json:"display_message"`
	Preview        string `json:"preview"`
}

// ApprovalVerdict is the classification of a token-spending approval
type ApprovalVerdict struct {
	IsUnlimited    bool      `json:"is_unlimited"`
	SpenderAddress string    `json:"spender_address"`
	TokenAddress   string    `json:"token_address"`
	Amount         string    `json:"amount"`
	RiskLevel      RiskLevel `json:"risk_level"`
	Reasons        []string  `json:"reasons"`
}

// DecodedApproval holds the arguments of an ERC-20 approve call
type DecodedApproval struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// CallParam is one decoded argument of a contract call
type CallParam struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DecodedCall is a best-effort decoding of transaction calldata
type DecodedCall struct {
	Selector    string      `json:"selector"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []CallParam `json:"params,omitempty"`
	Known       bool        `json:"known"`
}

// Transfer is an observed token movement used for approval-abuse follow-up
type Transfer struct {
	TxHash    string    `json:"tx_hash"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// ApprovalAbuseReport is the outcome of checking transfers after an approval
type ApprovalAbuseReport struct {
	IsAbused   bool      `json:"is_abused"`
	AbuseSigns []string  `json:"abuse_signs"`
	Severity   RiskLevel `json:"severity"`
}

// CodeFinding is one detector hit from the code safety scanner
type CodeFinding struct {
	Severity       Severity `json:"severity"`
	PatternName    string   `json:"pattern_name"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// CodeScanResult is produced once per scan and never modified afterwards
type CodeScanResult struct {
	RiskLevel RiskLevel     `json:"risk_level"`
	Score     int           `json:"score"`
	Findings  []CodeFinding `json:"findings"`
	Summary   string        `json:"summary"`
}

// GitHubRepo is a repository reference parsed from a URL
type GitHubRepo struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Valid bool   `json:"valid"`
}
