package services

import (
	"fmt"
	"regexp"

	"walletguard-lab/internal/domain/models"
)

// CodePattern is one named detector of the code safety scanner
type CodePattern struct {
	Name           string
	Pattern        *regexp.Regexp
	Severity       models.Severity
	Description    string
	Recommendation string
}

// CodeScanner scans Solidity source for dangerous constructs
type CodeScanner struct {
	patterns []CodePattern
}

// NewCodeScanner creates a scanner with the built-in detector table
func NewCodeScanner() *CodeScanner {
	s := &CodeScanner{}
	s.initPatterns()
	return s
}

func (s *CodeScanner) initPatterns() {
	s.patterns = []CodePattern{
		{
			Name:           "delegatecall",
			Pattern:        regexp.MustCompile(`(?i)delegatecall`),
			Severity:       models.SeverityCritical,
			Description:    "delegatecall can execute arbitrary code in contract context",
			Recommendation: "Verify the call target and ensure it's trusted",
		},
		{
			Name:           "selfdestruct",
			Pattern:        regexp.MustCompile(`(?i)selfdestruct|suicide`),
			Severity:       models.SeverityCritical,
			Description:    "selfdestruct can destroy the contract and drain funds",
			Recommendation: "This should only be in tested kill-switch functions",
		},
		{
			Name:           "owner withdraw",
			Pattern:        regexp.MustCompile(`(?i)owner.*withdraw|withdraw.*owner|onlyOwner.*transfer`),
			Severity:       models.SeverityHigh,
			Description:    "Owner can withdraw funds without user consent",
			Recommendation: "Ensure this is legitimate and time-locked if possible",
		},
		{
			Name:           "unlimited mint",
			Pattern:        regexp.MustCompile(`(?i)mint\s*\([^)]*uint(-)?max`),
			Severity:       models.SeverityHigh,
			Description:    "Unlimited minting can cause inflation and rug pulls",
			Recommendation: "Check for mint limits and role restrictions",
		},
		{
			Name:           "hidden state changes",
			Pattern:        regexp.MustCompile(`(?i)private.*function.*transfer|private.*function.*mint`),
			Severity:       models.SeverityMedium,
			Description:    "Private functions that modify critical state",
			Recommendation: "Review access controls carefully",
		},
		{
			Name:           "no access control",
			Pattern:        regexp.MustCompile(`(?i)function\s+\w+\s*\([^)]*\)\s*public\s*\{[\s\S]*?(transfer|mint|withdraw)`),
			Severity:       models.SeverityHigh,
			Description:    "Public function accessing sensitive operations",
			Recommendation: "Add proper access control modifiers",
		},
		{
			Name:           "hardcoded addresses",
			Pattern:        regexp.MustCompile(`0x[a-fA-F0-9]{40}`),
			Severity:       models.SeverityLow,
			Description:    "Hardcoded addresses reduce flexibility",
			Recommendation: "Use constructor parameters or governance for addresses",
		},
		{
			Name:           "unchecked arithmetic",
			Pattern:        regexp.MustCompile(`(?i)unchecked\s*\{`),
			Severity:       models.SeverityMedium,
			Description:    "Unchecked math can cause integer overflows",
			Recommendation: "Verify the math is intentional and safe",
		},
		{
			Name:           "approval without return check",
			Pattern:        regexp.MustCompile(`(?i)\.approve\s*\(`),
			Severity:       models.SeverityMedium,
			Description:    "Not checking return value of approve()",
			Recommendation: "Use safeTransfer or check return value",
		},
	}
}

// Patterns returns a copy of the detector table in scan order
func (s *CodeScanner) Patterns() []CodePattern {
	out := make([]CodePattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Scan runs every detector once against the full source text
func (s *CodeScanner) Scan(source string) models.CodeScanResult {
	findings := []models.CodeFinding{}
	score := 0
	criticalCount, highCount := 0, 0

	for _, p := range s.patterns {
		if !p.Pattern.MatchString(source) {
			continue
		}
		findings = append(findings, models.CodeFinding{
			Severity:       p.Severity,
			PatternName:    p.Name,
			Description:    p.Description,
			Recommendation: p.Recommendation,
		})
		score += p.Severity.Weight()
		switch p.Severity {
		case models.SeverityCritical:
			criticalCount++
		case models.SeverityHigh:
			highCount++
		}
	}
	score = min(score, 100)

	level := models.RiskLevelSafe
	switch {
	case score >= 70 || criticalCount > 0:
		level = models.RiskLevelCritical
	case score >= 40 || highCount > 0:
		level = models.RiskLevelWarning
	}

	return models.CodeScanResult{
		RiskLevel: level,
		Score:     score,
		Findings:  findings,
		Summary:   scanSummary(len(findings), criticalCount, highCount),
	}
}

func scanSummary(total, critical, high int) string {
	switch {
	case critical > 0:
		return fmt.Sprintf("%d CRITICAL issue(s)", critical)
	case high > 0:
		return fmt.Sprintf("%d HIGH-risk issue(s)", high)
	case total == 0:
		return "No major issues detected"
	default:
		return fmt.Sprintf("%d issue(s) found", total)
	}
}

var githubRepoURL = regexp.MustCompile(`github\.com/([^/]+)/([^/\s]+)`)

// ParseGitHubURL extracts owner and repository from a GitHub URL
func ParseGitHubURL(url string) models.GitHubRepo {
	m := githubRepoURL.FindStringSubmatch(url)
	if m == nil {
		return models.GitHubRepo{}
	}
	return models.GitHubRepo{Owner: m[1], Repo: m[2], Valid: true}
}
