package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RiskLevel is the verdict tier produced by the analyzers.
// Levels are totally ordered: safe < warning < critical.
type RiskLevel int

const (
	RiskLevelSafe RiskLevel = iota
	RiskLevelWarning
	RiskLevelCritical
)

var riskLevelNames = map[RiskLevel]string{
	RiskLevelSafe:     "safe",
	RiskLevelWarning:  "warning",
	RiskLevelCritical: "critical",
}

// String returns the lowercase name of the level
func (r RiskLevel) String() string {
	if name, ok := riskLevelNames[r]; ok {
		return name
	}
	return "unknown"
}

// Rank returns the position of the level in the severity order
func (r RiskLevel) Rank() int {
	return int(r)
}

// AtLeast reports whether r is as severe as other or more
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r >= other
}

// IsCritical is a shorthand for AtLeast(RiskLevelCritical)
func (r RiskLevel) IsCritical() bool {
	return r >= RiskLevelCritical
}

// MaxRiskLevel returns the more severe of two levels
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if a >= b {
		return a
	}
	return b
}

// ParseRiskLevel converts a string to a RiskLevel
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return RiskLevelSafe, nil
	case "warning":
		return RiskLevelWarning, nil
	case "critical":
		return RiskLevelCritical, nil
	default:
		return RiskLevelSafe, fmt.Errorf("unknown risk level %q", s)
	}
}

// MarshalJSON encodes the level as its lowercase name
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a lowercase level name
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// Severity grades findings, threats and timeline events.
// Ordered: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordering position of the severity (0 for unknown values)
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is as severe as other or more
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// IsValid reports whether s is one of the known severities
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Weight is the score contribution of a code finding with this severity
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 25
	case SeverityMedium:
		return 15
	case SeverityLow:
		return 5
	default:
		return 0
	}
}
