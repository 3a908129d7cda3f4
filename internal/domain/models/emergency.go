package models

import (
	"time"
)

// RuleType identifies the detector an emergency rule configures
type RuleType string

const (
	RuleTypeBalanceDrain  RuleType = "balance_drain"
	RuleTypeApprovalAbuse RuleType = "approval_abuse"
	RuleTypePriceCrash    RuleType = "price_crash"
)

// IsValid reports whether t is a known rule type
func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypeBalanceDrain, RuleTypeApprovalAbuse, RuleTypePriceCrash:
		return true
	}
	return false
}

// EmergencyRule is a user-owned detection rule
type EmergencyRule struct {
	ID                string   `json:"id"`
	Type              RuleType `json:"type"`
	Enabled           bool     `json:"enabled"`
	Label             string   `json:"label"`
	PercentThreshold  float64  `json:"percent_threshold"`
	TimeWindowSeconds int      `json:"time_window_seconds"`
}

// RuleUpdate is a partial update to a rule; nil fields are left unchanged
type RuleUpdate struct {
	Type              *RuleType `json:"type,omitempty"`
	Enabled           *bool     `json:"enabled,omitempty"`
	Label             *string   `json:"label,omitempty"`
	PercentThreshold  *float64  `json:"percent_threshold,omitempty"`
	TimeWindowSeconds *int      `json:"time_window_seconds,omitempty"`
}

// EventSource names the detector family that produced a timeline event
type EventSource string

const (
	EventSourceSigning      EventSource = "signing"
	EventSourceApproval     EventSource = "approval"
	EventSourceCodeSafety   EventSource = "code_safety"
	EventSourceBalanceDrain EventSource = "balance_drain"
)

// IsValid reports whether s is a known source
func (s EventSource) IsValid() bool {
	switch s {
	case EventSourceSigning, EventSourceApproval, EventSourceCodeSafety, EventSourceBalanceDrain:
		return true
	}
	return false
}

// EmergencyEvent is one entry of the session timeline.
// Only ActionTaken and EstimatedLossPrevented change after creation.
type EmergencyEvent struct {
	ID                     string        `json:"id"`
	Timestamp              time.Time     `json:"timestamp"`
	RuleID                 string        `json:"rule_id"`
	RuleLabel              string        `json:"rule_label"`
	Severity               Severity      `json:"severity"`
	Description            string        `json:"description"`
	Sources                []EventSource `json:"sources"`
	ActionTaken            string        `json:"action_taken,omitempty"`
	EstimatedLossPrevented string        `json:"estimated_loss_prevented,omitempty"`
}

// HasSource reports whether src is among the event sources
func (e *EmergencyEvent) HasSource(src EventSource) bool {
	for _, s := range e.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the event
func (e EmergencyEvent) Clone() EmergencyEvent {
	c := e
	if e.Sources != nil {
		c.Sources = append([]EventSource(nil), e.Sources...)
	}
	return c
}

// NormalizeSources deduplicates sources keeping first-seen order
func NormalizeSources(sources []EventSource) []EventSource {
	seen := make(map[EventSource]bool, len(sources))
	out := make([]EventSource, 0, len(sources))
	for _, s := range sources {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Annotation is the outcome attached to an event by a remedial action
type Annotation struct {
	ActionTaken            string `json:"action_taken"`
	EstimatedLossPrevented string `json:"estimated_loss_prevented,omitempty"`
}

// ActionOutcome describes how a remedial action went
type ActionOutcome struct {
	Success                bool   `json:"success"`
	EstimatedLossPrevented string `json:"estimated_loss_prevented,omitempty"`
	TxHash                 string `json:"tx_hash,omitempty"`
	// OnChain is set only when a transaction was actually sent
	OnChain bool `json:"on_chain,omitempty"`
}

// EmergencyState is a point-in-time copy of a session's emergency posture.
// WalletEmergencyMode is true iff ActiveEmergency is non-nil.
type EmergencyState struct {
	ActiveEmergency     *EmergencyEvent  `json:"active_emergency"`
	Events              []EmergencyEvent `json:"events"`
	WalletEmergencyMode bool             `json:"wallet_emergency_mode"`
}

// EmergencySnapshot is the persisted form of a session
type EmergencySnapshot struct {
	SessionID     string           `json:"session_id"`
	ActiveEventID string           `json:"active_event_id,omitempty"`
	Events        []EmergencyEvent `json:"events"`
	Rules         []EmergencyRule  `json:"rules"`
	SavedAt       time.Time        `json:"saved_at"`
}

// Decision is a user's allow/reject answer to a non-critical verdict
type Decision struct {
	Source    EventSource `json:"source"`
	RiskLevel RiskLevel   `json:"risk_level"`
	Allowed   bool        `json:"allowed"`
	Summary   string      `json:"summary"`
}

// MonitorStatus reports the polling monitor of a session
type MonitorStatus struct {
	Running          bool       `json:"running"`
	Address          string     `json:"address,omitempty"`
	PreviousBalance  float64    `json:"previous_balance"`
	LastCheck        *time.Time `json:"last_check,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	WatchedApprovals int        `json:"watched_approvals"`
}

// EmergencyChange names a state machine mutation for subscribers
type EmergencyChange string

const (
	EmergencyChangeRaised    EmergencyChange = "raised"
	EmergencyChangeRecorded  EmergencyChange = "recorded"
	EmergencyChangeDismissed EmergencyChange = "dismissed"
	EmergencyChangeAction    EmergencyChange = "action"
)
