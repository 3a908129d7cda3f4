package streaming

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"walletguard-lab/internal/domain/models"
)

// EventType names a notification on the bus
type EventType string

const (
	EventTypeEmergencyRaised    EventType = "emergency_raised"
	EventTypeEmergencyRecorded  EventType = "emergency_recorded"
	EventTypeEmergencyDismissed EventType = "emergency_dismissed"
	EventTypeEmergencyAction    EventType = "emergency_action"
)

var changeEventTypes = map[models.EmergencyChange]EventType{
	models.EmergencyChangeRaised:    EventTypeEmergencyRaised,
	models.EmergencyChangeRecorded:  EventTypeEmergencyRecorded,
	models.EmergencyChangeDismissed: EventTypeEmergencyDismissed,
	models.EmergencyChangeAction:    EventTypeEmergencyAction,
}

// EmergencyNotification is a state machine change as seen by subscribers
type EmergencyNotification struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Origin    string                 `json:"origin,omitempty"`
	SessionID string                 `json:"session_id"`
	Change    models.EmergencyChange `json:"change"`
	Severity  models.Severity        `json:"severity"`
	Event     models.EmergencyEvent  `json:"event"`
}

// NewEmergencyNotification wraps a timeline event for delivery
func NewEmergencyNotification(sessionID string, change models.EmergencyChange, event models.EmergencyEvent) *EmergencyNotification {
	eventType, ok := changeEventTypes[change]
	if !ok {
		eventType = EventType("emergency_" + string(change))
	}
	return &EmergencyNotification{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Change:    change,
		Severity:  event.Severity,
		Event:     event.Clone(),
	}
}

// Subscription filters the notifications a client receives
type Subscription struct {
	// Only this session (empty = all)
	SessionID string `json:"session_id,omitempty"`

	// Minimum event severity (empty = all)
	MinSeverity models.Severity `json:"min_severity,omitempty"`

	// Only these changes (empty = all)
	Changes []models.EmergencyChange `json:"changes,omitempty"`
}

// Matches checks if a notification passes the subscription filters
func (s *Subscription) Matches(n *EmergencyNotification) bool {
	if s == nil {
		return true
	}
	if s.SessionID != "" && s.SessionID != n.SessionID {
		return false
	}
	if s.MinSeverity != "" && !n.Severity.AtLeast(s.MinSeverity) {
		return false
	}
	if len(s.Changes) > 0 && !slices.Contains(s.Changes, n.Change) {
		return false
	}
	return true
}
