package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"walletguard-lab/internal/domain/models"
	"walletguard-lab/internal/metrics"
	"walletguard-lab/pkg/logger"
)

var (
	// ErrEventNotFound is returned when annotating an unknown event id
	ErrEventNotFound = errors.New("emergency event not found")

	// ErrNoActiveEmergency is returned by remedial actions while idle
	ErrNoActiveEmergency = errors.New("no active emergency")
)

// Remedial action texts recorded on the active event
const (
	ActionFrozen         = "Wallet frozen via Guard contract"
	ActionRevoked        = "All ERC-20 approvals revoked on-chain"
	ActionRevokeRecorded = "All ERC-20 approvals revoked (recorded only)"
	ActionRevokeFailed   = "Revoke recorded only (on-chain transaction failed)"
	actionNameFreeze     = "freeze"
	actionNameRevoke     = "revoke"
	unknownRuleID        = "unknown"
	defaultEventSubject  = "none"
)

// SnapshotStore persists a session timeline and active pointer
type SnapshotStore interface {
	// SaveSnapshot overwrites the stored snapshot of the session
	SaveSnapshot(ctx context.Context, snap *models.EmergencySnapshot) error

	// LoadSnapshot returns the stored snapshot, or nil when none exists
	LoadSnapshot(ctx context.Context, sessionID string) (*models.EmergencySnapshot, error)
}

// EmergencyPublisher notifies subscribers about state machine changes
type EmergencyPublisher interface {
	PublishEmergency(ctx context.Context, sessionID string, change models.EmergencyChange, event models.EmergencyEvent) error
}

// simulations are the canned demo emergencies per rule type
var simulations = map[models.RuleType]struct {
	label   string
	desc    string
	sources []models.EventSource
}{
	models.RuleTypeBalanceDrain: {
		label:   "Balance Drain Detection",
		desc:    "Wallet balance dropped 31% in 52 seconds. Suspicious outbound transfer detected to unknown contract.",
		sources: []models.EventSource{models.EventSourceBalanceDrain},
	},
	models.RuleTypeApprovalAbuse: {
		label:   "Approval Abuse Detection",
		desc:    "ERC-20 unlimited approval was used with no subsequent swap. Potential approval exploit in progress.",
		sources: []models.EventSource{models.EventSourceApproval},
	},
	models.RuleTypePriceCrash: {
		label:   "Price Crash Detection",
		desc:    "Token MON price dropped 28% in 90 seconds. Flash crash or liquidity pull detected.",
		sources: []models.EventSource{},
	},
}

// EmergencyStateMachine tracks the emergency posture of one session.
// The timeline is newest first; at most one event is active.
type EmergencyStateMachine struct {
	sessionID string
	rules     *RuleSet
	store     SnapshotStore
	publisher EmergencyPublisher
	logger    *logger.Logger
	now       func() time.Time

	mu       sync.RWMutex
	events   []models.EmergencyEvent
	activeID string

	// saveMu orders snapshot writes so the last save reflects the latest state
	saveMu sync.Mutex
}

// NewEmergencyStateMachine creates an idle state machine. store and publisher may be nil.
func NewEmergencyStateMachine(
	sessionID string,
	rules *RuleSet,
	store SnapshotStore,
	publisher EmergencyPublisher,
	log *logger.Logger,
) *EmergencyStateMachine {
	if rules == nil {
		rules = NewRuleSet(DefaultRules())
	}
	return &EmergencyStateMachine{
		sessionID: sessionID,
		rules:     rules,
		store:     store,
		publisher: publisher,
		logger:    log.WithComponent("emergency").WithSession(sessionID),
		now:       time.Now,
		events:    []models.EmergencyEvent{},
	}
}

// SessionID returns the session the machine belongs to
func (m *EmergencyStateMachine) SessionID() string {
	return m.sessionID
}

// Rules returns the session rule set
func (m *EmergencyStateMachine) Rules() *RuleSet {
	return m.rules
}

func (m *EmergencyStateMachine) prepare(event models.EmergencyEvent, severity models.Severity) models.EmergencyEvent {
	e := event.Clone()
	if e.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			e.ID = id.String()
		} else {
			e.ID = uuid.NewString()
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}
	if e.Severity == "" {
		e.Severity = severity
	}
	if e.RuleID == "" {
		e.RuleID = unknownRuleID
	}
	e.Sources = models.NormalizeSources(e.Sources)
	return e
}

// Raise prepends the event to the timeline and makes it the active emergency,
// replacing any previously active one.
func (m *EmergencyStateMachine) Raise(ctx context.Context, event models.EmergencyEvent) models.EmergencyEvent {
	e := m.prepare(event, models.SeverityCritical)

	m.mu.Lock()
	m.events = append([]models.EmergencyEvent{e}, m.events...)
	m.activeID = e.ID
	m.mu.Unlock()

	if len(e.Sources) == 0 {
		metrics.EmergenciesRaised.WithLabelValues(defaultEventSubject, string(e.Severity)).Inc()
	}
	for _, src := range e.Sources {
		metrics.EmergenciesRaised.WithLabelValues(string(src), string(e.Severity)).Inc()
	}

	m.logger.Warn().
		Str("event_id", e.ID).
		Str("rule_id", e.RuleID).
		Str("severity", string(e.Severity)).
		Str("description", e.Description).
		Msg("emergency raised")

	m.persist(ctx)
	m.publish(ctx, models.EmergencyChangeRaised, e)

	return e.Clone()
}

// Record prepends a lower-severity entry without activating it
func (m *EmergencyStateMachine) Record(ctx context.Context, event models.EmergencyEvent) models.EmergencyEvent {
	e := m.prepare(event, models.SeverityMedium)

	m.mu.Lock()
	m.events = append([]models.EmergencyEvent{e}, m.events...)
	m.mu.Unlock()

	m.logger.Info().
		Str("event_id", e.ID).
		Str("severity", string(e.Severity)).
		Msg("timeline entry recorded")

	m.persist(ctx)
	m.publish(ctx, models.EmergencyChangeRecorded, e)

	return e.Clone()
}

// Dismiss clears the active emergency. The timeline is untouched and
// dismissing while idle is a no-op. It reports whether anything changed.
func (m *EmergencyStateMachine) Dismiss(ctx context.Context) bool {
	m.mu.Lock()
	if m.activeID == "" {
		m.mu.Unlock()
		return false
	}
	var dismissed models.EmergencyEvent
	if i := m.indexOf(m.activeID); i >= 0 {
		dismissed = m.events[i].Clone()
	}
	m.activeID = ""
	m.mu.Unlock()

	m.logger.Info().Str("event_id", dismissed.ID).Msg("emergency dismissed")

	m.persist(ctx)
	m.publish(ctx, models.EmergencyChangeDismissed, dismissed)
	return true
}

// Freeze records a wallet freeze on the active event
func (m *EmergencyStateMachine) Freeze(ctx context.Context, outcome models.ActionOutcome) (models.EmergencyEvent, error) {
	ann := models.Annotation{ActionTaken: ActionFrozen}
	if outcome.Success {
		ann.EstimatedLossPrevented = outcome.EstimatedLossPrevented
	}
	return m.applyAction(ctx, "", actionNameFreeze, outcome.Success, ann)
}

// Revoke records an approval revocation on the active event. Only an
// outcome carrying a sent transaction is recorded as revoked on-chain.
func (m *EmergencyStateMachine) Revoke(ctx context.Context, outcome models.ActionOutcome) (models.EmergencyEvent, error) {
	return m.applyAction(ctx, "", actionNameRevoke, outcome.Success, revokeAnnotation(outcome))
}

// RevokeEvent records a revocation on the event with the given id, which
// need not still be active. Callers that capture the active event before a
// slow on-chain call use it so the outcome lands on the event it was sent for.
func (m *EmergencyStateMachine) RevokeEvent(ctx context.Context, eventID string, outcome models.ActionOutcome) (models.EmergencyEvent, error) {
	if eventID == "" {
		return models.EmergencyEvent{}, fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	return m.applyAction(ctx, eventID, actionNameRevoke, outcome.Success, revokeAnnotation(outcome))
}

func revokeAnnotation(outcome models.ActionOutcome) models.Annotation {
	switch {
	case !outcome.Success:
		return models.Annotation{ActionTaken: ActionRevokeFailed}
	case outcome.OnChain:
		return models.Annotation{ActionTaken: ActionRevoked, EstimatedLossPrevented: outcome.EstimatedLossPrevented}
	default:
		return models.Annotation{ActionTaken: ActionRevokeRecorded, EstimatedLossPrevented: outcome.EstimatedLossPrevented}
	}
}

// applyAction annotates eventID, or the active event when eventID is empty
func (m *EmergencyStateMachine) applyAction(ctx context.Context, eventID, action string, success bool, ann models.Annotation) (models.EmergencyEvent, error) {
	m.mu.Lock()
	if eventID == "" {
		if m.activeID == "" {
			m.mu.Unlock()
			metrics.RemedialActions.WithLabelValues(action, "idle").Inc()
			return models.EmergencyEvent{}, ErrNoActiveEmergency
		}
		eventID = m.activeID
	}
	i := m.indexOf(eventID)
	if i < 0 {
		m.mu.Unlock()
		return models.EmergencyEvent{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	applyAnnotation(&m.events[i], ann)
	updated := m.events[i].Clone()
	m.mu.Unlock()

	outcome := "failed"
	if success {
		outcome = "success"
	}
	metrics.RemedialActions.WithLabelValues(action, outcome).Inc()

	m.logger.Info().
		Str("event_id", updated.ID).
		Str("action", action).
		Bool("success", success).
		Msg("remedial action recorded")

	m.persist(ctx)
	m.publish(ctx, models.EmergencyChangeAction, updated)
	return updated, nil
}

// Annotate patches the outcome fields of any event on the timeline
func (m *EmergencyStateMachine) Annotate(ctx context.Context, eventID string, ann models.Annotation) (models.EmergencyEvent, error) {
	m.mu.Lock()
	i := m.indexOf(eventID)
	if i < 0 {
		m.mu.Unlock()
		return models.EmergencyEvent{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	applyAnnotation(&m.events[i], ann)
	updated := m.events[i].Clone()
	m.mu.Unlock()

	m.persist(ctx)
	m.publish(ctx, models.EmergencyChangeAction, updated)
	return updated, nil
}

func applyAnnotation(e *models.EmergencyEvent, ann models.Annotation) {
	if ann.ActionTaken != "" {
		e.ActionTaken = ann.ActionTaken
	}
	if ann.EstimatedLossPrevented != "" {
		e.EstimatedLossPrevented = ann.EstimatedLossPrevented
	}
}

// State returns a deep copy of the current posture
func (m *EmergencyStateMachine) State() models.EmergencyState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := models.EmergencyState{
		Events: make([]models.EmergencyEvent, len(m.events)),
	}
	for i, e := range m.events {
		state.Events[i] = e.Clone()
	}
	if i := m.indexOf(m.activeID); i >= 0 {
		active := m.events[i].Clone()
		state.ActiveEmergency = &active
	}
	state.WalletEmergencyMode = state.ActiveEmergency != nil
	return state
}

// Active returns the active emergency, if any
func (m *EmergencyStateMachine) Active() (models.EmergencyEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.indexOf(m.activeID); i >= 0 {
		return m.events[i].Clone(), true
	}
	return models.EmergencyEvent{}, false
}

// Simulate raises the canned demo emergency of a rule type
func (m *EmergencyStateMachine) Simulate(ctx context.Context, ruleType models.RuleType) (models.EmergencyEvent, error) {
	sim, ok := simulations[ruleType]
	if !ok {
		return models.EmergencyEvent{}, fmt.Errorf("%w: unknown rule type %q", ErrInvalidInput, ruleType)
	}

	ruleID := unknownRuleID
	if rule, found := m.rules.ByType(ruleType); found {
		ruleID = rule.ID
	}

	return m.Raise(ctx, models.EmergencyEvent{
		RuleID:      ruleID,
		RuleLabel:   sim.label,
		Severity:    models.SeverityCritical,
		Description: sim.desc,
		Sources:     sim.sources,
	}), nil
}

// Snapshot returns the persisted form of the session
func (m *EmergencyStateMachine) Snapshot() *models.EmergencySnapshot {
	state := m.State()
	snap := &models.EmergencySnapshot{
		SessionID: m.sessionID,
		Events:    state.Events,
		Rules:     m.rules.List(),
		SavedAt:   m.now().UTC(),
	}
	if state.ActiveEmergency != nil {
		snap.ActiveEventID = state.ActiveEmergency.ID
	}
	return snap
}

// Restore loads the stored snapshot of the session, if any
func (m *EmergencyStateMachine) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	snap, err := m.store.LoadSnapshot(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	m.mu.Lock()
	m.events = make([]models.EmergencyEvent, 0, len(snap.Events))
	for _, e := range snap.Events {
		m.events = append(m.events, e.Clone())
	}
	m.activeID = ""
	if m.indexOf(snap.ActiveEventID) >= 0 {
		m.activeID = snap.ActiveEventID
	}
	count := len(m.events)
	m.mu.Unlock()

	if len(snap.Rules) > 0 {
		m.rules.Replace(snap.Rules)
	}

	m.logger.Info().
		Int("events", count).
		Bool("active", snap.ActiveEventID != "").
		Msg("session restored")
	return nil
}

// Persist writes the current snapshot to the store
func (m *EmergencyStateMachine) Persist(ctx context.Context) {
	m.persist(ctx)
}

func (m *EmergencyStateMachine) persist(ctx context.Context) {
	if m.store == nil {
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if err := m.store.SaveSnapshot(ctx, m.Snapshot()); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist emergency snapshot")
	}
}

func (m *EmergencyStateMachine) publish(ctx context.Context, change models.EmergencyChange, e models.EmergencyEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishEmergency(ctx, m.sessionID, change, e); err != nil {
		m.logger.Warn().Err(err).Str("change", string(change)).Msg("failed to publish emergency change")
	}
}

func (m *EmergencyStateMachine) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range m.events {
		if m.events[i].ID == id {
			return i
		}
	}
	return -1
}
