package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletguard-lab/internal/domain/models"
	"walletguard-lab/pkg/logger"
)

type recordedChange struct {
	change models.EmergencyChange
	event  models.EmergencyEvent
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (p *recordingPublisher) PublishEmergency(_ context.Context, _ string, change models.EmergencyChange, event models.EmergencyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, recordedChange{change: change, event: event})
	return nil
}

func (p *recordingPublisher) kinds() []models.EmergencyChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EmergencyChange, len(p.changes))
	for i, c := range p.changes {
		out[i] = c.change
	}
	return out
}

// jsonStore round-trips snapshots through JSON like the redis backend
type jsonStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	fail  bool
}

func newJSONStore() *jsonStore {
	return &jsonStore{blobs: make(map[string][]byte)}
}

func (s *jsonStore) SaveSnapshot(_ context.Context, snap *models.EmergencySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unavailable")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.blobs[snap.SessionID] = data
	return nil
}

func (s *jsonStore) LoadSnapshot(_ context.Context, sessionID string) (*models.EmergencySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store unavailable")
	}
	data, ok := s.blobs[sessionID]
	if !ok {
		return nil, nil
	}
	var snap models.EmergencySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func newTestMachine(store SnapshotStore, pub EmergencyPublisher) *EmergencyStateMachine {
	return NewEmergencyStateMachine("test-session", NewRuleSet(DefaultRules()), store, pub, logger.NewNop())
}

func criticalEvent(desc string, sources ...models.EventSource) models.EmergencyEvent {
	return models.EmergencyEvent{
		RuleID:      "rule-1",
		RuleLabel:   "Balance Drain Detection",
		Severity:    models.SeverityCritical,
		Description: desc,
		Sources:     sources,
	}
}

func TestRaiseReplacesActiveAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(nil, nil)

	e1 := m.Raise(ctx, criticalEvent("first", models.EventSourceSigning))
	e2 := m.Raise(ctx, criticalEvent("second", models.EventSourceApproval))

	state := m.State()
	require.NotNil(t, state.ActiveEmergency)
	assert.Equal(t, e2.ID, state.ActiveEmergency.ID)
	assert.True(t, state.WalletEmergencyMode)
	require.Len(t, state.Events, 2)
	assert.Equal(t, e2.ID, state.Events[0].ID)
	assert.Equal(t, e1.ID, state.Events[1].ID)
	assert.NotEqual(t, e1.ID, e2.ID)
	assert.False(t, e1.Timestamp.IsZero())
}

func TestRaiseNormalizesSources(t *testing.T) {
	m := newTestMachine(nil, nil)

	e := m.Raise(context.Background(), criticalEvent("dup",
		models.EventSourceSigning, models.EventSourceApproval, models.EventSourceSigning))

	assert.Equal(t, []models.EventSource{models.EventSourceSigning, models.EventSourceApproval}, e.Sources)
}

func TestDismissIsIdempotentAndKeepsTimeline(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(nil, nil)

	assert.False(t, m.Dismiss(ctx))

	m.Raise(ctx, criticalEvent("x"))
	assert.True(t, m.Dismiss(ctx))
	assert.False(t, m.Dismiss(ctx))

	state := m.State()
	assert.Nil(t, state.ActiveEmergency)
	assert.False(t, state.WalletEmergencyMode)
	assert.Len(t, state.Events, 1)
}

func TestRemedialActionsWhileIdleAreNoOps(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(nil, nil)

	m.Raise(ctx, criticalEvent("a"))
	m.Raise(ctx, criticalEvent("b"))
	m.Dismiss(ctx)

	_, err := m.Freeze(ctx, models.ActionOutcome{Success: true, EstimatedLossPrevented: "1 MON"})
	assert.True(t, errors.Is(err, ErrNoActiveEmergency))
	_, err = m.Revoke(ctx, models.ActionOutcome{Success: true})
	assert.True(t, errors.Is(err, ErrNoActiveEmergency))

	for _, e := range m.State().Events {
		assert.Empty(t, e.ActionTaken)
		assert.Empty(t, e.EstimatedLossPrevented)
	}
}

func TestFreezeAnnotatesActiveEvent(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(nil, nil)

	older := m.Raise(ctx, criticalEvent("older"))
	active := m.Raise(ctx, criticalEvent("active"))

	updated, err := m.Freeze(ctx, models.ActionOutcome{Success: true, EstimatedLossPrevented: "~1.3 MON"})
	require.NoError(t, err)
	assert.Equal(t, active.ID, updated.ID)
	assert.Equal(t, ActionFrozen, updated.ActionTaken)
	assert.Equal(t, "~1.3 MON", updated.EstimatedLossPrevented)

	state := m.State()
	// no state transition
	require.NotNil(t, state.ActiveEmergency)
	assert.Equal(t, ActionFrozen, state.ActiveEmergency.ActionTaken)
	assert.Equal(t, ActionFrozen, state.Events[0].ActionTaken)
	assert.Equal(t, older.ID, state.Events[1].ID)
	assert.Empty(t, state.Events[1].ActionTaken)
}

func TestRevokeOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		m := newTestMachine(nil, nil)
		m.Raise(ctx, criticalEvent("x"))

		e, err := m.Revoke(ctx, models.ActionOutcome{Success: true, EstimatedLossPrevented: "~2.1 MON", TxHash: "0xabc", OnChain: true})
		require.NoError(t, err)
		assert.Equal(t, ActionRevoked, e.ActionTaken)
		assert.Equal(t, "~2.1 MON", e.EstimatedLossPrevented)
	})

	t.Run("success without transaction is recorded only", func(t *testing.T) {
		m := newTestMachine(nil, nil)
		m.Raise(ctx, criticalEvent("x"))

		e, err := m.Revoke(ctx, models.ActionOutcome{Success: true, EstimatedLossPrevented: "~2.1 MON"})
		require.NoError(t, err)
		assert.Equal(t, ActionRevokeRecorded, e.ActionTaken)
		assert.Equal(t, "~2.1 MON", e.EstimatedLossPrevented)
	})

	t.Run("failure is recorded only", func(t *testing.T) {
		m := newTestMachine(nil, nil)
		m.Raise(ctx, criticalEvent("x"))

		e, err := m.Revoke(ctx, models.ActionOutcome{Success: false, EstimatedLossPrevented: "~2.1 MON"})
		require.NoError(t, err)
		assert.Equal(t, ActionRevokeFailed, e.ActionTaken)
		assert.Empty(t, e.EstimatedLossPrevented)
	})
}

func TestRevokeEventTargetsCapturedEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("after a newer raise", func(t *testing.T) {
		m := newTestMachine(nil, nil)
		first := m.Raise(ctx, criticalEvent("first"))
		second := m.Raise(ctx, criticalEvent("second"))

		e, err := m.RevokeEvent(ctx, first.ID, models.ActionOutcome{Success: true, TxHash: "0xabc", OnChain: true})
		require.NoError(t, err)
		assert.Equal(t, first.ID, e.ID)
		assert.Equal(t, ActionRevoked, e.ActionTaken)

		active, ok := m.Active()
		require.True(t, ok)
		assert.Equal(t, second.ID, active.ID)
		assert.Empty(t, active.ActionTaken)
	})

	t.Run("after dismiss", func(t *testing.T) {
		m := newTestMachine(nil, nil)
		first := m.Raise(ctx, criticalEvent("first"))
		require.True(t, m.Dismiss(ctx))

		e, err := m.RevokeEvent(ctx, first.ID, models.ActionOutcome{Success: false})
		require.NoError(t, err)
		assert.Equal(t, ActionRevokeFailed, e.ActionTaken)
		assert.False(t, m.State().WalletEmergencyMode)
	})

	t.Run("unknown event", func(t *testing.T) {
		m := newTestMachine(nil, nil)
		_, err := m.RevokeEvent(ctx, "missing", models.ActionOutcome{Success: true})
		assert.ErrorIs(t, err, ErrEventNotFound)

		_, err = m.RevokeEvent(ctx, "", models.ActionOutcome{Success: true})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestAnnotate(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(nil, nil)

	e := m.Raise(ctx, criticalEvent("x"))
	m.Dismiss(ctx)

	_, err := m.Annotate(ctx, "missing", models.Annotation{ActionTaken: "noop"})
	assert.True(t, errors.Is(err, ErrEventNotFound))

	updated, err := m.Annotate(ctx, e.ID, models.Annotation{ActionTaken: "Reported to support"})
	require.NoError(t, err)
	assert.Equal(t, "Reported to support", updated.ActionTaken)
	assert.Equal(t, "Reported to support", m.State().Events[0].ActionTaken)
}

func TestRecordDoesNotActivate(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(nil, nil)

	e := m.Record(ctx, models.EmergencyEvent{Description: "user allowed", Sources: []models.EventSource{models.EventSourceSigning}})

	assert.Equal(t, models.SeverityMedium, e.Severity)
	state := m.State()
	assert.Nil(t, state.ActiveEmergency)
	assert.Len(t, state.Events, 1)
}

func TestStateIsDeepCopy(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(nil, nil)
	m.Raise(ctx, criticalEvent("x", models.EventSourceSigning))

	state := m.State()
	state.Events[0].Description = "mutated"
	state.Events[0].Sources[0] = models.EventSourceApproval
	state.ActiveEmergency.ActionTaken = "mutated"

	fresh := m.State()
	assert.Equal(t, "x", fresh.Events[0].Description)
	assert.Equal(t, models.EventSourceSigning, fresh.Events[0].Sources[0])
	assert.Empty(t, fresh.ActiveEmergency.ActionTaken)
}

func TestSimulate(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(nil, nil)

	e, err := m.Simulate(ctx, models.RuleTypeBalanceDrain)
	require.NoError(t, err)
	assert.Equal(t, "rule-1", e.RuleID)
	assert.Equal(t, "Balance Drain Detection", e.RuleLabel)
	assert.Contains(t, e.Description, "31%")
	assert.Equal(t, []models.EventSource{models.EventSourceBalanceDrain}, e.Sources)

	e, err = m.Simulate(ctx, models.RuleTypePriceCrash)
	require.NoError(t, err)
	assert.Equal(t, "rule-3", e.RuleID)

	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, e.ID, active.ID)

	_, err = m.Simulate(ctx, "gas_spike")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSimulateWithoutMatchingRule(t *testing.T) {
	m := NewEmergencyStateMachine("s", NewRuleSet(nil), nil, nil, logger.NewNop())

	e, err := m.Simulate(context.Background(), models.RuleTypeApprovalAbuse)
	require.NoError(t, err)
	assert.Equal(t, "unknown", e.RuleID)
}

func TestPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	store := newJSONStore()

	m := newTestMachine(store, nil)
	first := m.Raise(ctx, criticalEvent("first"))
	m.Dismiss(ctx)
	second := m.Raise(ctx, criticalEvent("second"))
	_, err := m.Freeze(ctx, models.ActionOutcome{Success: true, EstimatedLossPrevented: "1 MON"})
	require.NoError(t, err)
	_, err = m.Rules().Toggle("rule-3")
	require.NoError(t, err)
	m.Persist(ctx)

	restored := newTestMachine(store, nil)
	require.NoError(t, restored.Restore(ctx))

	state := restored.State()
	require.NotNil(t, state.ActiveEmergency)
	assert.Equal(t, second.ID, state.ActiveEmergency.ID)
	require.Len(t, state.Events, 2)
	assert.Equal(t, first.ID, state.Events[1].ID)
	assert.True(t, first.Timestamp.Equal(state.Events[1].Timestamp))
	assert.Equal(t, ActionFrozen, state.Events[0].ActionTaken)

	crash, ok := restored.Rules().ByType(models.RuleTypePriceCrash)
	require.True(t, ok)
	assert.True(t, crash.Enabled)
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	m := newTestMachine(newJSONStore(), nil)

	require.NoError(t, m.Restore(context.Background()))
	assert.Empty(t, m.State().Events)
}

func TestStoreFailuresAreNotFatal(t *testing.T) {
	ctx := context.Background()
	store := newJSONStore()
	store.fail = true
	m := newTestMachine(store, nil)

	e := m.Raise(ctx, criticalEvent("x"))
	assert.NotEmpty(t, e.ID)
	assert.Len(t, m.State().Events, 1)
	assert.Error(t, m.Restore(ctx))
}

func TestPublishesChanges(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	m := newTestMachine(nil, pub)

	m.Raise(ctx, criticalEvent("x"))
	_, err := m.Freeze(ctx, models.ActionOutcome{Success: true})
	require.NoError(t, err)
	m.Dismiss(ctx)
	m.Dismiss(ctx)
	m.Record(ctx, models.EmergencyEvent{Description: "allowed"})

	assert.Equal(t, []models.EmergencyChange{
		models.EmergencyChangeRaised,
		models.EmergencyChangeAction,
		models.EmergencyChangeDismissed,
		models.EmergencyChangeRecorded,
	}, pub.kinds())
}

func TestConcurrentRaisesKeepEveryEvent(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(NewMemorySnapshotStore(), nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Raise(ctx, criticalEvent(fmt.Sprintf("event %d", i)))
		}(i)
	}
	wg.Wait()

	state := m.State()
	require.Len(t, state.Events, n)
	require.NotNil(t, state.ActiveEmergency)
	// the last raise processed is the newest entry
	assert.Equal(t, state.Events[0].ID, state.ActiveEmergency.ID)
}
