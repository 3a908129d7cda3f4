package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"walletguard-lab/internal/domain/models"
	"walletguard-lab/internal/metrics"
	"walletguard-lab/pkg/logger"
)

// DefaultSessionID is used when a caller does not name a session
const DefaultSessionID = "default"

// Session bounds applied when SessionConfig leaves them unset
const (
	DefaultMaxSessions    = 10000
	DefaultSessionIdleTTL = 30 * time.Minute
)

// SessionConfig holds the collaborators shared by every session
type SessionConfig struct {
	Store        SnapshotStore
	Publisher    EmergencyPublisher
	Balances     BalanceSource
	Transfers    TransferSource
	Rules        []models.EmergencyRule
	PollInterval time.Duration

	// MaxSessions caps the sessions held in memory. The least recently
	// used session is evicted to make room.
	MaxSessions int
	// IdleTTL is how long an unused session without a running monitor
	// stays in memory
	IdleTTL time.Duration
}

type sessionEntry struct {
	guard    *Guard
	ready    chan struct{}
	lastUsed time.Time
}

func (e *sessionEntry) isReady() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// SessionManager hands out one Guard per session id, creating and
// restoring sessions on first use. Evicted sessions are restored from the
// store when they are next used.
type SessionManager struct {
	engine *Engine
	cfg    SessionConfig
	root   *logger.Logger
	logger *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewSessionManager creates a session manager
func NewSessionManager(engine *Engine, cfg SessionConfig, log *logger.Logger) *SessionManager {
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultSessionIdleTTL
	}
	return &SessionManager{
		engine:   engine,
		cfg:      cfg,
		root:     log,
		logger:   log.WithComponent("sessions"),
		now:      time.Now,
		sessions: make(map[string]*sessionEntry),
	}
}

// Engine returns the shared analyzers
func (sm *SessionManager) Engine() *Engine {
	return sm.engine
}

// Rules returns the rules new sessions are seeded with
func (sm *SessionManager) Rules() []models.EmergencyRule {
	return append([]models.EmergencyRule(nil), sm.cfg.Rules...)
}

// MonitorEnabled reports whether sessions get a balance monitor
func (sm *SessionManager) MonitorEnabled() bool {
	return sm.cfg.Balances != nil
}

func normalizeSessionID(sessionID string) string {
	if id := strings.TrimSpace(sessionID); id != "" {
		return id
	}
	return DefaultSessionID
}

// Get returns the guard of a session, creating it on first use. A stored
// snapshot is restored into new sessions; restore failures are logged and
// the session starts empty. The restore runs outside the manager lock, so
// a slow store only delays callers of the same session.
func (sm *SessionManager) Get(ctx context.Context, sessionID string) *Guard {
	id := normalizeSessionID(sessionID)

	sm.mu.Lock()
	if e, ok := sm.sessions[id]; ok {
		e.lastUsed = sm.now()
		sm.mu.Unlock()
		<-e.ready
		return e.guard
	}
	e := &sessionEntry{ready: make(chan struct{}), lastUsed: sm.now()}
	sm.sessions[id] = e
	evicted := sm.evictLRULocked()
	count := len(sm.sessions)
	sm.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	sm.release(evicted, "capacity")

	e.guard = sm.build(ctx, id)
	close(e.ready)

	sm.logger.Debug().Str("session_id", id).Msg("session created")
	return e.guard
}

// Lookup returns the guard of a session held in memory or saved in the
// store. Unlike Get it never creates an empty session.
func (sm *SessionManager) Lookup(ctx context.Context, sessionID string) (*Guard, bool) {
	id := normalizeSessionID(sessionID)

	sm.mu.Lock()
	e, ok := sm.sessions[id]
	if ok {
		e.lastUsed = sm.now()
	}
	sm.mu.Unlock()
	if ok {
		<-e.ready
		return e.guard, true
	}

	if sm.cfg.Store == nil {
		return nil, false
	}
	snap, err := sm.cfg.Store.LoadSnapshot(ctx, id)
	if err != nil {
		sm.logger.Warn().Err(err).Str("session_id", id).Msg("failed to look up session")
		return nil, false
	}
	if snap == nil {
		return nil, false
	}
	return sm.Get(ctx, id), true
}

func (sm *SessionManager) build(ctx context.Context, id string) *Guard {
	rules := NewRuleSet(sm.cfg.Rules)
	machine := NewEmergencyStateMachine(id, rules, sm.cfg.Store, sm.cfg.Publisher, sm.root)
	if err := machine.Restore(ctx); err != nil {
		sm.logger.Warn().Err(err).Str("session_id", id).Msg("failed to restore session, starting empty")
	}

	var monitor *Monitor
	if sm.cfg.Balances != nil {
		monitor = NewMonitor(machine, sm.cfg.Balances, sm.cfg.Transfers, sm.cfg.PollInterval, sm.root)
	}
	return NewGuard(sm.engine, machine, monitor, sm.root)
}

// evictLRULocked drops least recently used sessions while over capacity.
// Sessions without a running monitor go first. Sessions still restoring
// are never evicted.
func (sm *SessionManager) evictLRULocked() []*Guard {
	var evicted []*Guard
	for len(sm.sessions) > sm.cfg.MaxSessions {
		id := sm.oldestLocked(false)
		if id == "" {
			id = sm.oldestLocked(true)
		}
		if id == "" {
			break
		}
		evicted = append(evicted, sm.sessions[id].guard)
		delete(sm.sessions, id)
	}
	return evicted
}

func (sm *SessionManager) oldestLocked(includeMonitoring bool) string {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range sm.sessions {
		if !e.isReady() || (!includeMonitoring && e.guard.monitoring()) {
			continue
		}
		if oldestID == "" || e.lastUsed.Before(oldest) {
			oldestID, oldest = id, e.lastUsed
		}
	}
	return oldestID
}

// EvictIdle drops sessions unused for longer than the idle TTL. Sessions
// with a running monitor are kept. It returns the number evicted.
func (sm *SessionManager) EvictIdle() int {
	cutoff := sm.now().Add(-sm.cfg.IdleTTL)

	sm.mu.Lock()
	var evicted []*Guard
	for id, e := range sm.sessions {
		if !e.isReady() || e.lastUsed.After(cutoff) || e.guard.monitoring() {
			continue
		}
		evicted = append(evicted, e.guard)
		delete(sm.sessions, id)
	}
	count := len(sm.sessions)
	sm.mu.Unlock()

	if len(evicted) > 0 {
		metrics.ActiveSessions.Set(float64(count))
		sm.release(evicted, "idle")
	}
	return len(evicted)
}

// Run evicts idle sessions every interval until ctx is done
func (sm *SessionManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sm.EvictIdle(); n > 0 {
				sm.logger.Debug().Int("evicted", n).Msg("idle sessions evicted")
			}
		}
	}
}

func (sm *SessionManager) release(guards []*Guard, reason string) {
	for _, g := range guards {
		if g.monitor != nil {
			g.monitor.Stop()
		}
		metrics.SessionsEvicted.WithLabelValues(reason).Inc()
		sm.logger.Debug().
			Str("session_id", g.Machine().SessionID()).
			Str("reason", reason).
			Msg("session evicted")
	}
}

// IDs returns the ids of all sessions held in memory
func (sm *SessionManager) IDs() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every running monitor
func (sm *SessionManager) Close() {
	sm.mu.Lock()
	entries := make([]*sessionEntry, 0, len(sm.sessions))
	for _, e := range sm.sessions {
		entries = append(entries, e)
	}
	sm.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.guard.monitor != nil {
			e.guard.monitor.Stop()
		}
	}
	sm.logger.Info().Int("sessions", len(entries)).Msg("sessions closed")
}
