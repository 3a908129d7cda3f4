package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"walletguard-lab/internal/domain/models"
	"walletguard-lab/internal/metrics"
	"walletguard-lab/pkg/logger"
)

// ErrMonitorRunning is returned when starting a monitor that already runs
var ErrMonitorRunning = errors.New("monitor already running")

// BalanceSource supplies the current native balance of an address
type BalanceSource interface {
	Balance(ctx context.Context, address string) (float64, error)
}

// TransferSource supplies token transfers touching owner since a point in time
type TransferSource interface {
	RecentTransfers(ctx context.Context, token, owner string, since time.Time) ([]models.Transfer, error)
}

// CheckBalanceDrain compares two consecutive balance observations against a
// balance_drain rule. A zero previous balance never triggers.
func CheckBalanceDrain(previous, current float64, rule models.EmergencyRule) (models.EmergencyEvent, bool) {
	if !rule.Enabled || rule.Type != models.RuleTypeBalanceDrain {
		return models.EmergencyEvent{}, false
	}
	if previous <= 0 {
		return models.EmergencyEvent{}, false
	}

	percentChange := (current - previous) / previous * 100
	threshold := math.Abs(rule.PercentThreshold)
	if percentChange >= -threshold {
		return models.EmergencyEvent{}, false
	}

	return models.EmergencyEvent{
		RuleID:    rule.ID,
		RuleLabel: rule.Label,
		Severity:  models.SeverityCritical,
		Description: fmt.Sprintf(
			"Wallet balance dropped %.1f%% (threshold %.1f%%): %.4f -> %.4f",
			-percentChange, threshold, previous, current,
		),
		Sources: []models.EventSource{models.EventSourceBalanceDrain},
	}, true
}

type watchedApproval struct {
	token      string
	spender    string
	amount     string
	approvedAt time.Time
}

// Monitor polls a wallet balance on a fixed cadence and follows up on
// recently granted approvals. One monitor belongs to one session.
type Monitor struct {
	machine   *EmergencyStateMachine
	balances  BalanceSource
	transfers TransferSource
	interval  time.Duration
	logger    *logger.Logger
	now       func() time.Time

	mu              sync.Mutex
	running         bool
	address         string
	previousBalance float64
	lastCheck       time.Time
	lastError       string
	watches         []watchedApproval
	stop            chan struct{}
	done            chan struct{}
}

// NewMonitor creates a stopped monitor. transfers may be nil, which disables
// approval follow-up.
func NewMonitor(
	machine *EmergencyStateMachine,
	balances BalanceSource,
	transfers TransferSource,
	interval time.Duration,
	log *logger.Logger,
) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		machine:   machine,
		balances:  balances,
		transfers: transfers,
		interval:  interval,
		logger:    log.WithComponent("monitor").WithSession(machine.SessionID()),
		now:       time.Now,
	}
}

// Start takes a first balance reading with ctx and begins polling address.
// The loop outlives ctx and runs until Stop.
func (m *Monitor) Start(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	if m.balances == nil {
		return fmt.Errorf("%w: no balance source configured", ErrInvalidInput)
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrMonitorRunning
	}
	m.running = true
	m.address = address
	m.previousBalance = 0
	m.lastError = ""
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	metrics.ActiveMonitors.Inc()
	m.logger.Info().Str("address", address).Dur("interval", m.interval).Msg("monitor started")

	m.CheckNow(ctx)

	go m.pollLoop(context.WithoutCancel(ctx), stop, done)
	return nil
}

// Stop stops polling and waits for the loop to exit. It is a no-op when
// the monitor is not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done

	metrics.ActiveMonitors.Dec()
	m.logger.Info().Msg("monitor stopped")
}

func (m *Monitor) pollLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs one monitoring tick. A failed balance fetch skips the tick
// and leaves the previous baseline in place.
func (m *Monitor) CheckNow(ctx context.Context) {
	m.mu.Lock()
	address := m.address
	m.mu.Unlock()
	if address == "" {
		return
	}

	current, err := m.balances.Balance(ctx, address)
	if err != nil {
		m.mu.Lock()
		m.lastError = err.Error()
		m.mu.Unlock()
		metrics.MonitorTicks.WithLabelValues("fetch_error").Inc()
		m.logger.Warn().Err(err).Str("address", address).Msg("balance fetch failed, skipping tick")
		return
	}

	m.mu.Lock()
	previous := m.previousBalance
	m.previousBalance = current
	m.lastCheck = m.now()
	m.lastError = ""
	m.mu.Unlock()

	result := "ok"
	if rule, ok := m.machine.Rules().ByType(models.RuleTypeBalanceDrain); ok {
		if event, drained := CheckBalanceDrain(previous, current, rule); drained {
			m.machine.Raise(ctx, event)
			result = "drain"
		}
	}
	metrics.MonitorTicks.WithLabelValues(result).Inc()

	m.checkApprovals(ctx, address)
}

// WatchApproval registers a granted approval for abuse follow-up
func (m *Monitor) WatchApproval(token, spender, amount string, approvedAt time.Time) error {
	if strings.TrimSpace(spender) == "" {
		return fmt.Errorf("%w: spender is required", ErrInvalidInput)
	}
	if _, err := ParseAmount(amount); err != nil {
		return err
	}
	if approvedAt.IsZero() {
		approvedAt = m.now()
	}

	m.mu.Lock()
	m.watches = append(m.watches, watchedApproval{
		token:      token,
		spender:    spender,
		amount:     amount,
		approvedAt: approvedAt,
	})
	m.mu.Unlock()

	m.logger.Debug().Str("spender", spender).Str("token", token).Msg("approval watch registered")
	return nil
}

func (m *Monitor) checkApprovals(ctx context.Context, address string) {
	if m.transfers == nil {
		return
	}

	m.mu.Lock()
	watches := append([]watchedApproval(nil), m.watches...)
	m.mu.Unlock()
	if len(watches) == 0 {
		return
	}

	rule, ruleOK := m.machine.Rules().ByType(models.RuleTypeApprovalAbuse)
	enabled := ruleOK && rule.Enabled
	now := m.now()
	finished := make(map[int]bool)

	for i, w := range watches {
		expired := now.Sub(w.approvedAt) >= abuseWindow

		transfers, err := m.transfers.RecentTransfers(ctx, w.token, address, w.approvedAt)
		if err != nil {
			m.logger.Warn().Err(err).Str("token", w.token).Msg("transfer fetch failed")
			if expired {
				finished[i] = true
			}
			continue
		}

		report := DetectApprovalAbuse(w.approvedAt, w.amount, w.spender, transfers)
		switch {
		case report.IsAbused:
			finished[i] = true
			if !enabled {
				continue
			}
			m.machine.Raise(ctx, models.EmergencyEvent{
				RuleID:      rule.ID,
				RuleLabel:   rule.Label,
				Severity:    models.SeverityCritical,
				Description: fmt.Sprintf("Approval to %s abused: %s", w.spender, strings.Join(report.AbuseSigns, "; ")),
				Sources:     []models.EventSource{models.EventSourceApproval},
			})
			metrics.MonitorTicks.WithLabelValues("abuse").Inc()
		case expired:
			finished[i] = true
			if enabled && report.Severity == models.RiskLevelWarning {
				m.machine.Record(ctx, models.EmergencyEvent{
					RuleID:      rule.ID,
					RuleLabel:   rule.Label,
					Severity:    models.SeverityMedium,
					Description: fmt.Sprintf("%s (spender %s)", ReasonNoSwapAfterApproval, w.spender),
					Sources:     []models.EventSource{models.EventSourceApproval},
				})
			}
		}
	}

	if len(finished) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.watches[:0]
	for _, w := range m.watches {
		if !containsWatch(watches, finished, w) {
			kept = append(kept, w)
		}
	}
	m.watches = kept
}

func containsWatch(snapshot []watchedApproval, finished map[int]bool, w watchedApproval) bool {
	for i := range finished {
		if snapshot[i] == w {
			return true
		}
	}
	return false
}

// Status reports the monitor state
func (m *Monitor) Status() models.MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := models.MonitorStatus{
		Running:          m.running,
		Address:          m.address,
		PreviousBalance:  m.previousBalance,
		LastError:        m.lastError,
		WatchedApprovals: len(m.watches),
	}
	if !m.lastCheck.IsZero() {
		t := m.lastCheck
		status.LastCheck = &t
	}
	return status
}
