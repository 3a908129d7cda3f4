package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"walletguard-lab/internal/domain/models"
	"walletguard-lab/internal/metrics"
	"walletguard-lab/pkg/logger"
)

// Guard trigger labels for emergencies raised by analyzers
const (
	signingGuardRuleID  = "signing-guard"
	approvalGuardRuleID = "approval-guard"
	codeGuardRuleID     = "code-guard"
	decisionRuleID      = "user-decision"
)

// Engine bundles the stateless analyzers. It is safe for concurrent use
// and shared by every session.
type Engine struct {
	Registry  *ScamRegistry
	Resolver  *DomainTrustResolver
	Signing   *SigningAnalyzer
	Approvals *ApprovalAnalyzer
	Scanner   *CodeScanner
}

// NewEngine creates the analyzers with the built-in signature tables
func NewEngine() *Engine {
	registry := NewScamRegistry()
	resolver := NewDomainTrustResolver(registry)
	return &Engine{
		Registry:  registry,
		Resolver:  resolver,
		Signing:   NewSigningAnalyzer(resolver),
		Approvals: NewApprovalAnalyzer(),
		Scanner:   NewCodeScanner(),
	}
}

// Guard binds the analyzers to the emergency state of one session. Any
// critical verdict raises an emergency; malformed input never does.
type Guard struct {
	engine  *Engine
	machine *EmergencyStateMachine
	monitor *Monitor
	logger  *logger.Logger
}

// NewGuard creates a guard. monitor may be nil when no chain is configured.
func NewGuard(engine *Engine, machine *EmergencyStateMachine, monitor *Monitor, log *logger.Logger) *Guard {
	return &Guard{
		engine:  engine,
		machine: machine,
		monitor: monitor,
		logger:  log.WithComponent("guard").WithSession(machine.SessionID()),
	}
}

// Machine returns the session state machine
func (g *Guard) Machine() *EmergencyStateMachine {
	return g.machine
}

// Monitor returns the session monitor, or nil
func (g *Guard) Monitor() *Monitor {
	return g.monitor
}

func (g *Guard) monitoring() bool {
	return g.monitor != nil && g.monitor.Status().Running
}

// Engine returns the shared analyzers
func (g *Guard) Engine() *Engine {
	return g.engine
}

// CheckDomain resolves the trust status of a domain
func (g *Guard) CheckDomain(domain string) models.DomainAssessment {
	return g.engine.Resolver.Resolve(domain)
}

// AnalyzeSigning classifies a signing request and raises on critical
func (g *Guard) AnalyzeSigning(ctx context.Context, domain, message string) models.SigningVerdict {
	verdict := g.engine.Signing.Analyze(domain, message)
	metrics.VerdictsTotal.WithLabelValues("signing", verdict.RiskLevel.String()).Inc()

	if verdict.RiskLevel.IsCritical() {
		g.machine.Raise(ctx, models.EmergencyEvent{
			RuleID:      signingGuardRuleID,
			RuleLabel:   "Signing Guard",
			Severity:    models.SeverityCritical,
			Description: fmt.Sprintf("Critical signing request from %s: %s", domain, strings.Join(verdict.Reasons, "; ")),
			Sources:     []models.EventSource{models.EventSourceSigning},
		})
	}
	return verdict
}

// AnalyzeApproval classifies an approval and raises on critical. Malformed
// amounts return ErrInvalidInput with a safe verdict and raise nothing.
func (g *Guard) AnalyzeApproval(ctx context.Context, spender, amount, token string) (models.ApprovalVerdict, error) {
	verdict, err := g.engine.Approvals.Analyze(spender, amount, token)
	if err != nil {
		metrics.InvalidInputTotal.WithLabelValues("approval").Inc()
		g.logger.Debug().Err(err).Str("amount", amount).Msg("approval input rejected")
		return verdict, err
	}
	metrics.VerdictsTotal.WithLabelValues("approval", verdict.RiskLevel.String()).Inc()

	if verdict.RiskLevel.IsCritical() {
		g.machine.Raise(ctx, models.EmergencyEvent{
			RuleID:      approvalGuardRuleID,
			RuleLabel:   "Approval Guard",
			Severity:    models.SeverityCritical,
			Description: fmt.Sprintf("Critical approval of %s to %s: %s", token, spender, strings.Join(verdict.Reasons, "; ")),
			Sources:     []models.EventSource{models.EventSourceApproval},
		})
	}
	return verdict, nil
}

// ScanCode scans contract source and raises on critical
func (g *Guard) ScanCode(ctx context.Context, source string) models.CodeScanResult {
	result := g.engine.Scanner.Scan(source)
	metrics.VerdictsTotal.WithLabelValues("code", result.RiskLevel.String()).Inc()

	if result.RiskLevel.IsCritical() {
		g.machine.Raise(ctx, models.EmergencyEvent{
			RuleID:      codeGuardRuleID,
			RuleLabel:   "Code Safety Guard",
			Severity:    models.SeverityCritical,
			Description: fmt.Sprintf("Contract scan scored %d/100: %s", result.Score, result.Summary),
			Sources:     []models.EventSource{models.EventSourceCodeSafety},
		})
	}
	return result
}

// RecordDecision logs a user's answer to a non-critical verdict. Rejections
// are recorded as high severity and allowances as medium.
func (g *Guard) RecordDecision(ctx context.Context, d models.Decision) (models.EmergencyEvent, error) {
	if !d.Source.IsValid() {
		return models.EmergencyEvent{}, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, d.Source)
	}

	severity := models.SeverityMedium
	verb := "allowed"
	if !d.Allowed {
		severity = models.SeverityHigh
		verb = "rejected"
	}

	description := fmt.Sprintf("User %s a %s %s request", verb, d.RiskLevel, d.Source)
	if s := strings.TrimSpace(d.Summary); s != "" {
		description += ": " + s
	}

	return g.machine.Record(ctx, models.EmergencyEvent{
		RuleID:      decisionRuleID,
		RuleLabel:   "User Decision",
		Severity:    severity,
		Description: description,
		Sources:     []models.EventSource{d.Source},
	}), nil
}

// IsInvalidInput reports whether err marks malformed analyzer input
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
