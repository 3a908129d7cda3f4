package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"walletguard-lab/internal/domain/models"
)

// ErrRuleNotFound is returned when a rule id does not exist
var ErrRuleNotFound = errors.New("rule not found")

// DefaultRules returns the rule set every new session starts with
func DefaultRules() []models.EmergencyRule {
	return []models.EmergencyRule{
		{
			ID:                "rule-1",
			Type:              models.RuleTypeBalanceDrain,
			Enabled:           true,
			Label:             "Balance Drain Detection",
			PercentThreshold:  30,
			TimeWindowSeconds: 60,
		},
		{
			ID:                "rule-2",
			Type:              models.RuleTypeApprovalAbuse,
			Enabled:           true,
			Label:             "Approval Abuse Detection",
			PercentThreshold:  0,
			TimeWindowSeconds: 30,
		},
		{
			ID:                "rule-3",
			Type:              models.RuleTypePriceCrash,
			Enabled:           false,
			Label:             "Price Crash Detection",
			PercentThreshold:  25,
			TimeWindowSeconds: 120,
		},
	}
}

// RuleSet is the caller-owned list of emergency rules of one session
type RuleSet struct {
	mu    sync.RWMutex
	rules []models.EmergencyRule
}

// NewRuleSet creates a rule set seeded with the given rules
func NewRuleSet(seed []models.EmergencyRule) *RuleSet {
	rules := make([]models.EmergencyRule, len(seed))
	copy(rules, seed)
	return &RuleSet{rules: rules}
}

// List returns a copy of the rules in insertion order
func (s *RuleSet) List() []models.EmergencyRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.EmergencyRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Get returns the rule with the given id
func (s *RuleSet) Get(id string) (models.EmergencyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.rules[i], nil
	}
	return models.EmergencyRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// ByType returns the first rule of the given type, if any
func (s *RuleSet) ByType(t models.RuleType) (models.EmergencyRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rules {
		if r.Type == t {
			return r, true
		}
	}
	return models.EmergencyRule{}, false
}

// Add appends a rule, assigning an id when none is given.
// Only the rule type and label are required.
func (s *RuleSet) Add(rule models.EmergencyRule) (models.EmergencyRule, error) {
	if !rule.Type.IsValid() {
		return models.EmergencyRule{}, fmt.Errorf("%w: unknown rule type %q", ErrInvalidInput, rule.Type)
	}
	if strings.TrimSpace(rule.Label) == "" {
		return models.EmergencyRule{}, fmt.Errorf("%w: rule label is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = "rule-" + uuid.NewString()
	}
	if s.indexOf(rule.ID) >= 0 {
		return models.EmergencyRule{}, fmt.Errorf("%w: rule %s already exists", ErrInvalidInput, rule.ID)
	}
	s.rules = append(s.rules, rule)
	return rule, nil
}

// Update applies a partial update to a rule
func (s *RuleSet) Update(id string, u models.RuleUpdate) (models.EmergencyRule, error) {
	if u.Type != nil && !u.Type.IsValid() {
		return models.EmergencyRule{}, fmt.Errorf("%w: unknown rule type %q", ErrInvalidInput, *u.Type)
	}
	if u.Label != nil && strings.TrimSpace(*u.Label) == "" {
		return models.EmergencyRule{}, fmt.Errorf("%w: rule label is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.EmergencyRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	r := &s.rules[i]
	if u.Type != nil {
		r.Type = *u.Type
	}
	if u.Enabled != nil {
		r.Enabled = *u.Enabled
	}
	if u.Label != nil {
		r.Label = *u.Label
	}
	if u.PercentThreshold != nil {
		r.PercentThreshold = *u.PercentThreshold
	}
	if u.TimeWindowSeconds != nil {
		r.TimeWindowSeconds = *u.TimeWindowSeconds
	}
	return *r, nil
}

// Delete removes a rule
func (s *RuleSet) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	s.rules = append(s.rules[:i], s.rules[i+1:]...)
	return nil
}

// Toggle flips the enabled flag of a rule
func (s *RuleSet) Toggle(id string) (models.EmergencyRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.EmergencyRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	s.rules[i].Enabled = !s.rules[i].Enabled
	return s.rules[i], nil
}

// Replace swaps the whole rule list, used when restoring a snapshot
func (s *RuleSet) Replace(rules []models.EmergencyRule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = make([]models.EmergencyRule, len(rules))
	copy(s.rules, rules)
}

func (s *RuleSet) indexOf(id string) int {
	for i := range s.rules {
		if s.rules[i].ID == id {
			return i
		}
	}
	return -1
}

// RulesFromConfig converts configured seed rules, skipping entries with an unknown type
func RulesFromConfig(seed []RuleSeed) []models.EmergencyRule {
	if len(seed) == 0 {
		return DefaultRules()
	}
	out := make([]models.EmergencyRule, 0, len(seed))
	for i, s := range seed {
		t := models.RuleType(s.Type)
		if !t.IsValid() {
			continue
		}
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("rule-%d", i+1)
		}
		out = append(out, models.EmergencyRule{
			ID:                id,
			Type:              t,
			Enabled:           s.Enabled,
			Label:             s.Label,
			PercentThreshold:  s.PercentThreshold,
			TimeWindowSeconds: s.TimeWindowSeconds,
		})
	}
	return out
}

// RuleSeed is a rule as it appears in configuration
type RuleSeed struct {
	ID                string
	Type              string
	Enabled           bool
	Label             string
	PercentThreshold  float64
	TimeWindowSeconds int
}
