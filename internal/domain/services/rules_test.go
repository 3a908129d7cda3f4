package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletguard-lab/internal/domain/models"
)

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()

	require.Len(t, rules, 3)
	assert.Equal(t, models.RuleTypeBalanceDrain, rules[0].Type)
	assert.True(t, rules[0].Enabled)
	assert.Equal(t, 30.0, rules[0].PercentThreshold)
	assert.Equal(t, models.RuleTypeApprovalAbuse, rules[1].Type)
	assert.Equal(t, models.RuleTypePriceCrash, rules[2].Type)
	assert.False(t, rules[2].Enabled)
}

func TestRuleSetCRUD(t *testing.T) {
	rs := NewRuleSet(DefaultRules())

	added, err := rs.Add(models.EmergencyRule{
		Type:              models.RuleTypeBalanceDrain,
		Enabled:           true,
		Label:             "Fast drain",
		PercentThreshold:  10,
		TimeWindowSeconds: 15,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(added.ID, "rule-"))
	assert.Len(t, rs.List(), 4)

	threshold := 12.5
	label := "Faster drain"
	updated, err := rs.Update(added.ID, models.RuleUpdate{PercentThreshold: &threshold, Label: &label})
	require.NoError(t, err)
	assert.Equal(t, 12.5, updated.PercentThreshold)
	assert.Equal(t, "Faster drain", updated.Label)
	assert.Equal(t, 15, updated.TimeWindowSeconds)
	assert.True(t, updated.Enabled)

	toggled, err := rs.Toggle(added.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)

	got, err := rs.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, toggled, got)

	require.NoError(t, rs.Delete(added.ID))
	assert.Len(t, rs.List(), 3)

	_, err = rs.Get(added.ID)
	assert.True(t, errors.Is(err, ErrRuleNotFound))
}

func TestRuleSetNotFound(t *testing.T) {
	rs := NewRuleSet(nil)

	_, err := rs.Update("missing", models.RuleUpdate{})
	assert.True(t, errors.Is(err, ErrRuleNotFound))
	_, err = rs.Toggle("missing")
	assert.True(t, errors.Is(err, ErrRuleNotFound))
	assert.True(t, errors.Is(rs.Delete("missing"), ErrRuleNotFound))
}

func TestRuleSetValidation(t *testing.T) {
	rs := NewRuleSet(DefaultRules())

	_, err := rs.Add(models.EmergencyRule{Type: "gas_spike", Label: "x"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = rs.Add(models.EmergencyRule{Type: models.RuleTypePriceCrash, Label: "  "})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = rs.Add(models.EmergencyRule{ID: "rule-1", Type: models.RuleTypePriceCrash, Label: "dup"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	bad := models.RuleType("nope")
	_, err = rs.Update("rule-1", models.RuleUpdate{Type: &bad})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	// arbitrary values are accepted
	negative := -250.0
	r, err := rs.Update("rule-1", models.RuleUpdate{PercentThreshold: &negative})
	require.NoError(t, err)
	assert.Equal(t, -250.0, r.PercentThreshold)
}

func TestRuleSetByTypeAndCopies(t *testing.T) {
	rs := NewRuleSet(DefaultRules())

	r, ok := rs.ByType(models.RuleTypeApprovalAbuse)
	require.True(t, ok)
	assert.Equal(t, "rule-2", r.ID)

	list := rs.List()
	list[0].Label = "mutated"
	first, _ := rs.Get("rule-1")
	assert.Equal(t, "Balance Drain Detection", first.Label)

	rs.Replace([]models.EmergencyRule{{ID: "only", Type: models.RuleTypePriceCrash, Label: "Only"}})
	_, ok = rs.ByType(models.RuleTypeBalanceDrain)
	assert.False(t, ok)
	assert.Len(t, rs.List(), 1)
}

func TestRulesFromConfig(t *testing.T) {
	assert.Equal(t, DefaultRules(), RulesFromConfig(nil))

	rules := RulesFromConfig([]RuleSeed{
		{Type: "balance_drain", Enabled: true, Label: "Drain", PercentThreshold: 20, TimeWindowSeconds: 60},
		{ID: "custom", Type: "unknown_type", Label: "skip"},
		{ID: "crash", Type: "price_crash", Label: "Crash"},
	})

	require.Len(t, rules, 2)
	assert.Equal(t, "rule-1", rules[0].ID)
	assert.Equal(t, 20.0, rules[0].PercentThreshold)
	assert.Equal(t, "crash", rules[1].ID)
}
