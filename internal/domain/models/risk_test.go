package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    RiskLevel
		wantErr bool
	}{
		{in: "safe", want: RiskLevelSafe},
		{in: "warning", want: RiskLevelWarning},
		{in: "critical", want: RiskLevelCritical},
		{in: "  CRITICAL ", want: RiskLevelCritical},
		{in: "Warning", want: RiskLevelWarning},
		{in: "", wantErr: true},
		{in: "danger", wantErr: true},
		{in: "unknown", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRiskLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, RiskLevelSafe, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRiskLevelJSON(t *testing.T) {
	type verdict struct {
		Level RiskLevel `json:"risk_level"`
	}

	for _, level := range []RiskLevel{RiskLevelSafe, RiskLevelWarning, RiskLevelCritical} {
		t.Run(level.String(), func(t *testing.T) {
			data, err := json.Marshal(verdict{Level: level})
			require.NoError(t, err)
			assert.JSONEq(t, `{"risk_level":"`+level.String()+`"}`, string(data))

			var decoded verdict
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, level, decoded.Level)
		})
	}

	t.Run("rejects unknown names", func(t *testing.T) {
		var decoded verdict
		assert.Error(t, json.Unmarshal([]byte(`{"risk_level":"bogus"}`), &decoded))
		assert.Error(t, json.Unmarshal([]byte(`{"risk_level":2}`), &decoded))
	})
}

func TestRiskLevelOrdering(t *testing.T) {
	assert.Less(t, RiskLevelSafe.Rank(), RiskLevelWarning.Rank())
	assert.Less(t, RiskLevelWarning.Rank(), RiskLevelCritical.Rank())
	assert.True(t, RiskLevelCritical.AtLeast(RiskLevelWarning))
	assert.False(t, RiskLevelSafe.AtLeast(RiskLevelWarning))
	assert.True(t, RiskLevelCritical.IsCritical())
	assert.False(t, RiskLevelWarning.IsCritical())
	assert.Equal(t, RiskLevelCritical, MaxRiskLevel(RiskLevelWarning, RiskLevelCritical))
	assert.Equal(t, RiskLevelWarning, MaxRiskLevel(RiskLevelWarning, RiskLevelSafe))
	assert.Equal(t, "unknown", RiskLevel(7).String())
}

func TestSeverityRankAndWeight(t *testing.T) {
	tests := []struct {
		severity Severity
		rank     int
		weight   int
		valid    bool
	}{
		{severity: SeverityLow, rank: 1, weight: 5, valid: true},
		{severity: SeverityMedium, rank: 2, weight: 15, valid: true},
		{severity: SeverityHigh, rank: 3, weight: 25, valid: true},
		{severity: SeverityCritical, rank: 4, weight: 40, valid: true},
		{severity: Severity("severe"), rank: 0, weight: 0, valid: false},
		{severity: Severity(""), rank: 0, weight: 0, valid: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			assert.Equal(t, tt.rank, tt.severity.Rank())
			assert.Equal(t, tt.weight, tt.severity.Weight())
			assert.Equal(t, tt.valid, tt.severity.IsValid())
		})
	}

	ordered := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i].AtLeast(ordered[i-1]))
		assert.False(t, ordered[i-1].AtLeast(ordered[i]))
		assert.Greater(t, ordered[i].Weight(), ordered[i-1].Weight())
	}
	assert.True(t, SeverityLow.AtLeast(Severity("severe")))
}
