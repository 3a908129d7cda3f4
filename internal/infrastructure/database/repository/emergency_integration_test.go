//go:build integration

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletguard-lab/internal/domain/models"
)

func setupRepo(t *testing.T) *EmergencyRepository {
	t.Helper()
	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		t.Skip("POSTGRES_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewEmergencyRepository(pool)
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func TestEmergencyRepositoryRoundTrip(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	sessionID := "it-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _ = repo.DeleteSnapshot(context.Background(), sessionID) })

	missing, err := repo.LoadSnapshot(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Now().UTC().Truncate(time.Microsecond)
	snap := &models.EmergencySnapshot{
		SessionID:     sessionID,
		ActiveEventID: "evt-2",
		Events: []models.EmergencyEvent{
			{
				ID: "evt-2", Timestamp: now, RuleID: "rule-1", RuleLabel: "Balance Drain Detection",
				Severity: models.SeverityCritical, Description: "drained",
				Sources: []models.EventSource{models.EventSourceBalanceDrain},
			},
			{
				ID: "evt-1", Timestamp: now.Add(-time.Minute), RuleID: "user-decision", RuleLabel: "User decision",
				Severity: models.SeverityMedium, Description: "allowed",
				Sources:     []models.EventSource{models.EventSourceSigning},
				ActionTaken: "Wallet frozen via Guard contract", EstimatedLossPrevented: "1.5 ETH",
			},
		},
		Rules: []models.EmergencyRule{
			{ID: "rule-1", Type: models.RuleTypeBalanceDrain, Enabled: true, Label: "Balance Drain Detection", PercentThreshold: 30, TimeWindowSeconds: 60},
		},
		SavedAt: now,
	}
	require.NoError(t, repo.SaveSnapshot(ctx, snap))

	loaded, err := repo.LoadSnapshot(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.ActiveEventID, loaded.ActiveEventID)
	assert.Equal(t, snap.Rules, loaded.Rules)
	require.Len(t, loaded.Events, 2)
	assert.Equal(t, "evt-2", loaded.Events[0].ID)
	assert.True(t, now.Equal(loaded.Events[0].Timestamp))
	assert.Equal(t, "1.5 ETH", loaded.Events[1].EstimatedLossPrevented)

	// overwrite drops stale events and clears the active pointer
	snap.ActiveEventID = ""
	snap.Events = snap.Events[1:]
	require.NoError(t, repo.SaveSnapshot(ctx, snap))

	loaded, err = repo.LoadSnapshot(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, loaded.ActiveEventID)
	require.Len(t, loaded.Events, 1)
	assert.Equal(t, "evt-1", loaded.Events[0].ID)
}
