package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletguard-lab/internal/domain/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS emergency_sessions (
	session_id      TEXT PRIMARY KEY,
	active_event_id TEXT,
	rules           JSONB NOT NULL DEFAULT '[]'::jsonb,
	saved_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS emergency_events (
	session_id               TEXT NOT NULL REFERENCES emergency_sessions(session_id) ON DELETE CASCADE,
	id                       TEXT NOT NULL,
	position                 INTEGER NOT NULL,
	occurred_at              TIMESTAMPTZ NOT NULL,
	rule_id                  TEXT NOT NULL,
	rule_label               TEXT NOT NULL,
	severity                 TEXT NOT NULL,
	description              TEXT NOT NULL,
	sources                  TEXT[] NOT NULL DEFAULT '{}',
	action_taken             TEXT,
	estimated_loss_prevented TEXT,
	PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_emergency_events_position ON emergency_events(session_id, position);
`

// EmergencyRepository persists emergency session snapshots
type EmergencyRepository struct {
	pool *pgxpool.Pool
}

// NewEmergencyRepository creates a new emergency repository
func NewEmergencyRepository(pool *pgxpool.Pool) *EmergencyRepository {
	return &EmergencyRepository{pool: pool}
}

// EnsureSchema creates the snapshot tables if they do not exist
func (r *EmergencyRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create emergency schema: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the stored session with snap in a single transaction
func (r *EmergencyRepository) SaveSnapshot(ctx context.Context, snap *models.EmergencySnapshot) error {
	rules, err := json.Marshal(snap.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO emergency_sessions (session_id, active_event_id, rules, saved_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id) DO UPDATE SET
				active_event_id = EXCLUDED.active_event_id,
				rules = EXCLUDED.rules,
				saved_at = EXCLUDED.saved_at`,
			snap.SessionID, textOrNull(snap.ActiveEventID), rules, timeToTimestamptz(snap.SavedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert session %s: %w", snap.SessionID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM emergency_events WHERE session_id = $1`, snap.SessionID); err != nil {
			return fmt.Errorf("failed to clear events for %s: %w", snap.SessionID, err)
		}

		if len(snap.Events) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, e := range snap.Events {
			batch.Queue(`
				INSERT INTO emergency_events (
					session_id, id, position, occurred_at, rule_id, rule_label,
					severity, description, sources, action_taken, estimated_loss_prevented
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				snap.SessionID, e.ID, i, e.Timestamp, e.RuleID, e.RuleLabel,
				string(e.Severity), e.Description, sourcesToStrings(e.Sources),
				textOrNull(e.ActionTaken), textOrNull(e.EstimatedLossPrevented),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert events for %s: %w", snap.SessionID, err)
		}
		return nil
	})
}

// LoadSnapshot returns the stored session, or nil when none exists
func (r *EmergencyRepository) LoadSnapshot(ctx context.Context, sessionID string) (*models.EmergencySnapshot, error) {
	var (
		active  pgtype.Text
		rules   []byte
		savedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `
		SELECT active_event_id, rules, saved_at
		FROM emergency_sessions
		WHERE session_id = $1`, sessionID,
	).Scan(&active, &rules, &savedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	snap := &models.EmergencySnapshot{
		SessionID:     sessionID,
		ActiveEventID: nullTextToString(active),
		SavedAt:       timestamptzToTime(savedAt),
	}
	if err := json.Unmarshal(rules, &snap.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules for %s: %w", sessionID, err)
	}

	events, err := r.listEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap.Events = events
	return snap, nil
}

// DeleteSnapshot removes a session and its events
func (r *EmergencyRepository) DeleteSnapshot(ctx context.Context, sessionID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM emergency_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func (r *EmergencyRepository) listEvents(ctx context.Context, sessionID string) ([]models.EmergencyEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, occurred_at, rule_id, rule_label, severity, description,
			   sources, action_taken, estimated_loss_prevented
		FROM emergency_events
		WHERE session_id = $1
		ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for %s: %w", sessionID, err)
	}
	defer rows.Close()

	events := make([]models.EmergencyEvent, 0)
	for rows.Next() {
		var (
			e          models.EmergencyEvent
			occurredAt pgtype.Timestamptz
			severity   string
			sources    []string
			action     pgtype.Text
			prevented  pgtype.Text
		)
		if err := rows.Scan(
			&e.ID, &occurredAt, &e.RuleID, &e.RuleLabel, &severity, &e.Description,
			&sources, &action, &prevented,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Timestamp = timestamptzToTime(occurredAt)
		e.Severity = models.Severity(severity)
		e.Sources = stringsToSources(sources)
		e.ActionTaken = nullTextToString(action)
		e.EstimatedLossPrevented = nullTextToString(prevented)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
