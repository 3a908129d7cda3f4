package repository

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"walletguard-lab/internal/domain/models"
)

// Source conversion helpers

func sourcesToStrings(sources []models.EventSource) []string {
	result := make([]string, len(sources))
	for i, s := range sources {
		result[i] = string(s)
	}
	return result
}

func stringsToSources(strs []string) []models.EventSource {
	result := make([]models.EventSource, len(strs))
	for i, s := range strs {
		result[i] = models.EventSource(s)
	}
	return result
}

// Text conversion helpers

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func nullTextToString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// Timestamp conversion helpers

func timeToTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func timestamptzToTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
