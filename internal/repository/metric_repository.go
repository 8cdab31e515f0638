package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

// MetricRepository persists normalized readings. Inserts ride on the
// (user_id, account_id, kind, recorded_at) unique index with
// ON CONFLICT DO NOTHING, so re-ingestion of the same reading is a silent
// no-op rather than an error.
type MetricRepository struct {
	db *sql.DB
}

func NewMetricRepository(db *sql.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

// Insert stores one metric. Returns false when the dedup key already existed.
func (r *MetricRepository) Insert(ctx context.Context, m models.Metric) (bool, error) {
	query := `
		INSERT INTO metrics (
			id, user_id, account_id, provider, kind, value, unit,
			recorded_at, device_id, raw, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, account_id, kind, recorded_at) DO NOTHING
	`

	rawValue, err := m.Raw.Value()
	if err != nil {
		return false, fmt.Errorf("failed to encode raw payload: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query,
		m.ID, m.UserID, m.AccountID, m.Provider, m.Kind, m.Value, m.Unit,
		m.RecordedAt, m.DeviceID, rawValue, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert metric: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// LatestRecordedAt returns the newest reading time for (user, provider),
// or nil when no readings exist.
func (r *MetricRepository) LatestRecordedAt(ctx context.Context, userID, providerID string) (*time.Time, error) {
	query := `
		SELECT MAX(recorded_at) FROM metrics
		WHERE user_id = $1 AND provider = $2
	`

	var latest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, userID, providerID).Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// CountSince returns the number of readings for (user, provider) recorded
// after the cutoff.
func (r *MetricRepository) CountSince(ctx context.Context, userID, providerID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM metrics
		WHERE user_id = $1 AND provider = $2 AND recorded_at > $3
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, providerID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return count, nil
}

// ActiveDaysSince returns the number of distinct UTC days with at least one
// reading for (user, provider) after the cutoff.
func (r *MetricRepository) ActiveDaysSince(ctx context.Context, userID, providerID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT date_trunc('day', recorded_at AT TIME ZONE 'UTC')) FROM metrics
		WHERE user_id = $1 AND provider = $2 AND recorded_at > $3
	`

	var days int
	if err := r.db.QueryRowContext(ctx, query, userID, providerID, since).Scan(&days); err != nil {
		return 0, fmt.Errorf("failed to count active days: %w", err)
	}
	return days, nil
}
