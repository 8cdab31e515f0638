package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
	"gorm.io/gorm"
)

type TokenRefreshJobRepository struct {
	db *gorm.DB
}

func NewTokenRefreshJobRepository(db *gorm.DB) *TokenRefreshJobRepository {
	return &TokenRefreshJobRepository{db: db}
}

// Enqueue creates a refresh job unless one is already in flight for the
// account. The partial unique index on (account_id) makes the insert a no-op
// in that case, so the hourly expiry scan can enqueue blindly.
func (r *TokenRefreshJobRepository) Enqueue(ctx context.Context, job models.TokenRefreshJob) error {
	query := `
		INSERT INTO token_refresh_jobs (
			id, account_id, status, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) WHERE status IN ('pending', 'processing') DO NOTHING
	`
	result := r.db.WithContext(ctx).Exec(query,
		job.ID, job.AccountID, job.Status, job.Attempts, job.CreatedAt, job.UpdatedAt)
	if result.Error != nil {
		return fmt.Errorf("failed to enqueue token refresh job: %w", result.Error)
	}
	return nil
}

// GetRunnable retrieves pending refresh jobs whose backoff delay has elapsed
func (r *TokenRefreshJobRepository) GetRunnable(ctx context.Context, limit int) ([]models.TokenRefreshJob, error) {
	var jobs []models.TokenRefreshJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			models.JobStatusPending, time.Now()).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query runnable refresh jobs: %w", result.Error)
	}
	return jobs, nil
}

// GetStale retrieves refresh jobs stuck in processing for re-delivery
func (r *TokenRefreshJobRepository) GetStale(ctx context.Context, limit int) ([]models.TokenRefreshJob, error) {
	var jobs []models.TokenRefreshJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?",
			models.JobStatusProcessing, time.Now().Add(-staleProcessingAfter)).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query stale refresh jobs: %w", result.Error)
	}
	return jobs, nil
}

// MarkProcessing claims a job attempt and increments the attempt counter
func (r *TokenRefreshJobRepository) MarkProcessing(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).Model(&models.TokenRefreshJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     models.JobStatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark refresh job processing: %w", result.Error)
	}
	return nil
}

// MarkCompleted finishes a job successfully
func (r *TokenRefreshJobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.TokenRefreshJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"last_error":   nil,
			"updated_at":   now,
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark refresh job completed: %w", result.Error)
	}
	return nil
}

// MarkRetry returns a failed attempt to pending with a backoff delay
func (r *TokenRefreshJobRepository) MarkRetry(ctx context.Context, jobID string, lastError string, nextRetryAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.TokenRefreshJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        models.JobStatusPending,
			"last_error":    lastError,
			"next_retry_at": nextRetryAt,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark refresh job for retry: %w", result.Error)
	}
	return nil
}

// MarkFailed moves a job to the terminal failed state
func (r *TokenRefreshJobRepository) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.TokenRefreshJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"last_error":   lastError,
			"updated_at":   now,
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark refresh job failed: %w", result.Error)
	}
	return nil
}
