package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
	"gorm.io/gorm"
)

// staleProcessingAfter is how long a job may sit in processing before the
// watcher treats it as a crashed attempt and re-delivers it.
const staleProcessingAfter = 10 * time.Minute

type SyncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create enqueues a new sync job
func (r *SyncJobRepository) Create(ctx context.Context, job models.SyncJob) error {
	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

// GetRunnable retrieves pending sync jobs whose backoff delay has elapsed
func (r *SyncJobRepository) GetRunnable(ctx context.Context, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			models.JobStatusPending, time.Now()).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query runnable sync jobs: %w", result.Error)
	}
	return jobs, nil
}

// GetStale retrieves sync jobs stuck in processing (crashed attempts) for
// at-least-once re-delivery
func (r *SyncJobRepository) GetStale(ctx context.Context, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?",
			models.JobStatusProcessing, time.Now().Add(-staleProcessingAfter)).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query stale sync jobs: %w", result.Error)
	}
	return jobs, nil
}

// MarkProcessing claims a job attempt and increments the attempt counter
func (r *SyncJobRepository) MarkProcessing(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     models.JobStatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark sync job processing: %w", result.Error)
	}
	return nil
}

// MarkCompleted finishes a job successfully
func (r *SyncJobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"last_error":   nil,
			"updated_at":   now,
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark sync job completed: %w", result.Error)
	}
	return nil
}

// MarkRetry returns a failed attempt to pending with a backoff delay
func (r *SyncJobRepository) MarkRetry(ctx context.Context, jobID string, lastError string, nextRetryAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        models.JobStatusPending,
			"last_error":    lastError,
			"next_retry_at": nextRetryAt,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark sync job for retry: %w", result.Error)
	}
	return nil
}

// MarkFailed moves a job to the terminal failed state for operator inspection
func (r *SyncJobRepository) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"last_error":   lastError,
			"updated_at":   now,
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark sync job failed: %w", result.Error)
	}
	return nil
}
