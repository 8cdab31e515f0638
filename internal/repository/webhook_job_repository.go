package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
	"gorm.io/gorm"
)

type WebhookJobRepository struct {
	db *gorm.DB
}

func NewWebhookJobRepository(db *gorm.DB) *WebhookJobRepository {
	return &WebhookJobRepository{db: db}
}

// Create enqueues a new webhook processing job
func (r *WebhookJobRepository) Create(ctx context.Context, job models.WebhookJob) error {
	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("failed to create webhook job: %w", err)
	}
	return nil
}

// GetRunnable retrieves pending webhook jobs whose backoff delay has elapsed
func (r *WebhookJobRepository) GetRunnable(ctx context.Context, limit int) ([]models.WebhookJob, error) {
	var jobs []models.WebhookJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			models.JobStatusPending, time.Now()).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query runnable webhook jobs: %w", result.Error)
	}
	return jobs, nil
}

// GetStale retrieves webhook jobs stuck in processing for re-delivery
func (r *WebhookJobRepository) GetStale(ctx context.Context, limit int) ([]models.WebhookJob, error) {
	var jobs []models.WebhookJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?",
			models.JobStatusProcessing, time.Now().Add(-staleProcessingAfter)).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query stale webhook jobs: %w", result.Error)
	}
	return jobs, nil
}

// MarkProcessing claims a job attempt and increments the attempt counter
func (r *WebhookJobRepository) MarkProcessing(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).Model(&models.WebhookJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     models.JobStatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook job processing: %w", result.Error)
	}
	return nil
}

// MarkCompleted finishes a job successfully
func (r *WebhookJobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.WebhookJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"last_error":   nil,
			"updated_at":   now,
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook job completed: %w", result.Error)
	}
	return nil
}

// MarkRetry returns a failed attempt to pending with a backoff delay
func (r *WebhookJobRepository) MarkRetry(ctx context.Context, jobID string, lastError string, nextRetryAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.WebhookJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        models.JobStatusPending,
			"last_error":    lastError,
			"next_retry_at": nextRetryAt,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook job for retry: %w", result.Error)
	}
	return nil
}

// MarkFailed moves a job to the terminal failed state
func (r *WebhookJobRepository) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.WebhookJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"last_error":   lastError,
			"updated_at":   now,
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook job failed: %w", result.Error)
	}
	return nil
}
