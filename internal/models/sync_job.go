package models

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

type SyncType string

const (
	SyncTypeIncremental SyncType = "incremental" // normal watermark-driven sync
	SyncTypeBackfill    SyncType = "backfill"    // long historical window
	SyncTypeWebhook     SyncType = "webhook"     // triggered by an inbound webhook notification
)

// SyncJob is one unit of "fetch and persist metrics for one account".
type SyncJob struct {
	ID             string     `gorm:"column:id;primaryKey"`
	UserID         string     `gorm:"column:user_id"`
	Provider       string     `gorm:"column:provider"`
	AccountID      string     `gorm:"column:account_id;index"`
	Status         JobStatus  `gorm:"column:status;index"`
	SyncType       SyncType   `gorm:"column:sync_type"`
	Since          *time.Time `gorm:"column:since"` // explicit watermark override
	WebhookEventID *string    `gorm:"column:webhook_event_id"`
	Attempts       int        `gorm:"column:attempts"`
	LastError      *string    `gorm:"column:last_error"`
	NextRetryAt    *time.Time `gorm:"column:next_retry_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
	ProcessedAt    *time.Time `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_jobs"
}
