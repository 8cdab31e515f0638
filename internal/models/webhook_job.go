package models

import "time"

// WebhookJob is one unit of "process one inbound webhook event".
// The raw payload rides along so the worker never has to re-read the
// original HTTP body.
type WebhookJob struct {
	ID          string     `gorm:"column:id;primaryKey"`
	Provider    string     `gorm:"column:provider"`
	EventID     string     `gorm:"column:event_id"`
	Payload     JSONB      `gorm:"column:payload;type:jsonb"`
	Status      JobStatus  `gorm:"column:status;index"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   *string    `gorm:"column:last_error"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (WebhookJob) TableName() string {
	return "webhook_jobs"
}

// WebhookEvent is the append-only audit record of every inbound webhook,
// written before any side effect so downstream failures still leave a trail.
type WebhookEvent struct {
	ID         string
	Provider   string
	EventID    string
	ByteSize   int
	ParseMs    int64
	Payload    JSONB
	ReceivedAt time.Time
}
