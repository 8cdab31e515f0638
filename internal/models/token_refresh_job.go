package models

import "time"

// TokenRefreshJob is one unit of "refresh one account's tokens".
// At most one non-terminal job exists per account; the hourly expiry scan
// relies on that to avoid piling up duplicate refreshes.
type TokenRefreshJob struct {
	ID          string     `gorm:"column:id;primaryKey"`
	AccountID   string     `gorm:"column:account_id;index"`
	Status      JobStatus  `gorm:"column:status;index"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   *string    `gorm:"column:last_error"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (TokenRefreshJob) TableName() string {
	return "token_refresh_jobs"
}
