package models

import "time"

// Metric kind constants. Every driver maps its provider-specific readings
// into this shared vocabulary.
const (
	MetricSteps            = "steps"
	MetricCalories         = "calories"
	MetricHeartRate        = "heart_rate"
	MetricRestingHeartRate = "resting_heart_rate"
	MetricSleepDuration    = "sleep_duration"
	MetricGlucose          = "glucose"
	MetricDistance         = "distance"
	MetricPace             = "pace"
	MetricActiveMinutes    = "active_minutes"
	MetricWeight           = "weight"
)

// Metric represents one provider-agnostic reading.
// (user_id, account_id, kind, recorded_at) is the natural dedup key:
// re-ingesting the same reading must be a silent no-op.
type Metric struct {
	ID         string    `gorm:"column:id;primaryKey"`
	UserID     string    `gorm:"column:user_id;index"`
	AccountID  string    `gorm:"column:account_id;index"`
	Provider   string    `gorm:"column:provider"`
	Kind       string    `gorm:"column:kind"`
	Value      float64   `gorm:"column:value"`
	Unit       string    `gorm:"column:unit"`
	RecordedAt time.Time `gorm:"column:recorded_at;index"`
	DeviceID   *string   `gorm:"column:device_id"`
	Raw        JSONB     `gorm:"column:raw;type:jsonb"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (Metric) TableName() string {
	return "metrics"
}
