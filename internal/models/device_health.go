package models

import "time"

// DeviceHealth is the derived freshness/completeness/uptime scoring for one
// (user, provider) connection. It is always recomputed from the current
// metric windows on webhook ingestion, never advanced incrementally.
type DeviceHealth struct {
	ID               string    `gorm:"column:id;primaryKey"`
	UserID           string    `gorm:"column:user_id;uniqueIndex:idx_device_health_user_provider"`
	Provider         string    `gorm:"column:provider;uniqueIndex:idx_device_health_user_provider"`
	FreshnessSeconds int64     `gorm:"column:freshness_seconds"` // seconds since the newest reading
	Completeness24h  float64   `gorm:"column:completeness_24h"`  // percentage 0-100 against expected sample rate
	Uptime7d         float64   `gorm:"column:uptime_7d"`         // days with >=1 reading / 7
	EvaluatedAt      time.Time `gorm:"column:evaluated_at"`
}

// TableName specifies the table name for GORM
func (DeviceHealth) TableName() string {
	return "device_health"
}

// Alert kinds raised by the device health evaluator.
const (
	AlertStaleData       = "stale_data"
	AlertLowCompleteness = "low_completeness"
)

// Alert is an append-only record raised when device health crosses a
// configured threshold. Deduplication is left to downstream consumers.
type Alert struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;index"`
	Provider  string    `gorm:"column:provider"`
	Kind      string    `gorm:"column:kind"`
	Message   string    `gorm:"column:message"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (Alert) TableName() string {
	return "alerts"
}
