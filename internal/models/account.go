package models

import "time"

type AccountStatus string

const (
	AccountStatusActive       AccountStatus = "ACTIVE"
	AccountStatusError        AccountStatus = "ERROR"
	AccountStatusDisconnected AccountStatus = "DISCONNECTED"
)

// ProviderAccount represents a user's connection to one external provider.
// Access and refresh tokens are AES-GCM sealed before they ever reach this
// struct; plaintext tokens are never stored or logged.
type ProviderAccount struct {
	ID             string        `gorm:"column:id;primaryKey"`
	UserID         string        `gorm:"column:user_id;index"`
	Provider       string        `gorm:"column:provider;index"`
	Status         AccountStatus `gorm:"column:status;index"`
	AccessToken    string        `gorm:"column:access_token"`
	RefreshToken   *string       `gorm:"column:refresh_token"`
	ExpiresAt      *time.Time    `gorm:"column:expires_at"` // nil for providers whose tokens never expire
	ExternalUserID string        `gorm:"column:external_user_id"`
	Scope          *string       `gorm:"column:scope"`
	LastSyncAt     *time.Time    `gorm:"column:last_sync_at"`
	LastWebhookAt  *time.Time    `gorm:"column:last_webhook_at"`
	Metadata       JSONB         `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (ProviderAccount) TableName() string {
	return "provider_accounts"
}
