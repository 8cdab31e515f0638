package repository

import (
	"context"
	"fmt"

	"github.com/vitalloop/vitalloop-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceHealthRepository struct {
	db *gorm.DB
}

func NewDeviceHealthRepository(db *gorm.DB) *DeviceHealthRepository {
	return &DeviceHealthRepository{db: db}
}

// Upsert replaces the health record for (user, provider). Health is always
// recomputed from scratch, so the whole row is overwritten.
func (r *DeviceHealthRepository) Upsert(ctx context.Context, health models.DeviceHealth) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"freshness_seconds", "completeness_24h", "uptime_7d", "evaluated_at",
		}),
	}).Create(&health)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert device health: %w", result.Error)
	}
	return nil
}

// AlertRepository appends threshold alerts.
type AlertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create appends one alert. No deduplication against prior identical alerts;
// that is left to downstream consumers.
func (r *AlertRepository) Create(ctx context.Context, alert models.Alert) error {
	if err := r.db.WithContext(ctx).Create(&alert).Error; err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}
