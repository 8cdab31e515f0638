package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

// SampleRater reports the expected reading count per 24h for a provider.
type SampleRater interface {
	SamplesPerDay(provider string) int
}

// DeviceHealthEvaluator recomputes the freshness/completeness/uptime score
// for one (user, provider) connection and raises threshold alerts.
type DeviceHealthEvaluator struct {
	metricRepo MetricStore
	healthRepo DeviceHealthStore
	alertRepo  AlertStore
	rates      SampleRater

	stalenessThreshold time.Duration
	completenessFloor  float64
}

func NewDeviceHealthEvaluator(metricRepo MetricStore, healthRepo DeviceHealthStore, alertRepo AlertStore, rates SampleRater, stalenessThreshold time.Duration, completenessFloor float64) *DeviceHealthEvaluator {
	return &DeviceHealthEvaluator{
		metricRepo:         metricRepo,
		healthRepo:         healthRepo,
		alertRepo:          alertRepo,
		rates:              rates,
		stalenessThreshold: stalenessThreshold,
		completenessFloor:  completenessFloor,
	}
}

// Evaluate recomputes device health from the stored metric windows.
// Freshness is -1 when no reading exists at all; completeness compares the
// last 24h against the provider's expected sample rate, capped at 100.
func (e *DeviceHealthEvaluator) Evaluate(ctx context.Context, userID, providerID string) error {
	now := time.Now()

	latest, err := e.metricRepo.LatestRecordedAt(ctx, userID, providerID)
	if err != nil {
		return fmt.Errorf("evaluate device health for user %s (%s): %w", userID, providerID, err)
	}

	freshness := int64(-1)
	if latest != nil {
		freshness = int64(now.Sub(*latest).Seconds())
	}

	count24h, err := e.metricRepo.CountSince(ctx, userID, providerID, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("evaluate device health for user %s (%s): %w", userID, providerID, err)
	}
	expected := e.rates.SamplesPerDay(providerID)
	completeness := 0.0
	if expected > 0 {
		completeness = float64(count24h) / float64(expected) * 100
		if completeness > 100 {
			completeness = 100
		}
	}

	activeDays, err := e.metricRepo.ActiveDaysSince(ctx, userID, providerID, now.AddDate(0, 0, -7))
	if err != nil {
		return fmt.Errorf("evaluate device health for user %s (%s): %w", userID, providerID, err)
	}
	uptime := float64(activeDays) / 7.0

	health := models.DeviceHealth{
		ID:               uuid.New().String(),
		UserID:           userID,
		Provider:         providerID,
		FreshnessSeconds: freshness,
		Completeness24h:  completeness,
		Uptime7d:         uptime,
		EvaluatedAt:      now,
	}
	if err := e.healthRepo.Upsert(ctx, health); err != nil {
		return fmt.Errorf("evaluate device health for user %s (%s): %w", userID, providerID, err)
	}

	if freshness < 0 || freshness > int64(e.stalenessThreshold.Seconds()) {
		e.raise(ctx, userID, providerID, models.AlertStaleData,
			fmt.Sprintf("no readings from %s within the staleness threshold", providerID))
	}
	if completeness < e.completenessFloor {
		e.raise(ctx, userID, providerID, models.AlertLowCompleteness,
			fmt.Sprintf("%s completeness at %.0f%% over the last 24h", providerID, completeness))
	}
	return nil
}

// raise is best-effort: an alert write failure must not fail the evaluation.
func (e *DeviceHealthEvaluator) raise(ctx context.Context, userID, providerID, kind, message string) {
	alert := models.Alert{
		ID:       uuid.New().String(),
		UserID:   userID,
		Provider: providerID,
		Kind:     kind,
		Message:  message,
	}
	if err := e.alertRepo.Create(ctx, alert); err != nil {
		log.Printf("Failed to create %s alert for user %s (%s): %v", kind, userID, providerID, err)
	}
}
