package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

// fitbitNotification is one entry of Fitbit's subscription notification
// format: no readings, just a pointer at which user and collection changed.
type fitbitNotification struct {
	OwnerID        string `json:"ownerId"`
	CollectionType string `json:"collectionType"`
	Date           string `json:"date"`
}

// embeddedReading is one reading carried inline in a webhook payload, as
// Terra and the normalized ingestion format deliver them.
type embeddedReading struct {
	Kind       string    `json:"kind"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recorded_at"`
	DeviceID   *string   `json:"device_id"`
}

type webhookPayload struct {
	EventID        string               `json:"event_id"`
	UserID         string               `json:"user_id"`
	ExternalUserID string               `json:"external_user_id"`
	Metrics        []embeddedReading    `json:"metrics"`
	Notifications  []fitbitNotification `json:"notifications"`
}

// WebhookProcessor handles webhook jobs: resolve the account behind the
// event, either ingest embedded readings directly or enqueue a sync job for
// notification-only providers, then refresh the device health score.
type WebhookProcessor struct {
	accountRepo AccountStore
	metricRepo  MetricStore
	syncJobs    SyncJobQueue
	health      *DeviceHealthEvaluator
}

func NewWebhookProcessor(accountRepo AccountStore, metricRepo MetricStore, syncJobs SyncJobQueue, health *DeviceHealthEvaluator) *WebhookProcessor {
	return &WebhookProcessor{
		accountRepo: accountRepo,
		metricRepo:  metricRepo,
		syncJobs:    syncJobs,
		health:      health,
	}
}

// ProcessWebhookJob processes a single webhook job.
func (p *WebhookProcessor) ProcessWebhookJob(ctx context.Context, job *models.WebhookJob) error {
	raw, err := json.Marshal(map[string]interface{}(job.Payload))
	if err != nil {
		return fmt.Errorf("webhook job %s: encode payload: %w", job.ID, err)
	}
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("webhook job %s: decode payload: %w", job.ID, err)
	}

	if len(payload.Notifications) > 0 {
		return p.processNotifications(ctx, job, payload.Notifications)
	}

	account, err := p.resolveAccount(ctx, job, &payload)
	if err != nil {
		return err
	}
	if account == nil {
		// Providers keep sending events after a disconnect on their side;
		// an unknown user is noise, not a failure
		log.Printf("Webhook job %s: no account for %s event, dropping", job.ID, job.Provider)
		return nil
	}

	inserted, duplicates := 0, 0
	for _, r := range payload.Metrics {
		m := models.Metric{
			ID:         uuid.New().String(),
			UserID:     account.UserID,
			AccountID:  account.ID,
			Provider:   account.Provider,
			Kind:       r.Kind,
			Value:      r.Value,
			Unit:       r.Unit,
			RecordedAt: r.RecordedAt,
			DeviceID:   r.DeviceID,
		}
		ok, err := p.metricRepo.Insert(ctx, m)
		if err != nil {
			return fmt.Errorf("webhook job %s: insert metric: %w", job.ID, err)
		}
		if ok {
			inserted++
		} else {
			duplicates++
		}
	}

	if err := p.accountRepo.TouchLastWebhookAt(ctx, account.ID, time.Now()); err != nil {
		return fmt.Errorf("webhook job %s: %w", job.ID, err)
	}

	if err := p.health.Evaluate(ctx, account.UserID, account.Provider); err != nil {
		return fmt.Errorf("webhook job %s: %w", job.ID, err)
	}

	log.Printf("Webhook job %s done: %d inserted, %d duplicates (account: %s)",
		job.ID, inserted, duplicates, account.ID)
	return nil
}

/// processNotifications handles notification-only payloads: each entry becomes
// a webhook-triggered sync job for the owning account.
func (p *WebhookProcessor) processNotifications(ctx context.Context, job *models.WebhookJob, notifications []fitbitNotification) error {
	enqueued := 0
	for _, n := range notifications {
		account, err := p.accountRepo.FindByExternalUserID(ctx, job.Provider, n.OwnerID)
		if err != nil {
			if IsTerminal(err) {
				log.Printf("Webhook job %s: unknown %s owner %s, skipping notification", job.ID, job.Provider, n.OwnerID)
				continue
			}
			return fmt.Errorf("webhook job %s: %w", job.ID, err)
		}

		eventID := job.EventID
		syncJob := models.SyncJob{
			ID:             uuid.New().String(),
			UserID:         account.UserID,
			Provider:       account.Provider,
			AccountID:      account.ID,
			Status:         models.JobStatusPending,
			SyncType:       models.SyncTypeWebhook,
			WebhookEventID: &eventID,
		}
		if since := notificationSince(n.Date); since != nil {
			syncJob.Since = since
		}
		if err := p.syncJobs.Create(ctx, syncJob); err != nil {
			return fmt.Errorf("webhook job %s: enqueue sync: %w", job.ID, err)
		}
		enqueued++

		if err := p.accountRepo.TouchLastWebhookAt(ctx, account.ID, time.Now()); err != nil {
			return fmt.Errorf("webhook job %s: %w", job.ID, err)
		}
		if err := p.health.Evaluate(ctx, account.UserID, account.Provider); err != nil {
			return fmt.Errorf("webhook job %s: %w", job.ID, err)
		}
	}
	log.Printf("Webhook job %s done: %d sync jobs enqueued", job.ID, enqueued)
	return nil
}

func (p *WebhookProcessor) resolveAccount(ctx context.Context, job *models.WebhookJob, payload *webhookPayload) (*models.ProviderAccount, error) {
	if payload.ExternalUserID != "" {
		account, err := p.accountRepo.FindByExternalUserID(ctx, job.Provider, payload.ExternalUserID)
		if err != nil {
			if IsTerminal(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("webhook job %s: %w", job.ID, err)
		}
		return account, nil
	}
	if payload.UserID != "" {
		account, err := p.accountRepo.GetActiveByUserAndProvider(ctx, payload.UserID, job.Provider)
		if err != nil {
			if IsTerminal(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("webhook job %s: %w", job.ID, err)
		}
		return account, nil
	}
	return nil, nil
}

// notificationSince widens a date-only notification into a sync window
// covering that whole day.
func notificationSince(date string) *time.Time {
	if date == "" {
		return nil
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil
	}
	return &day
}
