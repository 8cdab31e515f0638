package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

// defaultSyncWindowDays is the watermark fallback when an account has never
// synced and the job carries no explicit window.
const defaultSyncWindowDays = 7

// TokenOpener unseals an account's access token for a single use.
type TokenOpener interface {
	AccessToken(ctx context.Context, account *models.ProviderAccount) (string, error)
}

// SyncProcessor handles sync jobs: fetch metrics through the provider driver,
// deduplicate and persist them, then advance the account's watermark.
type SyncProcessor struct {
	accountRepo AccountStore
	metricRepo  MetricStore
	registry    DriverRegistry
	tokens      TokenOpener
}

func NewSyncProcessor(accountRepo AccountStore, metricRepo MetricStore, registry DriverRegistry, tokens TokenOpener) *SyncProcessor {
	return &SyncProcessor{
		accountRepo: accountRepo,
		metricRepo:  metricRepo,
		registry:    registry,
		tokens:      tokens,
	}
}

// ProcessSyncJob processes a single sync job.
func (p *SyncProcessor) ProcessSyncJob(ctx context.Context, job *models.SyncJob) error {
	account, err := p.accountRepo.GetByID(ctx, job.AccountID)
	if err != nil {
		// Missing account is a data invariant violation, not a transient fault
		return fmt.Errorf("sync job %s: %w", job.ID, err)
	}
	if account.UserID != job.UserID {
		return fmt.Errorf("sync job %s: account %s not owned by user %s: %w",
			job.ID, job.AccountID, job.UserID, errAccountNotOwned)
	}

	// Inactive accounts are a normal state, not an error: skip without
	// touching the driver or the watermark
	if account.Status != models.AccountStatusActive {
		log.Printf("Skipping sync job %s: account %s is %s", job.ID, account.ID, account.Status)
		return nil
	}

	driver, err := p.registry.Get(account.Provider)
	if err != nil {
		return fmt.Errorf("sync job %s: %w", job.ID, err)
	}

	accessToken, err := p.tokens.AccessToken(ctx, account)
	if err != nil {
		return fmt.Errorf("sync job %s: %w", job.ID, err)
	}

	since := p.resolveWatermark(job, account)
	log.Printf("Syncing account %s (%s) since %s", account.ID, account.Provider, since.Format(time.RFC3339))

	metrics, err := driver.FetchMetrics(ctx, accessToken, since)
	if err != nil {
		return fmt.Errorf("sync job %s: %w", job.ID, err)
	}

	inserted, duplicates, failed := 0, 0, 0
	for _, m := range metrics {
		m.ID = uuid.New().String()
		m.UserID = account.UserID
		m.AccountID = account.ID

		ok, err := p.metricRepo.Insert(ctx, m)
		if err != nil {
			// Partial success is expected at provider data volume; log,
			// count, and keep going
			log.Printf("Failed to insert metric (%s %s @ %s) for account %s: %v",
				m.Provider, m.Kind, m.RecordedAt.Format(time.RFC3339), account.ID, err)
			failed++
			continue
		}
		if ok {
			inserted++
		} else {
			duplicates++
		}
	}

	// Advance the watermark to now, not to the last metric timestamp, so
	// provider data gaps don't cause repeated re-fetch of the same window
	if err := p.accountRepo.TouchLastSyncAt(ctx, account.ID, time.Now()); err != nil {
		return fmt.Errorf("sync job %s: %w", job.ID, err)
	}

	log.Printf("Sync job %s done: %d inserted, %d duplicates, %d failed (account: %s)",
		job.ID, inserted, duplicates, failed, account.ID)
	return nil
}

func (p *SyncProcessor) resolveWatermark(job *models.SyncJob, account *models.ProviderAccount) time.Time {
	if job.Since != nil {
		return *job.Since
	}
	if job.SyncType == models.SyncTypeBackfill {
		return time.Now().AddDate(0, 0, -backfillWindowDays)
	}
	if account.LastSyncAt != nil {
		return *account.LastSyncAt
	}
	return time.Now().AddDate(0, 0, -defaultSyncWindowDays)
}
