package watcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/config"
	"github.com/vitalloop/vitalloop-worker/internal/models"
	"github.com/vitalloop/vitalloop-worker/internal/service"
)

// SyncQueue is the sync job queue surface the watcher drives, satisfied by
// repository.SyncJobRepository.
type SyncQueue interface {
	GetRunnable(ctx context.Context, limit int) ([]models.SyncJob, error)
	GetStale(ctx context.Context, limit int) ([]models.SyncJob, error)
	MarkProcessing(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkRetry(ctx context.Context, jobID string, lastError string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, jobID string, lastError string) error
}

// RefreshQueue is satisfied by repository.TokenRefreshJobRepository.
type RefreshQueue interface {
	GetRunnable(ctx context.Context, limit int) ([]models.TokenRefreshJob, error)
	GetStale(ctx context.Context, limit int) ([]models.TokenRefreshJob, error)
	MarkProcessing(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkRetry(ctx context.Context, jobID string, lastError string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, jobID string, lastError string) error
}

// WebhookQueue is satisfied by repository.WebhookJobRepository.
type WebhookQueue interface {
	GetRunnable(ctx context.Context, limit int) ([]models.WebhookJob, error)
	GetStale(ctx context.Context, limit int) ([]models.WebhookJob, error)
	MarkProcessing(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkRetry(ctx context.Context, jobID string, lastError string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, jobID string, lastError string) error
}

// SyncHandler is satisfied by service.SyncProcessor.
type SyncHandler interface {
	ProcessSyncJob(ctx context.Context, job *models.SyncJob) error
}

// WebhookHandler is satisfied by service.WebhookProcessor.
type WebhookHandler interface {
	ProcessWebhookJob(ctx context.Context, job *models.WebhookJob) error
}

// TokenManager is satisfied by service.TokenService.
type TokenManager interface {
	RefreshAccount(ctx context.Context, accountID string) error
	MarkRefreshFailed(ctx context.Context, accountID, diagnostic string) error
	ScanExpiring(ctx context.Context) (int, error)
}

type Watcher struct {
	cfg              *config.Config
	syncJobRepo      SyncQueue
	refreshJobRepo   RefreshQueue
	webhookJobRepo   WebhookQueue
	syncProcessor    SyncHandler
	webhookProcessor WebhookHandler
	tokenService     TokenManager
}

func New(
	cfg *config.Config,
	syncJobRepo SyncQueue,
	refreshJobRepo RefreshQueue,
	webhookJobRepo WebhookQueue,
	syncProcessor SyncHandler,
	webhookProcessor WebhookHandler,
	tokenService TokenManager,
) *Watcher {
	return &Watcher{
		cfg:              cfg,
		syncJobRepo:      syncJobRepo,
		refreshJobRepo:   refreshJobRepo,
		webhookJobRepo:   webhookJobRepo,
		syncProcessor:    syncProcessor,
		webhookProcessor: webhookProcessor,
		tokenService:     tokenService,
	}
}

// Start begins polling all three job queues and running the periodic token
// expiry scan. It blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	log.Println("Starting watcher for sync, token refresh, and webhook jobs...")

	// Process any runnable jobs left over from previous runs
	w.processAllQueues(ctx)

	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	expiryTicker := time.NewTicker(w.cfg.ExpiryScanInterval)
	defer expiryTicker.Stop()

	// Run one scan on startup so a long-stopped worker catches up on
	// tokens that expired while it was down
	w.runExpiryScan(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Watcher shutting down...")
			return ctx.Err()
		case <-ticker.C:
			w.processAllQueues(ctx)
		case <-expiryTicker.C:
			w.runExpiryScan(ctx)
		}
	}
}

func (w *Watcher) processAllQueues(ctx context.Context) {
	if err := w.processSyncJobs(ctx); err != nil {
		log.Printf("Error processing sync jobs: %v", err)
	}
	if err := w.processRefreshJobs(ctx); err != nil {
		log.Printf("Error processing token refresh jobs: %v", err)
	}
	if err := w.processWebhookJobs(ctx); err != nil {
		log.Printf("Error processing webhook jobs: %v", err)
	}
}

func (w *Watcher) runExpiryScan(ctx context.Context) {
	enqueued, err := w.tokenService.ScanExpiring(ctx)
	if err != nil {
		log.Printf("Error scanning expiring tokens: %v", err)
		return
	}
	if enqueued > 0 {
		log.Printf("Expiry scan enqueued %d token refresh job(s)", enqueued)
	}
}

// processSyncJobs runs runnable and stale sync jobs with bounded concurrency.
func (w *Watcher) processSyncJobs(ctx context.Context) error {
	limit := w.cfg.SyncQueue.Concurrency
	runnable, err := w.syncJobRepo.GetRunnable(ctx, limit)
	if err != nil {
		return err
	}
	stale, err := w.syncJobRepo.GetStale(ctx, limit)
	if err != nil {
		return err
	}

	jobs := append(runnable, stale...)
	if len(jobs) == 0 {
		return nil
	}
	log.Printf("Found %d sync job(s) to process", len(jobs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.cfg.SyncQueue.Concurrency)
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.runSyncJob(ctx, &job)
		}()
	}
	wg.Wait()
	return nil
}

func (w *Watcher) runSyncJob(ctx context.Context, job *models.SyncJob) {
	if err := w.syncJobRepo.MarkProcessing(ctx, job.ID); err != nil {
		log.Printf("Failed to claim sync job %s: %v", job.ID, err)
		return
	}
	attempt := job.Attempts + 1

	err := w.syncProcessor.ProcessSyncJob(ctx, job)
	if err == nil {
		if err := w.syncJobRepo.MarkCompleted(ctx, job.ID); err != nil {
			log.Printf("Failed to complete sync job %s: %v", job.ID, err)
		}
		return
	}

	if service.IsTerminal(err) || attempt >= w.cfg.SyncQueue.MaxAttempts {
		log.Printf("Sync job %s failed permanently after %d attempt(s): %v", job.ID, attempt, err)
		if err := w.syncJobRepo.MarkFailed(ctx, job.ID, err.Error()); err != nil {
			log.Printf("Failed to mark sync job %s failed: %v", job.ID, err)
		}
		return
	}

	retryAt := time.Now().Add(backoff(w.cfg.SyncQueue.BackoffBase, attempt))
	log.Printf("Sync job %s attempt %d failed, retrying at %s: %v", job.ID, attempt, retryAt.Format(time.RFC3339), err)
	if err := w.syncJobRepo.MarkRetry(ctx, job.ID, err.Error(), retryAt); err != nil {
		log.Printf("Failed to schedule sync job %s retry: %v", job.ID, err)
	}
}

// processRefreshJobs runs runnable and stale token refresh jobs.
func (w *Watcher) processRefreshJobs(ctx context.Context) error {
	limit := w.cfg.RefreshQueue.Concurrency
	runnable, err := w.refreshJobRepo.GetRunnable(ctx, limit)
	if err != nil {
		return err
	}
	stale, err := w.refreshJobRepo.GetStale(ctx, limit)
	if err != nil {
		return err
	}

	jobs := append(runnable, stale...)
	if len(jobs) == 0 {
		return nil
	}
	log.Printf("Found %d token refresh job(s) to process", len(jobs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.cfg.RefreshQueue.Concurrency)
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.runRefreshJob(ctx, &job)
		}()
	}
	wg.Wait()
	return nil
}

func (w *Watcher) runRefreshJob(ctx context.Context, job *models.TokenRefreshJob) {
	if err := w.refreshJobRepo.MarkProcessing(ctx, job.ID); err != nil {
		log.Printf("Failed to claim token refresh job %s: %v", job.ID, err)
		return
	}
	attempt := job.Attempts + 1

	err := w.tokenService.RefreshAccount(ctx, job.AccountID)
	if err == nil {
		if err := w.refreshJobRepo.MarkCompleted(ctx, job.ID); err != nil {
			log.Printf("Failed to complete token refresh job %s: %v", job.ID, err)
		}
		return
	}

	if service.IsTerminal(err) || attempt >= w.cfg.RefreshQueue.MaxAttempts {
		log.Printf("Token refresh job %s failed permanently after %d attempt(s): %v", job.ID, attempt, err)
		if err := w.refreshJobRepo.MarkFailed(ctx, job.ID, err.Error()); err != nil {
			log.Printf("Failed to mark token refresh job %s failed: %v", job.ID, err)
		}
		// Exhausted refreshes push the account into ERROR so syncs stop
		// and the user is prompted to reconnect
		diagnostic := fmt.Sprintf("token refresh failed after %d attempt(s)", attempt)
		if err := w.tokenService.MarkRefreshFailed(ctx, job.AccountID, diagnostic); err != nil {
			log.Printf("Failed to mark account %s errored: %v", job.AccountID, err)
		}
		return
	}

	retryAt := time.Now().Add(backoff(w.cfg.RefreshQueue.BackoffBase, attempt))
	log.Printf("Token refresh job %s attempt %d failed, retrying at %s: %v", job.ID, attempt, retryAt.Format(time.RFC3339), err)
	if err := w.refreshJobRepo.MarkRetry(ctx, job.ID, err.Error(), retryAt); err != nil {
		log.Printf("Failed to schedule token refresh job %s retry: %v", job.ID, err)
	}
}

// processWebhookJobs runs runnable and stale webhook jobs.
func (w *Watcher) processWebhookJobs(ctx context.Context) error {
	limit := w.cfg.WebhookQueue.Concurrency
	runnable, err := w.webhookJobRepo.GetRunnable(ctx, limit)
	if err != nil {
		return err
	}
	stale, err := w.webhookJobRepo.GetStale(ctx, limit)
	if err != nil {
		return err
	}

	jobs := append(runnable, stale...)
	if len(jobs) == 0 {
		return nil
	}
	log.Printf("Found %d webhook job(s) to process", len(jobs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.cfg.WebhookQueue.Concurrency)
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.runWebhookJob(ctx, &job)
		}()
	}
	wg.Wait()
	return nil
}

func (w *Watcher) runWebhookJob(ctx context.Context, job *models.WebhookJob) {
	if err := w.webhookJobRepo.MarkProcessing(ctx, job.ID); err != nil {
		log.Printf("Failed to claim webhook job %s: %v", job.ID, err)
		return
	}
	attempt := job.Attempts + 1

	err := w.webhookProcessor.ProcessWebhookJob(ctx, job)
	if err == nil {
		if err := w.webhookJobRepo.MarkCompleted(ctx, job.ID); err != nil {
			log.Printf("Failed to complete webhook job %s: %v", job.ID, err)
		}
		return
	}

	if service.IsTerminal(err) || attempt >= w.cfg.WebhookQueue.MaxAttempts {
		log.Printf("Webhook job %s failed permanently after %d attempt(s): %v", job.ID, attempt, err)
		if err := w.webhookJobRepo.MarkFailed(ctx, job.ID, err.Error()); err != nil {
			log.Printf("Failed to mark webhook job %s failed: %v", job.ID, err)
		}
		return
	}

	retryAt := time.Now().Add(backoff(w.cfg.WebhookQueue.BackoffBase, attempt))
	log.Printf("Webhook job %s attempt %d failed, retrying at %s: %v", job.ID, attempt, retryAt.Format(time.RFC3339), err)
	if err := w.webhookJobRepo.MarkRetry(ctx, job.ID, err.Error(), retryAt); err != nil {
		log.Printf("Failed to schedule webhook job %s retry: %v", job.ID, err)
	}
}

// backoff returns the exponential delay before the next attempt:
// base * 2^(attempt-1), so attempt 1 waits base, attempt 2 waits 2*base.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
