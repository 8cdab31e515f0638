package service

import (
	"context"
	"errors"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
	"github.com/vitalloop/vitalloop-worker/internal/provider"
	"github.com/vitalloop/vitalloop-worker/internal/repository"
)

// Store interfaces for dependency injection; the repository types satisfy
// them and tests supply hand-written mocks.

type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (*models.ProviderAccount, error)
	GetActiveByUserAndProvider(ctx context.Context, userID, providerID string) (*models.ProviderAccount, error)
	Create(ctx context.Context, account *models.ProviderAccount) error
	UpdateTokens(ctx context.Context, accountID string, accessToken string, refreshToken *string, expiresAt *time.Time) error
	UpdateStatus(ctx context.Context, accountID string, status models.AccountStatus, diagnostic string) error
	TouchLastSyncAt(ctx context.Context, accountID string, at time.Time) error
	TouchLastWebhookAt(ctx context.Context, accountID string, at time.Time) error
	FindExpiring(ctx context.Context, horizon time.Duration, limit int) ([]models.ProviderAccount, error)
	FindByExternalUserID(ctx context.Context, providerID, externalUserID string) (*models.ProviderAccount, error)
}

type MetricStore interface {
	Insert(ctx context.Context, m models.Metric) (bool, error)
	LatestRecordedAt(ctx context.Context, userID, providerID string) (*time.Time, error)
	CountSince(ctx context.Context, userID, providerID string, since time.Time) (int, error)
	ActiveDaysSince(ctx context.Context, userID, providerID string, since time.Time) (int, error)
}

type SyncJobQueue interface {
	Create(ctx context.Context, job models.SyncJob) error
}

type RefreshJobQueue interface {
	Enqueue(ctx context.Context, job models.TokenRefreshJob) error
}

type DeviceHealthStore interface {
	Upsert(ctx context.Context, health models.DeviceHealth) error
}

type AlertStore interface {
	Create(ctx context.Context, alert models.Alert) error
}

// DriverRegistry abstracts provider lookup for processors and tests.
type DriverRegistry interface {
	Get(id string) (provider.Driver, error)
	IsImplemented(id string) bool
}

// errAccountNotOwned marks a job whose user does not match the account it
// references. Retrying cannot fix ownership, so it is terminal.
var errAccountNotOwned = errors.New("account not owned by job user")

// IsTerminal classifies errors that must never be retried: programming errors
// and data/authorization invariant violations. Everything else is treated as
// transient and retried by the queue layer.
func IsTerminal(err error) bool {
	return errors.Is(err, provider.ErrUnknownProvider) ||
		errors.Is(err, provider.ErrNotImplemented) ||
		errors.Is(err, repository.ErrAccountNotFound) ||
		errors.Is(err, errAccountNotOwned)
}
