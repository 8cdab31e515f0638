package service

import (
	"context"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
	"github.com/vitalloop/vitalloop-worker/internal/provider"
	"github.com/vitalloop/vitalloop-worker/internal/repository"
)

type mockAccountStore struct {
	getByIDFunc              func(ctx context.Context, accountID string) (*models.ProviderAccount, error)
	getActiveFunc            func(ctx context.Context, userID, providerID string) (*models.ProviderAccount, error)
	createFunc               func(ctx context.Context, account *models.ProviderAccount) error
	updateTokensFunc         func(ctx context.Context, accountID string, accessToken string, refreshToken *string, expiresAt *time.Time) error
	updateStatusFunc         func(ctx context.Context, accountID string, status models.AccountStatus, diagnostic string) error
	touchLastSyncAtFunc      func(ctx context.Context, accountID string, at time.Time) error
	touchLastWebhookAtFunc   func(ctx context.Context, accountID string, at time.Time) error
	findExpiringFunc         func(ctx context.Context, horizon time.Duration, limit int) ([]models.ProviderAccount, error)
	findByExternalUserIDFunc func(ctx context.Context, providerID, externalUserID string) (*models.ProviderAccount, error)
}

func (m *mockAccountStore) GetByID(ctx context.Context, accountID string) (*models.ProviderAccount, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, accountID)
	}
	return nil, repository.ErrAccountNotFound
}

func (m *mockAccountStore) GetActiveByUserAndProvider(ctx context.Context, userID, providerID string) (*models.ProviderAccount, error) {
	if m.getActiveFunc != nil {
		return m.getActiveFunc(ctx, userID, providerID)
	}
	return nil, repository.ErrAccountNotFound
}

func (m *mockAccountStore) Create(ctx context.Context, account *models.ProviderAccount) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, account)
	}
	return nil
}

func (m *mockAccountStore) UpdateTokens(ctx context.Context, accountID string, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	if m.updateTokensFunc != nil {
		return m.updateTokensFunc(ctx, accountID, accessToken, refreshToken, expiresAt)
	}
	return nil
}

func (m *mockAccountStore) UpdateStatus(ctx context.Context, accountID string, status models.AccountStatus, diagnostic string) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, accountID, status, diagnostic)
	}
	return nil
}

func (m *mockAccountStore) TouchLastSyncAt(ctx context.Context, accountID string, at time.Time) error {
	if m.touchLastSyncAtFunc != nil {
		return m.touchLastSyncAtFunc(ctx, accountID, at)
	}
	return nil
}

func (m *mockAccountStore) TouchLastWebhookAt(ctx context.Context, accountID string, at time.Time) error {
	if m.touchLastWebhookAtFunc != nil {
		return m.touchLastWebhookAtFunc(ctx, accountID, at)
	}
	return nil
}

func (m *mockAccountStore) FindExpiring(ctx context.Context, horizon time.Duration, limit int) ([]models.ProviderAccount, error) {
	if m.findExpiringFunc != nil {
		return m.findExpiringFunc(ctx, horizon, limit)
	}
	return nil, nil
}

func (m *mockAccountStore) FindByExternalUserID(ctx context.Context, providerID, externalUserID string) (*models.ProviderAccount, error) {
	if m.findByExternalUserIDFunc != nil {
		return m.findByExternalUserIDFunc(ctx, providerID, externalUserID)
	}
	return nil, repository.ErrAccountNotFound
}

type mockMetricStore struct {
	insertFunc           func(ctx context.Context, m models.Metric) (bool, error)
	latestRecordedAtFunc func(ctx context.Context, userID, providerID string) (*time.Time, error)
	countSinceFunc       func(ctx context.Context, userID, providerID string, since time.Time) (int, error)
	activeDaysSinceFunc  func(ctx context.Context, userID, providerID string, since time.Time) (int, error)
}

func (m *mockMetricStore) Insert(ctx context.Context, metric models.Metric) (bool, error) {
	if m.insertFunc != nil {
		return m.insertFunc(ctx, metric)
	}
	return true, nil
}

func (m *mockMetricStore) LatestRecordedAt(ctx context.Context, userID, providerID string) (*time.Time, error) {
	if m.latestRecordedAtFunc != nil {
		return m.latestRecordedAtFunc(ctx, userID, providerID)
	}
	return nil, nil
}

func (m *mockMetricStore) CountSince(ctx context.Context, userID, providerID string, since time.Time) (int, error) {
	if m.countSinceFunc != nil {
		return m.countSinceFunc(ctx, userID, providerID, since)
	}
	return 0, nil
}

func (m *mockMetricStore) ActiveDaysSince(ctx context.Context, userID, providerID string, since time.Time) (int, error) {
	if m.activeDaysSinceFunc != nil {
		return m.activeDaysSinceFunc(ctx, userID, providerID, since)
	}
	return 0, nil
}

type mockSyncJobQueue struct {
	createFunc func(ctx context.Context, job models.SyncJob) error
	created    []models.SyncJob
}

func (m *mockSyncJobQueue) Create(ctx context.Context, job models.SyncJob) error {
	m.created = append(m.created, job)
	if m.createFunc != nil {
		return m.createFunc(ctx, job)
	}
	return nil
}

type mockRefreshJobQueue struct {
	enqueueFunc func(ctx context.Context, job models.TokenRefreshJob) error
	enqueued    []models.TokenRefreshJob
}

func (m *mockRefreshJobQueue) Enqueue(ctx context.Context, job models.TokenRefreshJob) error {
	m.enqueued = append(m.enqueued, job)
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, job)
	}
	return nil
}

type mockDeviceHealthStore struct {
	upsertFunc func(ctx context.Context, health models.DeviceHealth) error
	upserted   []models.DeviceHealth
}

func (m *mockDeviceHealthStore) Upsert(ctx context.Context, health models.DeviceHealth) error {
	m.upserted = append(m.upserted, health)
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, health)
	}
	return nil
}

type mockAlertStore struct {
	created []models.Alert
}

func (m *mockAlertStore) Create(ctx context.Context, alert models.Alert) error {
	m.created = append(m.created, alert)
	return nil
}

// mockDriver implements provider.Driver with overridable fetch behavior.
type mockDriver struct {
	id               string
	fetchMetricsFunc func(ctx context.Context, accessToken string, since time.Time) ([]models.Metric, error)
	refreshFunc      func(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error)
	fetchCalls       int
}

func (d *mockDriver) ID() string { return d.id }

func (d *mockDriver) AuthorizeURL(state, redirectURI string) string {
	return "https://example.com/authorize?state=" + state
}

func (d *mockDriver) ExchangeCode(ctx context.Context, code, redirectURI string) (*provider.OAuthTokens, error) {
	return &provider.OAuthTokens{AccessToken: "exchanged-" + code}, nil
}

func (d *mockDriver) RefreshTokens(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error) {
	if d.refreshFunc != nil {
		return d.refreshFunc(ctx, refreshToken)
	}
	return &provider.OAuthTokens{AccessToken: "refreshed"}, nil
}

func (d *mockDriver) FetchProfile(ctx context.Context, accessToken string) (*provider.Profile, error) {
	return &provider.Profile{ExternalUserID: "ext-1"}, nil
}

func (d *mockDriver) FetchMetrics(ctx context.Context, accessToken string, since time.Time) ([]models.Metric, error) {
	d.fetchCalls++
	if d.fetchMetricsFunc != nil {
		return d.fetchMetricsFunc(ctx, accessToken, since)
	}
	return nil, nil
}

type mockRegistry struct {
	drivers map[string]provider.Driver
}

func (m *mockRegistry) Get(id string) (provider.Driver, error) {
	d, ok := m.drivers[id]
	if !ok {
		return nil, provider.ErrUnknownProvider
	}
	return d, nil
}

func (m *mockRegistry) IsImplemented(id string) bool {
	_, ok := m.drivers[id]
	return ok
}

// mockTokenOpener returns the sealed value unchanged, standing in for the
// vault in processor tests.
type mockTokenOpener struct{}

func (mockTokenOpener) AccessToken(ctx context.Context, account *models.ProviderAccount) (string, error) {
	return account.AccessToken, nil
}
