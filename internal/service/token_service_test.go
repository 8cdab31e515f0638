package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/crypto"
	"github.com/vitalloop/vitalloop-worker/internal/models"
	"github.com/vitalloop/vitalloop-worker/internal/provider"
)

const testVaultKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func testVault(t *testing.T) *crypto.Vault {
	t.Helper()
	v, err := crypto.NewVault(testVaultKey)
	if err != nil {
		t.Fatalf("failed to build vault: %v", err)
	}
	return v
}

func TestTokenService_StoreConnection_NewAccount(t *testing.T) {
	vault := testVault(t)

	var created *models.ProviderAccount
	accounts := &mockAccountStore{
		createFunc: func(ctx context.Context, account *models.ProviderAccount) error {
			created = account
			return nil
		},
	}
	syncJobs := &mockSyncJobQueue{}

	svc := NewTokenService(vault, &mockRegistry{}, accounts, &mockRefreshJobQueue{}, syncJobs, time.Hour)

	expires := time.Now().Add(8 * time.Hour)
	tokens := &provider.OAuthTokens{
		AccessToken:  "plain-access",
		RefreshToken: "plain-refresh",
		ExpiresAt:    &expires,
		Scope:        "activity heartrate",
	}
	account, err := svc.StoreConnection(context.Background(), "user-1", provider.Fitbit, tokens, &provider.Profile{ExternalUserID: "fb-123"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if created == nil {
		t.Fatal("expected account to be created")
	}
	if created.AccessToken == "plain-access" {
		t.Error("access token stored in plaintext")
	}
	if created.RefreshToken == nil || *created.RefreshToken == "plain-refresh" {
		t.Error("refresh token missing or stored in plaintext")
	}
	if got, err := vault.Open(created.AccessToken); err != nil || got != "plain-access" {
		t.Errorf("sealed access token does not round-trip: %q, %v", got, err)
	}
	if created.ExternalUserID != "fb-123" {
		t.Errorf("expected external user id fb-123, got %q", created.ExternalUserID)
	}

	if len(syncJobs.created) != 1 {
		t.Fatalf("expected 1 initial sync job, got %d", len(syncJobs.created))
	}
	job := syncJobs.created[0]
	if job.SyncType != models.SyncTypeBackfill {
		t.Errorf("initial sync must be a backfill, got %s", job.SyncType)
	}
	if job.AccountID != account.ID {
		t.Errorf("sync job bound to wrong account: %s", job.AccountID)
	}
	if job.Since == nil {
		t.Fatal("backfill job must carry an explicit window start")
	}
}

func TestTokenService_StoreConnection_LookupFailureReturnsError(t *testing.T) {
	vault := testVault(t)

	createCalls := 0
	accounts := &mockAccountStore{
		getActiveFunc: func(ctx context.Context, userID, providerID string) (*models.ProviderAccount, error) {
			return nil, errors.New("connection refused")
		},
		createFunc: func(ctx context.Context, account *models.ProviderAccount) error {
			createCalls++
			return nil
		},
	}
	syncJobs := &mockSyncJobQueue{}

	svc := NewTokenService(vault, &mockRegistry{}, accounts, &mockRefreshJobQueue{}, syncJobs, time.Hour)

	_, err := svc.StoreConnection(context.Background(), "user-1", provider.Fitbit,
		&provider.OAuthTokens{AccessToken: "plain-access"}, &provider.Profile{ExternalUserID: "fb-123"})
	if err == nil {
		t.Fatal("a transient lookup failure must surface, not fall through to create")
	}
	if createCalls != 0 {
		t.Error("no account may be created while the existing-account check is unanswered")
	}
	if len(syncJobs.created) != 0 {
		t.Error("no sync job may be enqueued when the connection was not stored")
	}
}

func TestTokenService_StoreConnection_ReconnectReplacesTokens(t *testing.T) {
	vault := testVault(t)

	existing := &models.ProviderAccount{
		ID:       "acc-1",
		UserID:   "user-1",
		Provider: provider.Fitbit,
		Status:   models.AccountStatusActive,
	}

	updated := false
	createCalls := 0
	accounts := &mockAccountStore{
		getActiveFunc: func(ctx context.Context, userID, providerID string) (*models.ProviderAccount, error) {
			return existing, nil
		},
		updateTokensFunc: func(ctx context.Context, accountID string, accessToken string, refreshToken *string, expiresAt *time.Time) error {
			updated = true
			if accountID != "acc-1" {
				t.Errorf("tokens replaced on wrong account: %s", accountID)
			}
			return nil
		},
		createFunc: func(ctx context.Context, account *models.ProviderAccount) error {
			createCalls++
			return nil
		},
	}

	svc := NewTokenService(vault, &mockRegistry{}, accounts, &mockRefreshJobQueue{}, &mockSyncJobQueue{}, time.Hour)

	_, err := svc.StoreConnection(context.Background(), "user-1", provider.Fitbit,
		&provider.OAuthTokens{AccessToken: "new-access"}, &provider.Profile{ExternalUserID: "fb-123"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !updated {
		t.Error("reconnect must replace tokens on the existing account")
	}
	if createCalls != 0 {
		t.Error("reconnect must not create a second account")
	}
}

func TestTokenService_RefreshAccount_NoRefreshTokenIsNoop(t *testing.T) {
	vault := testVault(t)

	driver := &mockDriver{
		id: provider.Fitbit,
		refreshFunc: func(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error) {
			t.Fatal("provider must not be called without a refresh token")
			return nil, nil
		},
	}
	accounts := &mockAccountStore{
		getByIDFunc: func(ctx context.Context, accountID string) (*models.ProviderAccount, error) {
			return &models.ProviderAccount{ID: accountID, Provider: provider.Fitbit, RefreshToken: nil}, nil
		},
	}

	svc := NewTokenService(vault, &mockRegistry{drivers: map[string]provider.Driver{provider.Fitbit: driver}}, accounts, &mockRefreshJobQueue{}, &mockSyncJobQueue{}, time.Hour)

	if err := svc.RefreshAccount(context.Background(), "acc-1"); err != nil {
		t.Fatalf("missing refresh token must be a no-op, got %v", err)
	}
}

func TestTokenService_RefreshAccount_PersistsRotatedToken(t *testing.T) {
	vault := testVault(t)

	sealedOld, err := vault.Seal("old-refresh")
	if err != nil {
		t.Fatal(err)
	}

	driver := &mockDriver{
		id: provider.Fitbit,
		refreshFunc: func(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error) {
			if refreshToken != "old-refresh" {
				t.Errorf("expected unsealed refresh token, got %q", refreshToken)
			}
			return &provider.OAuthTokens{AccessToken: "new-access", RefreshToken: "rotated-refresh"}, nil
		},
	}

	var storedRefresh *string
	accounts := &mockAccountStore{
		getByIDFunc: func(ctx context.Context, accountID string) (*models.ProviderAccount, error) {
			return &models.ProviderAccount{ID: accountID, Provider: provider.Fitbit, RefreshToken: &sealedOld}, nil
		},
		updateTokensFunc: func(ctx context.Context, accountID string, accessToken string, refreshToken *string, expiresAt *time.Time) error {
			storedRefresh = refreshToken
			return nil
		},
	}

	svc := NewTokenService(vault, &mockRegistry{drivers: map[string]provider.Driver{provider.Fitbit: driver}}, accounts, &mockRefreshJobQueue{}, &mockSyncJobQueue{}, time.Hour)

	if err := svc.RefreshAccount(context.Background(), "acc-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if storedRefresh == nil {
		t.Fatal("rotated refresh token must be persisted")
	}
	if got, err := vault.Open(*storedRefresh); err != nil || got != "rotated-refresh" {
		t.Errorf("persisted refresh token must be the sealed rotation: %q, %v", got, err)
	}
}

func TestTokenService_RefreshAccount_KeepsTokenWhenNotRotated(t *testing.T) {
	vault := testVault(t)

	sealedOld, err := vault.Seal("old-refresh")
	if err != nil {
		t.Fatal(err)
	}

	driver := &mockDriver{
		id: provider.Fitbit,
		refreshFunc: func(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error) {
			return &provider.OAuthTokens{AccessToken: "new-access"}, nil
		},
	}

	var storedRefresh *string
	accounts := &mockAccountStore{
		getByIDFunc: func(ctx context.Context, accountID string) (*models.ProviderAccount, error) {
			return &models.ProviderAccount{ID: accountID, Provider: provider.Fitbit, RefreshToken: &sealedOld}, nil
		},
		updateTokensFunc: func(ctx context.Context, accountID string, accessToken string, refreshToken *string, expiresAt *time.Time) error {
			storedRefresh = refreshToken
			return nil
		},
	}

	svc := NewTokenService(vault, &mockRegistry{drivers: map[string]provider.Driver{provider.Fitbit: driver}}, accounts, &mockRefreshJobQueue{}, &mockSyncJobQueue{}, time.Hour)

	if err := svc.RefreshAccount(context.Background(), "acc-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if storedRefresh == nil || *storedRefresh != sealedOld {
		t.Error("non-rotated refresh token must be kept as stored")
	}
}

func TestTokenService_RefreshAccount_ProviderErrorIsRetryable(t *testing.T) {
	vault := testVault(t)

	sealedOld, err := vault.Seal("old-refresh")
	if err != nil {
		t.Fatal(err)
	}

	driver := &mockDriver{
		id: provider.Fitbit,
		refreshFunc: func(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error) {
			return nil, errors.New("invalid_grant")
		},
	}
	accounts := &mockAccountStore{
		getByIDFunc: func(ctx context.Context, accountID string) (*models.ProviderAccount, error) {
			return &models.ProviderAccount{ID: accountID, Provider: provider.Fitbit, RefreshToken: &sealedOld}, nil
		},
	}

	svc := NewTokenService(vault, &mockRegistry{drivers: map[string]provider.Driver{provider.Fitbit: driver}}, accounts, &mockRefreshJobQueue{}, &mockSyncJobQueue{}, time.Hour)

	err = svc.RefreshAccount(context.Background(), "acc-1")
	if err == nil {
		t.Fatal("expected error from provider refresh failure")
	}
	if IsTerminal(err) {
		t.Errorf("provider refresh failures must stay retryable, got terminal: %v", err)
	}
}

func TestTokenService_MarkRefreshFailed_SetsErrorStatus(t *testing.T) {
	vault := testVault(t)

	var gotStatus models.AccountStatus
	var gotDiagnostic string
	accounts := &mockAccountStore{
		updateStatusFunc: func(ctx context.Context, accountID string, status models.AccountStatus, diagnostic string) error {
			gotStatus = status
			gotDiagnostic = diagnostic
			return nil
		},
	}

	svc := NewTokenService(vault, &mockRegistry{}, accounts, &mockRefreshJobQueue{}, &mockSyncJobQueue{}, time.Hour)

	if err := svc.MarkRefreshFailed(context.Background(), "acc-1", ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gotStatus != models.AccountStatusError {
		t.Errorf("expected ERROR status, got %s", gotStatus)
	}
	if gotDiagnostic == "" {
		t.Error("diagnostic must never be empty")
	}
}

func TestTokenService_ScanExpiring_EnqueuesPerAccount(t *testing.T) {
	vault := testVault(t)

	accounts := &mockAccountStore{
		findExpiringFunc: func(ctx context.Context, horizon time.Duration, limit int) ([]models.ProviderAccount, error) {
			return []models.ProviderAccount{{ID: "acc-1"}, {ID: "acc-2"}}, nil
		},
	}
	refreshJobs := &mockRefreshJobQueue{}

	svc := NewTokenService(vault, &mockRegistry{}, accounts, refreshJobs, &mockSyncJobQueue{}, time.Hour)

	n, err := svc.ScanExpiring(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 2 || len(refreshJobs.enqueued) != 2 {
		t.Fatalf("expected 2 enqueued refresh jobs, got n=%d len=%d", n, len(refreshJobs.enqueued))
	}
	if refreshJobs.enqueued[0].AccountID != "acc-1" || refreshJobs.enqueued[1].AccountID != "acc-2" {
		t.Error("refresh jobs bound to wrong accounts")
	}
}
