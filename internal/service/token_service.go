package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vitalloop/vitalloop-worker/internal/crypto"
	"github.com/vitalloop/vitalloop-worker/internal/models"
	"github.com/vitalloop/vitalloop-worker/internal/provider"
	"github.com/vitalloop/vitalloop-worker/internal/repository"
)

// backfillWindowDays is the historical window for the initial sync after a
// provider is connected.
const backfillWindowDays = 90

// TokenService owns the token lifecycle: encryption at rest, just-in-time
// decryption, refresh scheduling, and account status transitions.
type TokenService struct {
	vault       *crypto.Vault
	registry    DriverRegistry
	accountRepo AccountStore
	refreshJobs RefreshJobQueue
	syncJobs    SyncJobQueue
	horizon     time.Duration
}

func NewTokenService(
	vault *crypto.Vault,
	registry DriverRegistry,
	accountRepo AccountStore,
	refreshJobs RefreshJobQueue,
	syncJobs SyncJobQueue,
	horizon time.Duration,
) *TokenService {
	return &TokenService{
		vault:       vault,
		registry:    registry,
		accountRepo: accountRepo,
		refreshJobs: refreshJobs,
		syncJobs:    syncJobs,
		horizon:     horizon,
	}
}

// StoreConnection persists a freshly exchanged token set for (user, provider)
// and enqueues the initial backfill sync. Tokens are sealed before the row is
// written; reconnecting an already-connected provider replaces the tokens on
// the existing account.
func (s *TokenService) StoreConnection(ctx context.Context, userID, providerID string, tokens *provider.OAuthTokens, profile *provider.Profile) (*models.ProviderAccount, error) {
	sealedAccess, err := s.vault.Seal(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}

	var sealedRefresh *string
	if tokens.RefreshToken != "" {
		sealed, err := s.vault.Seal(tokens.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to seal refresh token: %w", err)
		}
		sealedRefresh = &sealed
	}

	account, err := s.accountRepo.GetActiveByUserAndProvider(ctx, userID, providerID)
	if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to look up existing %s account for user %s: %w", providerID, userID, err)
	}
	if err == nil {
		// Reconnect: one active account per (user, provider)
		if err := s.accountRepo.UpdateTokens(ctx, account.ID, sealedAccess, sealedRefresh, tokens.ExpiresAt); err != nil {
			return nil, err
		}
		log.Printf("Replaced tokens on existing %s account %s (user: %s)", providerID, account.ID, userID)
	} else {
		account = &models.ProviderAccount{
			ID:             uuid.New().String(),
			UserID:         userID,
			Provider:       providerID,
			Status:         models.AccountStatusActive,
			AccessToken:    sealedAccess,
			RefreshToken:   sealedRefresh,
			ExpiresAt:      tokens.ExpiresAt,
			ExternalUserID: profile.ExternalUserID,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		if tokens.Scope != "" {
			scope := tokens.Scope
			account.Scope = &scope
		}
		if err := s.accountRepo.Create(ctx, account); err != nil {
			return nil, err
		}
		log.Printf("Connected %s account %s (user: %s, external: %s)", providerID, account.ID, userID, profile.ExternalUserID)
	}

	since := time.Now().AddDate(0, 0, -backfillWindowDays)
	job := models.SyncJob{
		ID:        uuid.New().String(),
		UserID:    userID,
		Provider:  providerID,
		AccountID: account.ID,
		Status:    models.JobStatusPending,
		SyncType:  models.SyncTypeBackfill,
		Since:     &since,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.syncJobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue initial sync job: %w", err)
	}

	return account, nil
}

// AccessToken unseals the account's access token for immediate use. The
// plaintext goes to the single caller and is not retained.
func (s *TokenService) AccessToken(ctx context.Context, account *models.ProviderAccount) (string, error) {
	token, err := s.vault.Open(account.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to unseal access token for account %s: %w", account.ID, err)
	}
	return token, nil
}

// RefreshAccount is the token-refresh job handler. An account with no stored
// refresh token is a warned no-op: the provider is never called and the
// account status is untouched.
func (s *TokenService) RefreshAccount(ctx context.Context, accountID string) error {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("refresh account %s: %w", accountID, err)
	}

	if account.RefreshToken == nil {
		log.Printf("Warning: account %s (%s) has no refresh token, skipping refresh", accountID, account.Provider)
		return nil
	}

	driver, err := s.registry.Get(account.Provider)
	if err != nil {
		return fmt.Errorf("refresh account %s: %w", accountID, err)
	}

	refreshToken, err := s.vault.Open(*account.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to unseal refresh token for account %s: %w", accountID, err)
	}

	tokens, err := driver.RefreshTokens(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("refresh account %s: %w", accountID, err)
	}

	sealedAccess, err := s.vault.Seal(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to seal refreshed access token: %w", err)
	}

	// Some providers rotate the refresh token; when the response carries a
	// new one it must replace the old, which is now invalid.
	sealedRefresh := account.RefreshToken
	if tokens.RefreshToken != "" {
		sealed, err := s.vault.Seal(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to seal rotated refresh token: %w", err)
		}
		sealedRefresh = &sealed
	}

	if err := s.accountRepo.UpdateTokens(ctx, accountID, sealedAccess, sealedRefresh, tokens.ExpiresAt); err != nil {
		return err
	}

	log.Printf("Token refreshed for account %s (%s)", accountID, account.Provider)
	return nil
}

// MarkRefreshFailed transitions the account to ERROR with a diagnostic note.
// Called by the queue layer only after the refresh attempt budget is spent.
func (s *TokenService) MarkRefreshFailed(ctx context.Context, accountID, diagnostic string) error {
	if diagnostic == "" {
		diagnostic = "token refresh failed after exhausting retries"
	}
	if err := s.accountRepo.UpdateStatus(ctx, accountID, models.AccountStatusError, diagnostic); err != nil {
		return err
	}
	log.Printf("Account %s marked ERROR: %s", accountID, diagnostic)
	return nil
}

// ScanExpiring enqueues one refresh job per ACTIVE account whose token
// expires within the horizon. Runs hourly; the unique-pending guard on the
// refresh queue makes repeat scans harmless.
func (s *TokenService) ScanExpiring(ctx context.Context) (int, error) {
	accounts, err := s.accountRepo.FindExpiring(ctx, s.horizon, 100)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, account := range accounts {
		job := models.TokenRefreshJob{
			ID:        uuid.New().String(),
			AccountID: account.ID,
			Status:    models.JobStatusPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := s.refreshJobs.Enqueue(ctx, job); err != nil {
			log.Printf("Failed to enqueue refresh job for account %s: %v", account.ID, err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		log.Printf("Expiry scan enqueued %d refresh job(s)", enqueued)
	}
	return enqueued, nil
}
