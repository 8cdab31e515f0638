package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID retrieves account by ID
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*models.ProviderAccount, error) {
	var account models.ProviderAccount
	result := r.db.WithContext(ctx).First(&account, "id = ?", accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// GetActiveByUserAndProvider retrieves the single ACTIVE account for a
// (user, provider) pair.
func (r *AccountRepository) GetActiveByUserAndProvider(ctx context.Context, userID, providerID string) (*models.ProviderAccount, error) {
	var account models.ProviderAccount
	result := r.db.WithContext(ctx).
		First(&account, "user_id = ? AND provider = ? AND status = ?", userID, providerID, models.AccountStatusActive)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// Create inserts a new provider account row.
func (r *AccountRepository) Create(ctx context.Context, account *models.ProviderAccount) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// UpdateTokens updates the sealed tokens and expiry after an exchange or
// refresh, resets the account to ACTIVE, and clears any error diagnostic.
func (r *AccountRepository) UpdateTokens(ctx context.Context, accountID string, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ProviderAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_at":    expiresAt,
			"status":        models.AccountStatusActive,
			"metadata":      nil,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}

// UpdateStatus transitions the account status, recording a diagnostic note
// in the metadata for operator inspection.
func (r *AccountRepository) UpdateStatus(ctx context.Context, accountID string, status models.AccountStatus, diagnostic string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if diagnostic != "" {
		updates["metadata"] = models.JSONB{"error": diagnostic, "at": time.Now().UTC().Format(time.RFC3339)}
	}

	result := r.db.WithContext(ctx).Model(&models.ProviderAccount{}).
		Where("id = ?", accountID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update account status: %w", result.Error)
	}
	return nil
}

// TouchLastSyncAt advances the sync watermark unconditionally.
func (r *AccountRepository) TouchLastSyncAt(ctx context.Context, accountID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ProviderAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"last_sync_at": at,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update last sync time: %w", result.Error)
	}
	return nil
}

// TouchLastWebhookAt records reception of a webhook for the account.
func (r *AccountRepository) TouchLastWebhookAt(ctx context.Context, accountID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ProviderAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"last_webhook_at": at,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update last webhook time: %w", result.Error)
	}
	return nil
}

// FindExpiring returns ACTIVE accounts whose access token expires within the
// horizon. Accounts with no expiry (non-expiring providers) are never returned.
func (r *AccountRepository) FindExpiring(ctx context.Context, horizon time.Duration, limit int) ([]models.ProviderAccount, error) {
	var accounts []models.ProviderAccount
	result := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			models.AccountStatusActive, time.Now().Add(horizon)).
		Order("expires_at ASC").
		Limit(limit).
		Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query expiring accounts: %w", result.Error)
	}
	return accounts, nil
}

// FindByExternalUserID resolves webhook owner ids back to accounts.
func (r *AccountRepository) FindByExternalUserID(ctx context.Context, providerID, externalUserID string) (*models.ProviderAccount, error) {
	var account models.ProviderAccount
	result := r.db.WithContext(ctx).
		First(&account, "provider = ? AND external_user_id = ?", providerID, externalUserID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}
