// Package provider defines the uniform driver contract for external
// health-data providers and the per-provider implementations.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

// Provider identifiers. These are the only values the registry accepts.
const (
	Fitbit    = "fitbit"
	Dexcom    = "dexcom"
	Terra     = "terra"
	GoogleFit = "googlefit"
	Strava    = "strava"
	Whoop     = "whoop"
)

var (
	// ErrUnknownProvider indicates a provider id absent from the registry.
	// This is a programming error, never retried.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNotImplemented is returned by scaffolded drivers that exist for
	// interface completeness but are not wired to a real API yet.
	ErrNotImplemented = errors.New("provider not implemented")
)

// OAuthTokens is the transient result of a token grant. It is encrypted
// immediately before persistence and never held longer than necessary.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string     // empty when the provider issued none
	ExpiresAt    *time.Time // nil when the token never expires
	Scope        string
}

// Profile carries the provider-side user identity used as the correlation key.
type Profile struct {
	ExternalUserID string
	DisplayName    string
}

// Driver is the narrowest common surface over heterogeneous provider APIs.
// OAuth and metric fetch are mandatory; provider-specific quirks (pagination,
// unit conversion, HMAC algorithm) stay inside each implementation.
type Driver interface {
	ID() string

	// AuthorizeURL constructs the consent-screen URL. Pure: same inputs
	// always yield a byte-identical URL.
	AuthorizeURL(state, redirectURI string) string

	// ExchangeCode performs the authorization-code grant. No internal
	// retries; the queue layer owns retry policy.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*OAuthTokens, error)

	// RefreshTokens performs the refresh-token grant. Providers whose
	// tokens never expire return the same token unchanged. When the
	// provider rotates the refresh token the new one is propagated and
	// the caller must persist it.
	RefreshTokens(ctx context.Context, refreshToken string) (*OAuthTokens, error)

	// FetchProfile retrieves a stable external user id. Providers without
	// a profile endpoint return a deterministic surrogate.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)

	// FetchMetrics fetches all readings since the watermark across every
	// sub-resource the provider exposes, mapped into the shared metric
	// vocabulary. Idempotent under re-invocation with the same window.
	FetchMetrics(ctx context.Context, accessToken string, since time.Time) ([]models.Metric, error)
}

// WebhookVerifier is the optional webhook capability. Implementations use a
// constant-time HMAC comparison with the provider's digest algorithm.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) bool
}

const httpTimeout = 30 * time.Second
