package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

// scaffoldDriver is a placeholder registration for providers on the roadmap.
// Every operation fails fast with ErrNotImplemented.
type scaffoldDriver struct {
	id string
}

func newScaffoldDriver(id string) *scaffoldDriver {
	return &scaffoldDriver{id: id}
}

func (d *scaffoldDriver) ID() string { return d.id }

func (d *scaffoldDriver) AuthorizeURL(state, redirectURI string) string { return "" }

func (d *scaffoldDriver) ExchangeCode(ctx context.Context, code, redirectURI string) (*OAuthTokens, error) {
	return nil, fmt.Errorf("%s: exchange code: %w", d.id, ErrNotImplemented)
}

func (d *scaffoldDriver) RefreshTokens(ctx context.Context, refreshToken string) (*OAuthTokens, error) {
	return nil, fmt.Errorf("%s: refresh tokens: %w", d.id, ErrNotImplemented)
}

func (d *scaffoldDriver) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	return nil, fmt.Errorf("%s: fetch profile: %w", d.id, ErrNotImplemented)
}

func (d *scaffoldDriver) FetchMetrics(ctx context.Context, accessToken string, since time.Time) ([]models.Metric, error) {
	return nil, fmt.Errorf("%s: fetch metrics: %w", d.id, ErrNotImplemented)
}
