package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/vitalloop/vitalloop-worker/internal/crypto"
	"github.com/vitalloop/vitalloop-worker/internal/models"
)

// DexcomDriver fetches estimated glucose values (EGVs) from the Dexcom API.
// Dexcom has no profile endpoint, so the external user id is a deterministic
// surrogate derived from the access token.
type DexcomDriver struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client

	authURL  string
	tokenURL string
	apiURL   string
}

func NewDexcomDriver(clientID, clientSecret string) *DexcomDriver {
	return &DexcomDriver{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: httpTimeout},
		authURL:      "https://api.dexcom.com/v2/oauth2/login",
		tokenURL:     "https://api.dexcom.com/v2/oauth2/token",
		apiURL:       "https://api.dexcom.com",
	}
}

func (d *DexcomDriver) ID() string { return Dexcom }

func (d *DexcomDriver) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     d.clientID,
		ClientSecret: d.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"offline_access"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   d.authURL,
			TokenURL:  d.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (d *DexcomDriver) AuthorizeURL(state, redirectURI string) string {
	return d.oauth2Config(redirectURI).AuthCodeURL(state)
}

func (d *DexcomDriver) ExchangeCode(ctx context.Context, code, redirectURI string) (*OAuthTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	token, err := d.oauth2Config(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("dexcom: exchange code: %w", err)
	}
	return fromOAuth2Token(token), nil
}

func (d *DexcomDriver) RefreshTokens(ctx context.Context, refreshToken string) (*OAuthTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	source := d.oauth2Config("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("dexcom: refresh tokens: %w", err)
	}

	tokens := fromOAuth2Token(token)
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

// FetchProfile returns a surrogate identity: Dexcom exposes no profile
// endpoint, and the token hash is unique per connection.
func (d *DexcomDriver) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	return &Profile{ExternalUserID: "dexcom-" + crypto.HashToken(accessToken)[:16]}, nil
}

func (d *DexcomDriver) FetchMetrics(ctx context.Context, accessToken string, since time.Time) ([]models.Metric, error) {
	now := time.Now().UTC()

	params := url.Values{}
	params.Set("startDate", since.UTC().Format("2006-01-02T15:04:05"))
	params.Set("endDate", now.Format("2006-01-02T15:04:05"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.apiURL+"/v3/users/self/egvs?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("dexcom: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexcom: fetch EGVs: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dexcom: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("Dexcom API error on /v3/users/self/egvs (status %d): %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("dexcom: fetch EGVs: status %d", resp.StatusCode)
	}

	var egvResp struct {
		Records []struct {
			SystemTime    string  `json:"systemTime"`
			Value         float64 `json:"value"`
			Unit          string  `json:"unit"`
			TransmitterID string  `json:"transmitterId"`
			Trend         string  `json:"trend"`
		} `json:"records"`
	}
	if err := json.Unmarshal(body, &egvResp); err != nil {
		return nil, fmt.Errorf("dexcom: failed to parse response: %w", err)
	}

	var metrics []models.Metric
	for _, rec := range egvResp.Records {
		recordedAt, err := time.Parse("2006-01-02T15:04:05", rec.SystemTime)
		if err != nil {
			log.Printf("Warning: dexcom: failed to parse system time '%s': %v", rec.SystemTime, err)
			continue
		}

		unit := rec.Unit
		if unit == "" {
			unit = "mg/dL"
		}

		m := metric(Dexcom, models.MetricGlucose, rec.Value, unit, recordedAt.UTC(),
			models.JSONB{"trend": rec.Trend, "systemTime": rec.SystemTime})
		if rec.TransmitterID != "" {
			transmitterID := rec.TransmitterID
			m.DeviceID = &transmitterID
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}
