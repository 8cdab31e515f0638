package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/crypto"
	"github.com/vitalloop/vitalloop-worker/internal/models"
)

// TerraDriver talks to the Terra aggregation API. Terra authenticates with a
// dev-id/api-key pair instead of per-user client credentials, and its
// per-user tokens never expire: the stored "access token" is the Terra user
// id, and RefreshTokens is the identity operation.
type TerraDriver struct {
	devID         string
	apiKey        string
	signingSecret string
	httpClient    *http.Client

	widgetURL string
	apiURL    string
}

func NewTerraDriver(devID, apiKey, signingSecret string) *TerraDriver {
	return &TerraDriver{
		devID:         devID,
		apiKey:        apiKey,
		signingSecret: signingSecret,
		httpClient:    &http.Client{Timeout: httpTimeout},
		widgetURL:     "https://widget.tryterra.co/session",
		apiURL:        "https://api.tryterra.co",
	}
}

func (d *TerraDriver) ID() string { return Terra }

func (d *TerraDriver) AuthorizeURL(state, redirectURI string) string {
	params := url.Values{}
	params.Set("dev_id", d.devID)
	params.Set("state", state)
	params.Set("redirect_uri", redirectURI)
	return d.widgetURL + "?" + params.Encode()
}

func (d *TerraDriver) ExchangeCode(ctx context.Context, code, redirectURI string) (*OAuthTokens, error) {
	reqBody, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, fmt.Errorf("terra: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.apiURL+"/v2/auth/exchange", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("terra: failed to create request: %w", err)
	}
	d.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		UserID string `json:"user_id"`
	}
	if err := d.do(req, &resp); err != nil {
		return nil, fmt.Errorf("terra: exchange code: %w", err)
	}
	if resp.UserID == "" {
		return nil, fmt.Errorf("terra: exchange code: empty user id in response")
	}

	// The Terra user id doubles as the access token; the dev-id/api-key
	// pair authenticates every call, and nothing ever expires.
	return &OAuthTokens{AccessToken: resp.UserID}, nil
}

// RefreshTokens is the identity operation: Terra tokens never expire and are
// never rotated.
func (d *TerraDriver) RefreshTokens(ctx context.Context, refreshToken string) (*OAuthTokens, error) {
	return &OAuthTokens{AccessToken: refreshToken}, nil
}

// FetchProfile returns the Terra user id itself; it is the provider-side
// correlation key.
func (d *TerraDriver) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	return &Profile{ExternalUserID: accessToken}, nil
}

func (d *TerraDriver) FetchMetrics(ctx context.Context, accessToken string, since time.Time) ([]models.Metric, error) {
	now := time.Now().UTC()

	params := url.Values{}
	params.Set("user_id", accessToken)
	params.Set("start_date", since.UTC().Format("2006-01-02"))
	params.Set("end_date", now.Format("2006-01-02"))
	params.Set("to_webhook", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.apiURL+"/v2/daily?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("terra: failed to create request: %w", err)
	}
	d.setAuthHeaders(req)

	var resp terraDailyResponse
	if err := d.do(req, &resp); err != nil {
		return nil, fmt.Errorf("terra: fetch daily data: %w", err)
	}

	return resp.toMetrics(), nil
}

// VerifyWebhook checks the hex HMAC-SHA256 of the raw body under the Terra
// signing secret.
func (d *TerraDriver) VerifyWebhook(payload []byte, signature string) bool {
	return crypto.VerifyHMACSHA256(d.signingSecret, payload, signature)
}

func (d *TerraDriver) setAuthHeaders(req *http.Request) {
	req.Header.Set("dev-id", d.devID)
	req.Header.Set("x-api-key", d.apiKey)
}

func (d *TerraDriver) do(req *http.Request, v interface{}) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("Terra API error on %s (status %d): %s", req.URL.Path, resp.StatusCode, string(body))
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type terraDailyResponse struct {
	Data []terraDailySummary `json:"data"`
}

type terraDailySummary struct {
	Metadata struct {
		StartTime string `json:"start_time"`
	} `json:"metadata"`
	DistanceData struct {
		Steps          float64 `json:"steps"`
		DistanceMeters float64 `json:"distance_metres"`
	} `json:"distance_data"`
	CaloriesData struct {
		TotalBurned float64 `json:"total_burned_calories"`
	} `json:"calories_data"`
	HeartRateData struct {
		Summary struct {
			AvgHRBPM float64 `json:"avg_hr_bpm"`
		} `json:"summary"`
	} `json:"heart_rate_data"`
}

func (r *terraDailyResponse) toMetrics() []models.Metric {
	var metrics []models.Metric
	for _, day := range r.Data {
		recordedAt, err := time.Parse(time.RFC3339, day.Metadata.StartTime)
		if err != nil {
			log.Printf("Warning: terra: failed to parse start time '%s': %v", day.Metadata.StartTime, err)
			continue
		}
		recordedAt = recordedAt.UTC()

		raw := models.JSONB{"start_time": day.Metadata.StartTime, "source": "daily"}
		if day.DistanceData.Steps > 0 {
			metrics = append(metrics, metric(Terra, models.MetricSteps, day.DistanceData.Steps, "count", recordedAt, raw))
		}
		if day.DistanceData.DistanceMeters > 0 {
			metrics = append(metrics, metric(Terra, models.MetricDistance, day.DistanceData.DistanceMeters/1000.0, "km", recordedAt, raw))
		}
		if day.CaloriesData.TotalBurned > 0 {
			metrics = append(metrics, metric(Terra, models.MetricCalories, day.CaloriesData.TotalBurned, "kcal", recordedAt, raw))
		}
		if day.HeartRateData.Summary.AvgHRBPM > 0 {
			metrics = append(metrics, metric(Terra, models.MetricHeartRate, day.HeartRateData.Summary.AvgHRBPM, "bpm", recordedAt, raw))
		}
	}
	return metrics
}
