package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/vitalloop/vitalloop-worker/internal/crypto"
	"github.com/vitalloop/vitalloop-worker/internal/models"
)

const fitbitDateFormat = "2006-01-02"

// fitbitRangeChunkDays bounds a single heart rate or sleep range request.
// Longer windows are walked in consecutive chunks.
const fitbitRangeChunkDays = 30

// FitbitDriver implements the driver contract against the Fitbit Web API.
// Fitbit rotates the refresh token on every refresh; callers must persist
// the rotated token or the connection dies on the next refresh.
type FitbitDriver struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client

	authURL  string
	tokenURL string
	apiURL   string
}

func NewFitbitDriver(clientID, clientSecret string) *FitbitDriver {
	return &FitbitDriver{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: httpTimeout},
		authURL:      "https://www.fitbit.com/oauth2/authorize",
		tokenURL:     "https://api.fitbit.com/oauth2/token",
		apiURL:       "https://api.fitbit.com",
	}
}

func (d *FitbitDriver) ID() string { return Fitbit }

func (d *FitbitDriver) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     d.clientID,
		ClientSecret: d.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"activity", "heartrate", "sleep", "profile"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   d.authURL,
			TokenURL:  d.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader, // Fitbit requires Basic client auth
		},
	}
}

func (d *FitbitDriver) AuthorizeURL(state, redirectURI string) string {
	return d.oauth2Config(redirectURI).AuthCodeURL(state)
}

func (d *FitbitDriver) ExchangeCode(ctx context.Context, code, redirectURI string) (*OAuthTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	token, err := d.oauth2Config(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("fitbit: exchange code: %w", err)
	}
	return fromOAuth2Token(token), nil
}

func (d *FitbitDriver) RefreshTokens(ctx context.Context, refreshToken string) (*OAuthTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	source := d.oauth2Config("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("fitbit: refresh tokens: %w", err)
	}

	tokens := fromOAuth2Token(token)
	// Fitbit always rotates; keep the old token only if the response
	// carried none at all
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

func (d *FitbitDriver) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var resp struct {
		User struct {
			EncodedID   string `json:"encodedId"`
			DisplayName string `json:"displayName"`
		} `json:"user"`
	}
	if err := d.get(ctx, accessToken, "/1/user/-/profile.json", &resp); err != nil {
		return nil, fmt.Errorf("fitbit: fetch profile: %w", err)
	}
	return &Profile{ExternalUserID: resp.User.EncodedID, DisplayName: resp.User.DisplayName}, nil
}

// FetchMetrics walks three sub-resources over the full requested window:
// daily activity summaries, the resting heart rate series, and sleep logs.
// The range endpoints are called chunk by chunk so a long backfill window is
// covered without truncation. A failure in any call aborts the fetch so the
// queue can retry the whole window.
func (d *FitbitDriver) FetchMetrics(ctx context.Context, accessToken string, since time.Time) ([]models.Metric, error) {
	now := time.Now().UTC()
	start := since.UTC()
	if start.After(now) {
		start = now
	}

	var metrics []models.Metric

	daily, err := d.fetchDailyActivity(ctx, accessToken, start, now)
	if err != nil {
		return nil, err
	}
	metrics = append(metrics, daily...)

	for chunkStart := startOfDay(start); !chunkStart.After(now); chunkStart = chunkStart.AddDate(0, 0, fitbitRangeChunkDays) {
		chunkEnd := chunkStart.AddDate(0, 0, fitbitRangeChunkDays-1)
		if chunkEnd.After(now) {
			chunkEnd = now
		}

		heart, err := d.fetchRestingHeartRate(ctx, accessToken, chunkStart, chunkEnd)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, heart...)

		sleep, err := d.fetchSleep(ctx, accessToken, chunkStart, chunkEnd)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, sleep...)
	}

	return metrics, nil
}

func (d *FitbitDriver) fetchDailyActivity(ctx context.Context, accessToken string, start, end time.Time) ([]models.Metric, error) {
	var metrics []models.Metric

	// The current day's summary is still accruing; only completed days are
	// emitted, and today is picked up by the next sync after midnight.
	last := startOfDay(end).AddDate(0, 0, -1)
	for day := startOfDay(start); !day.After(last); day = day.AddDate(0, 0, 1) {
		var resp struct {
			Summary struct {
				Steps           int `json:"steps"`
				CaloriesOut     int `json:"caloriesOut"`
				FairlyActiveMin int `json:"fairlyActiveMinutes"`
				VeryActiveMin   int `json:"veryActiveMinutes"`
				Distances       []struct {
					Activity string  `json:"activity"`
					Distance float64 `json:"distance"`
				} `json:"distances"`
			} `json:"summary"`
		}

		path := fmt.Sprintf("/1/user/-/activities/date/%s.json", day.Format(fitbitDateFormat))
		if err := d.get(ctx, accessToken, path, &resp); err != nil {
			return nil, fmt.Errorf("fitbit: fetch daily activity: %w", err)
		}

		raw := models.JSONB{"date": day.Format(fitbitDateFormat), "source": "activities/date"}
		metrics = append(metrics,
			metric(Fitbit, models.MetricSteps, float64(resp.Summary.Steps), "count", day, raw),
			metric(Fitbit, models.MetricCalories, float64(resp.Summary.CaloriesOut), "kcal", day, raw),
			metric(Fitbit, models.MetricActiveMinutes, float64(resp.Summary.FairlyActiveMin+resp.Summary.VeryActiveMin), "min", day, raw),
		)
		for _, dist := range resp.Summary.Distances {
			if dist.Activity == "total" {
				metrics = append(metrics, metric(Fitbit, models.MetricDistance, dist.Distance, "km", day, raw))
			}
		}
	}

	return metrics, nil
}

func (d *FitbitDriver) fetchRestingHeartRate(ctx context.Context, accessToken string, start, end time.Time) ([]models.Metric, error) {
	var resp struct {
		ActivitiesHeart []struct {
			DateTime string `json:"dateTime"`
			Value    struct {
				RestingHeartRate int `json:"restingHeartRate"`
			} `json:"value"`
		} `json:"activities-heart"`
	}

	path := fmt.Sprintf("/1/user/-/activities/heart/date/%s/%s.json",
		start.Format(fitbitDateFormat), end.Format(fitbitDateFormat))
	if err := d.get(ctx, accessToken, path, &resp); err != nil {
		return nil, fmt.Errorf("fitbit: fetch heart rate: %w", err)
	}

	var metrics []models.Metric
	for _, day := range resp.ActivitiesHeart {
		if day.Value.RestingHeartRate == 0 {
			continue // no reading for that day
		}
		recordedAt, err := time.Parse(fitbitDateFormat, day.DateTime)
		if err != nil {
			log.Printf("Warning: fitbit: failed to parse heart rate date '%s': %v", day.DateTime, err)
			continue
		}
		raw := models.JSONB{"date": day.DateTime, "source": "activities/heart"}
		metrics = append(metrics, metric(Fitbit, models.MetricRestingHeartRate, float64(day.Value.RestingHeartRate), "bpm", recordedAt, raw))
	}
	return metrics, nil
}

func (d *FitbitDriver) fetchSleep(ctx context.Context, accessToken string, start, end time.Time) ([]models.Metric, error) {
	var resp struct {
		Sleep []struct {
			LogID    int64  `json:"logId"`
			EndTime  string `json:"endTime"`
			Duration int64  `json:"duration"` // milliseconds
		} `json:"sleep"`
	}

	path := fmt.Sprintf("/1.2/user/-/sleep/date/%s/%s.json",
		start.Format(fitbitDateFormat), end.Format(fitbitDateFormat))
	if err := d.get(ctx, accessToken, path, &resp); err != nil {
		return nil, fmt.Errorf("fitbit: fetch sleep: %w", err)
	}

	var metrics []models.Metric
	for _, entry := range resp.Sleep {
		recordedAt, err := time.Parse("2006-01-02T15:04:05.000", entry.EndTime)
		if err != nil {
			log.Printf("Warning: fitbit: failed to parse sleep end time '%s': %v", entry.EndTime, err)
			continue
		}
		raw := models.JSONB{"logId": entry.LogID, "source": "sleep"}
		metrics = append(metrics, metric(Fitbit, models.MetricSleepDuration, float64(entry.Duration)/60000.0, "min", recordedAt, raw))
	}
	return metrics, nil
}

// VerifyWebhook checks Fitbit's subscriber notification signature:
// base64(HMAC-SHA1(clientSecret + "&", body)).
func (d *FitbitDriver) VerifyWebhook(payload []byte, signature string) bool {
	return crypto.VerifyHMACSHA1(d.clientSecret+"&", payload, signature)
}

// get performs an authenticated GET against the Fitbit API. Error response
// bodies go to the log only, never into the returned error.
func (d *FitbitDriver) get(ctx context.Context, accessToken, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

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
		log.Printf("Fitbit API error on %s (status %d): %s", path, resp.StatusCode, string(body))
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// fromOAuth2Token maps an x/oauth2 token into the transient value object.
func fromOAuth2Token(token *oauth2.Token) *OAuthTokens {
	tokens := &OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		tokens.ExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok {
		tokens.Scope = scope
	}
	return tokens
}

func metric(providerID, kind string, value float64, unit string, recordedAt time.Time, raw models.JSONB) models.Metric {
	return models.Metric{
		Provider:   providerID,
		Kind:       kind,
		Value:      value,
		Unit:       unit,
		RecordedAt: recordedAt,
		Raw:        raw,
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
