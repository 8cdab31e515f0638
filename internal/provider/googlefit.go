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
	"google.golang.org/api/fitness/v1"
	"google.golang.org/api/option"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

// GoogleFitDriver reads aggregated datasets from the Google Fitness API.
type GoogleFitDriver struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client

	authURL     string
	tokenURL    string
	userinfoURL string
}

func NewGoogleFitDriver(clientID, clientSecret string) *GoogleFitDriver {
	return &GoogleFitDriver{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: httpTimeout},
		authURL:      "https://accounts.google.com/o/oauth2/auth",
		tokenURL:     googleTokenURL,
		userinfoURL:  "https://www.googleapis.com/oauth2/v2/userinfo",
	}
}

func (d *GoogleFitDriver) ID() string { return GoogleFit }

func (d *GoogleFitDriver) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     d.clientID,
		ClientSecret: d.clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			fitness.FitnessActivityReadScope,
			fitness.FitnessHeartRateReadScope,
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  d.authURL,
			TokenURL: d.tokenURL,
		},
	}
}

func (d *GoogleFitDriver) AuthorizeURL(state, redirectURI string) string {
	return d.oauth2Config(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (d *GoogleFitDriver) ExchangeCode(ctx context.Context, code, redirectURI string) (*OAuthTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	token, err := d.oauth2Config(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("googlefit: exchange code: %w", err)
	}
	return fromOAuth2Token(token), nil
}

func (d *GoogleFitDriver) RefreshTokens(ctx context.Context, refreshToken string) (*OAuthTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	source := d.oauth2Config("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("googlefit: refresh tokens: %w", err)
	}

	tokens := fromOAuth2Token(token)
	// Google does not rotate refresh tokens; keep the one we have
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

func (d *GoogleFitDriver) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("googlefit: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("googlefit: fetch profile: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("googlefit: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("Google userinfo error (status %d): %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("googlefit: fetch profile: status %d", resp.StatusCode)
	}

	var info struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("googlefit: failed to parse profile: %w", err)
	}
	return &Profile{ExternalUserID: info.ID, DisplayName: info.Email}, nil
}

// FetchMetrics aggregates steps, calories, and heart rate into hourly buckets.
func (d *GoogleFitDriver) FetchMetrics(ctx context.Context, accessToken string, since time.Time) ([]models.Metric, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}

	fitnessService, err := fitness.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("googlefit: failed to create fitness service: %w", err)
	}

	now := time.Now().UTC()
	request := &fitness.AggregateRequest{
		AggregateBy: []*fitness.AggregateBy{
			{DataTypeName: "com.google.step_count.delta"},
			{DataTypeName: "com.google.calories.expended"},
			{DataTypeName: "com.google.heart_rate.bpm"},
		},
		BucketByTime:    &fitness.BucketByTime{DurationMillis: int64(time.Hour / time.Millisecond)},
		StartTimeMillis: since.UnixMilli(),
		EndTimeMillis:   now.UnixMilli(),
	}

	resp, err := fitnessService.Users.Dataset.Aggregate("me", request).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("googlefit: aggregate datasets: %w", err)
	}

	var metrics []models.Metric
	for _, bucket := range resp.Bucket {
		recordedAt := time.UnixMilli(bucket.StartTimeMillis).UTC()
		for _, dataset := range bucket.Dataset {
			for _, point := range dataset.Point {
				m, ok := googleFitPoint(point, recordedAt)
				if ok {
					metrics = append(metrics, m)
				}
			}
		}
	}
	return metrics, nil
}

// googleFitPoint maps one aggregated data point into the shared vocabulary.
func googleFitPoint(point *fitness.DataPoint, recordedAt time.Time) (models.Metric, bool) {
	if len(point.Value) == 0 {
		return models.Metric{}, false
	}

	raw := models.JSONB{"dataTypeName": point.DataTypeName, "originDataSourceId": point.OriginDataSourceId}

	switch point.DataTypeName {
	case "com.google.step_count.delta":
		return metric(GoogleFit, models.MetricSteps, float64(point.Value[0].IntVal), "count", recordedAt, raw), true
	case "com.google.calories.expended":
		return metric(GoogleFit, models.MetricCalories, point.Value[0].FpVal, "kcal", recordedAt, raw), true
	case "com.google.heart_rate.summary", "com.google.heart_rate.bpm":
		// Aggregated heart rate points carry [avg, max, min]
		return metric(GoogleFit, models.MetricHeartRate, point.Value[0].FpVal, "bpm", recordedAt, raw), true
	}
	return models.Metric{}, false
}
