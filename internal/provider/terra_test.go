package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

func TestTerraDriver_AuthorizeURL_Deterministic(t *testing.T) {
	d := NewTerraDriver("dev-1", "key-1", "signing-1")

	first := d.AuthorizeURL("state-abc", "https://example.com/callback/terra")
	second := d.AuthorizeURL("state-abc", "https://example.com/callback/terra")
	if first != second {
		t.Errorf("same inputs must yield identical URLs:\n%s\n%s", first, second)
	}
}

func TestTerraDriver_RefreshTokens_Identity(t *testing.T) {
	d := NewTerraDriver("dev-1", "key-1", "signing-1")

	tokens, err := d.RefreshTokens(context.Background(), "terra-user-42")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tokens.AccessToken != "terra-user-42" {
		t.Errorf("refresh must return the token unchanged, got %q", tokens.AccessToken)
	}
	if tokens.ExpiresAt != nil {
		t.Error("terra tokens never expire")
	}
}

func TestTerraDriver_VerifyWebhook(t *testing.T) {
	d := NewTerraDriver("dev-1", "key-1", "signing-1")
	payload := []byte(`{"type":"activity","user":{"user_id":"terra-user-42"}}`)

	mac := hmac.New(sha256.New, []byte("signing-1"))
	mac.Write(payload)
	goodSig := hex.EncodeToString(mac.Sum(nil))

	if !d.VerifyWebhook(payload, goodSig) {
		t.Error("valid signature rejected")
	}
	if d.VerifyWebhook(payload, "deadbeef") {
		t.Error("garbage signature accepted")
	}
	if d.VerifyWebhook(append(payload, ' '), goodSig) {
		t.Error("signature accepted for a mutated payload")
	}
}

func TestTerraDriver_ExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/auth/exchange" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("dev-id") != "dev-1" || r.Header.Get("x-api-key") != "key-1" {
			t.Error("missing terra auth headers")
		}
		w.Write([]byte(`{"user_id":"terra-user-42"}`))
	}))
	defer srv.Close()

	d := NewTerraDriver("dev-1", "key-1", "signing-1")
	d.apiURL = srv.URL

	tokens, err := d.ExchangeCode(context.Background(), "auth-code", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tokens.AccessToken != "terra-user-42" {
		t.Errorf("expected terra user id as access token, got %q", tokens.AccessToken)
	}
}

func TestTerraDriver_FetchMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/daily" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "terra-user-42" {
			t.Errorf("unexpected user_id %q", got)
		}
		w.Write([]byte(`{"data":[{
			"metadata":{"start_time":"2026-08-30T00:00:00Z"},
			"distance_data":{"steps":7200,"distance_metres":5400},
			"calories_data":{"total_burned_calories":1980},
			"heart_rate_data":{"summary":{"avg_hr_bpm":64}}
		}]}`))
	}))
	defer srv.Close()

	d := NewTerraDriver("dev-1", "key-1", "signing-1")
	d.apiURL = srv.URL

	metrics, err := d.FetchMetrics(context.Background(), "terra-user-42", time.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(metrics) != 4 {
		t.Fatalf("expected 4 metrics, got %d: %+v", len(metrics), metrics)
	}

	byKind := map[string]models.Metric{}
	for _, m := range metrics {
		byKind[m.Kind] = m
	}
	if byKind[models.MetricSteps].Value != 7200 {
		t.Errorf("unexpected steps: %+v", byKind[models.MetricSteps])
	}
	if byKind[models.MetricDistance].Value != 5.4 {
		t.Errorf("distance must convert to km: %+v", byKind[models.MetricDistance])
	}
	if byKind[models.MetricHeartRate].Value != 64 {
		t.Errorf("unexpected heart rate: %+v", byKind[models.MetricHeartRate])
	}
}
