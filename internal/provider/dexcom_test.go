package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

func TestDexcomDriver_FetchProfile_SurrogateIdentity(t *testing.T) {
	d := NewDexcomDriver("client-id", "client-secret")

	a, err := d.FetchProfile(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	b, _ := d.FetchProfile(context.Background(), "token-1")
	other, _ := d.FetchProfile(context.Background(), "token-2")

	if a.ExternalUserID != b.ExternalUserID {
		t.Error("surrogate id must be deterministic per token")
	}
	if a.ExternalUserID == other.ExternalUserID {
		t.Error("different tokens must yield different surrogate ids")
	}
	if a.ExternalUserID == "token-1" || len(a.ExternalUserID) < 8 {
		t.Errorf("surrogate id must not expose the token: %q", a.ExternalUserID)
	}
}

func TestDexcomDriver_FetchMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/users/self/egvs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("startDate") == "" || r.URL.Query().Get("endDate") == "" {
			t.Error("missing date window params")
		}
		w.Write([]byte(`{"records":[
			{"systemTime":"2026-08-31T08:00:00","value":104,"unit":"mg/dL","transmitterId":"G7-42","trend":"flat"},
			{"systemTime":"2026-08-31T08:05:00","value":109,"transmitterId":"G7-42","trend":"singleUp"}
		]}`))
	}))
	defer srv.Close()

	d := NewDexcomDriver("client-id", "client-secret")
	d.apiURL = srv.URL

	metrics, err := d.FetchMetrics(context.Background(), "token-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("expected 2 glucose readings, got %d", len(metrics))
	}

	first := metrics[0]
	if first.Kind != models.MetricGlucose || first.Value != 104 {
		t.Errorf("unexpected first reading: %+v", first)
	}
	if first.DeviceID == nil || *first.DeviceID != "G7-42" {
		t.Error("transmitter id must map to device id")
	}
	// Missing unit defaults to mg/dL
	if metrics[1].Unit != "mg/dL" {
		t.Errorf("expected mg/dL default unit, got %q", metrics[1].Unit)
	}
}
