package models

import (
	"testing"
)

func TestJSONB_ValueAndScan(t *testing.T) {
	original := JSONB{
		"ownerId":        "fb-owner",
		"collectionType": "activities",
		"nested":         map[string]interface{}{"count": float64(3)},
	}

	value, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var restored JSONB
	if err := restored.Scan(value); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if restored["ownerId"] != "fb-owner" {
		t.Errorf("expected ownerId fb-owner, got %v", restored["ownerId"])
	}
	nested, ok := restored["nested"].(map[string]interface{})
	if !ok || nested["count"] != float64(3) {
		t.Errorf("nested value not preserved: %v", restored["nested"])
	}
}

func TestJSONB_ScanNil(t *testing.T) {
	var j JSONB
	if err := j.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if j != nil {
		t.Errorf("expected nil map, got %v", j)
	}
}

func TestJobStatus_Constants(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{"pending", JobStatusPending, "pending"},
		{"processing", JobStatusProcessing, "processing"},
		{"completed", JobStatusCompleted, "completed"},
		{"failed", JobStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.status) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.status)
			}
		})
	}
}
