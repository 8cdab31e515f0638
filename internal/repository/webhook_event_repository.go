package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vitalloop/vitalloop-worker/internal/models"
)

// WebhookEventRepository writes the append-only raw event audit log.
type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create records one received webhook event. Called before any side effect
// so ingestion failures downstream still leave an audit trail.
func (r *WebhookEventRepository) Create(ctx context.Context, event models.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (
			id, provider, event_id, byte_size, parse_ms, payload, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	payloadValue, err := event.Payload.Value()
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.Provider, event.EventID, event.ByteSize,
		event.ParseMs, payloadValue, event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}
	return nil
}
