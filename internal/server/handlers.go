package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vitalloop/vitalloop-worker/internal/crypto"
	"github.com/vitalloop/vitalloop-worker/internal/models"
	"github.com/vitalloop/vitalloop-worker/internal/provider"
)

// maxWebhookBody caps inbound payloads; providers send kilobytes, not megabytes.
const maxWebhookBody = 1 << 20

// signatureHeaders maps each provider to the header carrying its HMAC digest.
var signatureHeaders = map[string]string{
	provider.Fitbit: "X-Fitbit-Signature",
	provider.Terra:  "terra-signature",
}

// handleConnect starts the OAuth flow: mint a state token bound to the user
// and hand back the provider's consent-screen URL.
// GET /connect/:provider?user_id=...
func (s *Server) handleConnect(c *gin.Context) {
	providerID := c.Param("provider")
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	driver, err := s.registry.Get(providerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	if !s.registry.IsImplemented(providerID) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "provider not available yet"})
		return
	}

	state, err := crypto.NewStateToken()
	if err != nil {
		log.Printf("Failed to mint state token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	s.states.Put(state, userID)

	redirectURI := s.cfg.PublicBaseURL + "/callback/" + providerID
	c.JSON(http.StatusOK, gin.H{
		"authorize_url": driver.AuthorizeURL(state, redirectURI),
		"state":         state,
	})
}

// handleCallback completes the OAuth flow: validate state, exchange the code,
// resolve the external identity, and persist the connection.
// GET /callback/:provider?code=...&state=...
func (s *Server) handleCallback(c *gin.Context) {
	providerID := c.Param("provider")
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
		return
	}

	driver, err := s.registry.Get(providerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	userID, ok := s.states.Consume(state)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired state"})
		return
	}

	ctx := c.Request.Context()
	redirectURI := s.cfg.PublicBaseURL + "/callback/" + providerID
	tokens, err := driver.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		log.Printf("Code exchange failed for %s (user: %s): %v", providerID, userID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "code exchange failed"})
		return
	}

	profile, err := driver.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		log.Printf("Profile fetch failed for %s (user: %s): %v", providerID, userID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "profile fetch failed"})
		return
	}

	account, err := s.connections.StoreConnection(ctx, userID, providerID, tokens, profile)
	if err != nil {
		log.Printf("Failed to store %s connection (user: %s): %v", providerID, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store connection"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id": account.ID,
		"provider":   account.Provider,
		"status":     account.Status,
	})
}

// handleWebhook ingests one provider webhook: verify the signature before any
// side effect, audit the raw event, then enqueue a job for the worker.
// POST /webhooks/:provider
func (s *Server) handleWebhook(c *gin.Context) {
	providerID := c.Param("provider")

	driver, err := s.registry.Get(providerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	started := time.Now()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	// Signature check comes before parsing: an unauthenticated payload
	// must cause zero writes
	if verifier, ok := driver.(provider.WebhookVerifier); ok {
		signature := c.GetHeader(signatureHeaders[providerID])
		if !verifier.VerifyWebhook(body, signature) {
			log.Printf("Rejected %s webhook: invalid signature", providerID)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON payload"})
		return
	}
	parseMs := time.Since(started).Milliseconds()

	eventID := uuid.New().String()
	ctx := c.Request.Context()

	event := models.WebhookEvent{
		ID:         eventID,
		Provider:   providerID,
		EventID:    eventID,
		ByteSize:   len(body),
		ParseMs:    parseMs,
		Payload:    models.JSONB(payload),
		ReceivedAt: time.Now(),
	}
	if err := s.webhookEvents.Create(ctx, event); err != nil {
		log.Printf("Failed to audit %s webhook event: %v", providerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}

	job := models.WebhookJob{
		ID:       uuid.New().String(),
		Provider: providerID,
		EventID:  eventID,
		Payload:  models.JSONB(payload),
		Status:   models.JobStatusPending,
	}
	if err := s.webhookJobs.Create(ctx, job); err != nil {
		log.Printf("Failed to enqueue %s webhook job: %v", providerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "status": "queued"})
}
