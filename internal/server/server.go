// Package server exposes the HTTP surface: webhook ingestion and the OAuth
// connect/callback flow. Everything heavier than signature verification and
// payload validation is deferred to the job queues.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitalloop/vitalloop-worker/internal/config"
	"github.com/vitalloop/vitalloop-worker/internal/models"
	"github.com/vitalloop/vitalloop-worker/internal/provider"
)

const stateTTL = 10 * time.Minute

// DriverRegistry is the provider lookup surface the handlers need.
type DriverRegistry interface {
	Get(id string) (provider.Driver, error)
	IsImplemented(id string) bool
}

// ConnectionService finalizes an OAuth flow into a stored account.
type ConnectionService interface {
	StoreConnection(ctx context.Context, userID, providerID string, tokens *provider.OAuthTokens, profile *provider.Profile) (*models.ProviderAccount, error)
}

// WebhookEventStore is the append-only audit log of inbound webhooks.
type WebhookEventStore interface {
	Create(ctx context.Context, event models.WebhookEvent) error
}

// WebhookJobQueue enqueues webhook jobs for asynchronous processing.
type WebhookJobQueue interface {
	Create(ctx context.Context, job models.WebhookJob) error
}

type Server struct {
	cfg           *config.Config
	registry      DriverRegistry
	connections   ConnectionService
	webhookEvents WebhookEventStore
	webhookJobs   WebhookJobQueue
	states        *stateStore
}

func New(
	cfg *config.Config,
	registry DriverRegistry,
	connections ConnectionService,
	webhookEvents WebhookEventStore,
	webhookJobs WebhookJobQueue,
) *Server {
	return &Server{
		cfg:           cfg,
		registry:      registry,
		connections:   connections,
		webhookEvents: webhookEvents,
		webhookJobs:   webhookJobs,
		states:        newStateStore(stateTTL),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/connect/:provider", s.handleConnect)
	r.GET("/callback/:provider", s.handleCallback)
	r.POST("/webhooks/:provider", s.handleWebhook)

	return r
}

// stateStore keeps short-lived OAuth state tokens in memory. State survives
// only within one process, which matches a single-instance webhook frontend.
type stateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]stateEntry
}

type stateEntry struct {
	userID    string
	expiresAt time.Time
}

func newStateStore(ttl time.Duration) *stateStore {
	return &stateStore{ttl: ttl, entries: make(map[string]stateEntry)}
}

func (s *stateStore) Put(state, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[state] = stateEntry{userID: userID, expiresAt: now.Add(s.ttl)}
}

// Consume validates a state token exactly once.
func (s *stateStore) Consume(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[state]
	if !ok {
		return "", false
	}
	delete(s.entries, state)
	if time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.userID, true
}
