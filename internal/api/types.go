package api

import (
	"context"
	"time"

	"github.com/nookplot/hookgate/internal/agent"
	"github.com/nookplot/hookgate/internal/audit"
	"github.com/nookplot/hookgate/internal/registry"
)

// AgentStore resolves and creates agents.
type AgentStore interface {
	Create(ctx context.Context, address, name string) (*agent.Agent, error)
	ResolveAddress(ctx context.Context, address string) (*agent.Agent, error)
}

// RegistrationStore manages webhook registrations.
type RegistrationStore interface {
	Register(ctx context.Context, agentID, source string, cfg registry.Config) (*registry.Registration, error)
	Get(ctx context.Context, agentID, source string) (*registry.Registration, error)
	List(ctx context.Context, agentID string) ([]*registry.Registration, error)
	Remove(ctx context.Context, agentID, source string) (bool, error)
}

// AuditReader reads the webhook event log.
type AuditReader interface {
	List(ctx context.Context, agentID string, page, limit int) ([]*audit.Entry, error)
}

// CreateAgentRequest is the JSON body for POST /agents.
type CreateAgentRequest struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// AgentResponse describes one agent.
type AgentResponse struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterWebhookRequest is the JSON body for
// PUT /agents/{address}/webhooks/{source}.
type RegisterWebhookRequest struct {
	Secret          string            `json:"secret,omitempty"`
	SignatureHeader string            `json:"signature_header,omitempty"`
	TimestampHeader string            `json:"timestamp_header,omitempty"`
	MaxAgeSeconds   int               `json:"max_age_seconds,omitempty"`
	EventMapping    map[string]string `json:"event_mapping,omitempty"`
}

// WebhookResponse describes one registration. Secret material is never
// echoed back; HasSecret only reports that some is stored.
type WebhookResponse struct {
	Source          string            `json:"source"`
	Active          bool              `json:"active"`
	HasSecret       bool              `json:"has_secret"`
	SignatureHeader string            `json:"signature_header,omitempty"`
	TimestampHeader string            `json:"timestamp_header,omitempty"`
	MaxAgeSeconds   int               `json:"max_age_seconds"`
	EventMapping    map[string]string `json:"event_mapping,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// WebhookListResponse is returned by GET /agents/{address}/webhooks.
type WebhookListResponse struct {
	Webhooks []WebhookResponse `json:"webhooks"`
}

// EventLogEntry is one row of the webhook event log.
type EventLogEntry struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	EventType      *string   `json:"event_type,omitempty"`
	Status         string    `json:"status"`
	PayloadSize    int       `json:"payload_size"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventLogResponse is returned by GET /agents/{address}/log.
type EventLogResponse struct {
	Entries []EventLogEntry `json:"entries"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

// IngestResponse is returned by the public ingest endpoint on success.
type IngestResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
