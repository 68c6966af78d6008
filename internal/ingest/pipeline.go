// Package ingest implements the inbound webhook verification pipeline: the
// ordered chain of registration lookup, secret resolution, idempotency
// dedup, signature verification, replay protection, rate limiting, payload
// bounds, and event normalization that stands between untrusted provider
// callbacks and an agent's live event stream.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nookplot/hookgate/internal/agent"
	"github.com/nookplot/hookgate/internal/audit"
	"github.com/nookplot/hookgate/internal/registry"
	"github.com/nookplot/hookgate/internal/secrets"
)

const (
	// MaxPayloadBytes is the inbound body ceiling (256 KiB).
	MaxPayloadBytes = 256 * 1024

	// broadcastPayloadBytes caps how much of the raw body is forwarded on
	// the live stream. The audit row still records the full size.
	broadcastPayloadBytes = 4096

	// rateLimitMax delivered events per source per trailing window.
	rateLimitMax    = 100
	rateLimitWindow = time.Hour

	// EventTypeWebhookReceived is the normalized stream event type.
	EventTypeWebhookReceived = "webhook.received"
)

// eventTypeFields are probed in order when extracting the provider's event
// name from a JSON body.
var eventTypeFields = []string{"event", "type", "action", "event_type"}

// AgentResolver maps an agent address to its identity.
type AgentResolver interface {
	ResolveAddress(ctx context.Context, address string) (*agent.Agent, error)
}

// RegistrationStore loads webhook registrations.
type RegistrationStore interface {
	Get(ctx context.Context, agentID, source string) (*registry.Registration, error)
}

// AuditLog records pipeline outcomes and answers the dedup and rate-limit
// queries.
type AuditLog interface {
	Insert(ctx context.Context, e audit.Entry) (*audit.Entry, error)
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
	CountDelivered(ctx context.Context, agentID, source string, since time.Time) (int, error)
}

// Broadcaster fans a verified event out to the agent's live stream.
// Fire-and-forget: the pipeline does not depend on delivery.
type Broadcaster interface {
	Broadcast(agentID, eventType string, data any)
}

// EventData is the payload of a webhook.received stream event.
type EventData struct {
	Source      string  `json:"source"`
	EventType   *string `json:"eventType"`
	PayloadSize int     `json:"payloadSize"`
	Payload     string  `json:"payload"`
}

// Pipeline verifies and delivers inbound webhooks. It is stateless per
// invocation; all shared state lives in the store, so the hosting HTTP layer
// may dispatch invocations concurrently without extra locking.
type Pipeline struct {
	agents      AgentResolver
	regs        RegistrationStore
	auditLog    AuditLog
	broadcaster Broadcaster
	codec       *secrets.Codec
	logger      *slog.Logger

	cache *secretCache
	now   func() time.Time
}

// Option tunes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the pipeline's time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
			p.cache = newSecretCache(secretCacheTTL, now)
		}
	}
}

// New creates a verification pipeline. codec may be nil when no at-rest
// encryption key is configured; stored plaintext secrets still work.
func New(agents AgentResolver, regs RegistrationStore, auditLog AuditLog, broadcaster Broadcaster, codec *secrets.Codec, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		agents:      agents,
		regs:        regs,
		auditLog:    auditLog,
		broadcaster: broadcaster,
		codec:       codec,
		logger:      logger,
		cache:       newSecretCache(secretCacheTTL, time.Now),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InvalidateSecret drops the cached decrypted secret for (agentID, source).
// Must be called whenever a registration is created, updated, or removed.
func (p *Pipeline) InvalidateSecret(agentID, source string) {
	p.cache.invalidate(agentID, source)
}

// HandleIncoming runs one inbound request through the pipeline. It returns
// nil when the event was delivered or recognized as a duplicate, and a
// *WebhookError for every rejection. Steps are strictly ordered; the first
// failing step short-circuits the rest.
func (p *Pipeline) HandleIncoming(ctx context.Context, agentAddress, source string, headers http.Header, rawBody []byte) error {
	// 1. Resolve the agent. No registration context exists yet, so
	// rejections here are not audited.
	ag, err := p.agents.ResolveAddress(ctx, agentAddress)
	if errors.Is(err, agent.ErrAgentNotFound) {
		return errNotFound("agent not found")
	}
	if err != nil {
		return fmt.Errorf("resolve agent: %w", err)
	}

	// 2. Resolve the registration. Same rule: nothing to attribute an
	// audit row to until this succeeds.
	reg, err := p.regs.Get(ctx, ag.ID, source)
	if errors.Is(err, registry.ErrRegistrationNotFound) {
		return errNotFound("webhook registration not found")
	}
	if err != nil {
		return fmt.Errorf("resolve registration: %w", err)
	}
	if !reg.Active {
		return errForbidden("webhook registration is inactive")
	}

	// 3. Resolve the secret. Decrypt failures degrade to "no secret"
	// rather than failing the request; if a signature header is
	// configured the signature step then fails closed.
	secret := p.resolveSecret(reg)

	// 4. Idempotency pre-check. A known key means a provider retry of an
	// already-delivered event: succeed without re-processing.
	idemKey := deriveIdempotencyKey(ag.ID, source, headers, rawBody)
	seen, err := p.auditLog.HasIdempotencyKey(ctx, idemKey)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if seen {
		p.logger.Debug("duplicate webhook delivery ignored",
			"agent_id", ag.ID, "source", source, "idempotency_key", idemKey)
		return nil
	}

	// 5. Signature verification.
	if reg.Config.SignatureHeader != "" {
		sig := headers.Get(reg.Config.SignatureHeader)
		if sig == "" {
			return p.reject(ctx, ag.ID, source, len(rawBody),
				errUnauthorized(fmt.Sprintf("missing signature header %s", reg.Config.SignatureHeader)))
		}
		if err := verifyHMACSignature(rawBody, sig, secret); err != nil {
			return p.reject(ctx, ag.ID, source, len(rawBody),
				errUnauthorized("invalid webhook signature"))
		}
	}

	// 6. Replay protection.
	if reg.Config.TimestampHeader != "" {
		ts := headers.Get(reg.Config.TimestampHeader)
		if ts == "" {
			return p.reject(ctx, ag.ID, source, len(rawBody),
				errUnauthorized(fmt.Sprintf("missing timestamp header %s", reg.Config.TimestampHeader)))
		}
		eventTime, err := parseEventTime(ts)
		if err != nil {
			return p.reject(ctx, ag.ID, source, len(rawBody),
				errUnauthorized("invalid timestamp header"))
		}
		if age := absDuration(p.now().Sub(eventTime)); age > reg.Config.MaxAge() {
			return p.reject(ctx, ag.ID, source, len(rawBody),
				errForbidden(fmt.Sprintf("webhook timestamp outside replay window (%s old, max %s)",
					age.Round(time.Second), reg.Config.MaxAge())))
		}
	}

	// 7. Rate limit: a sliding count of delivered events. Best-effort
	// under concurrency; the consequences of the race are bounded.
	count, err := p.auditLog.CountDelivered(ctx, ag.ID, source, p.now().Add(-rateLimitWindow))
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if count >= rateLimitMax {
		whErr := errTooManyRequests(
			fmt.Sprintf("rate limit exceeded: %d deliveries in the last hour", count),
			rateLimitWindow)
		p.writeAudit(ctx, audit.Entry{
			AgentID:      ag.ID,
			Source:       source,
			Status:       audit.StatusRateLimited,
			PayloadSize:  len(rawBody),
			ErrorMessage: &whErr.Message,
		})
		return whErr
	}

	// 8. Size check.
	if len(rawBody) > MaxPayloadBytes {
		return p.reject(ctx, ag.ID, source, len(rawBody),
			errPayloadTooLarge(fmt.Sprintf("payload of %d bytes exceeds %d byte limit", len(rawBody), MaxPayloadBytes)))
	}

	// 9. Event-type extraction, best effort.
	eventType := extractEventType(rawBody, reg.Config.EventMapping)

	// 10. Record then deliver. Inserting the delivered row first makes the
	// unique idempotency index the arbiter between concurrent duplicates:
	// the loser sees the violation and skips its broadcast.
	entry := audit.Entry{
		AgentID:        ag.ID,
		Source:         source,
		EventType:      eventType,
		Status:         audit.StatusDelivered,
		PayloadSize:    len(rawBody),
		IdempotencyKey: &idemKey,
	}
	if _, err := p.auditLog.Insert(ctx, entry); err != nil {
		if errors.Is(err, audit.ErrDuplicateIdempotencyKey) {
			p.logger.Debug("concurrent duplicate webhook delivery ignored",
				"agent_id", ag.ID, "source", source, "idempotency_key", idemKey)
			return nil
		}
		// Audit logging must never break ingestion; deliver anyway.
		p.logger.Warn("failed to record delivered webhook",
			"agent_id", ag.ID, "source", source, "error", err)
	}

	p.broadcaster.Broadcast(ag.ID, EventTypeWebhookReceived, EventData{
		Source:      source,
		EventType:   eventType,
		PayloadSize: len(rawBody),
		Payload:     string(truncateBody(rawBody, broadcastPayloadBytes)),
	})

	p.logger.Info("webhook delivered",
		"agent_id", ag.ID, "source", source,
		"event_type", strOrEmpty(eventType), "payload_size", len(rawBody))
	return nil
}

// reject audits a rejection and returns it. Rejection rows carry no
// idempotency key: a provider that fixes its signing and resends the same
// delivery id must not be deduplicated against its own failure.
func (p *Pipeline) reject(ctx context.Context, agentID, source string, payloadSize int, whErr *WebhookError) error {
	p.writeAudit(ctx, audit.Entry{
		AgentID:      agentID,
		Source:       source,
		Status:       audit.StatusRejected,
		PayloadSize:  payloadSize,
		ErrorMessage: &whErr.Message,
	})
	p.logger.Warn("webhook rejected",
		"agent_id", agentID, "source", source,
		"kind", string(whErr.Kind), "error", whErr.Message)
	return whErr
}

// writeAudit appends an entry, downgrading failures to a warning. Gaps in
// the audit trail under storage failure are accepted; breaking ingestion to
// avoid them is not.
func (p *Pipeline) writeAudit(ctx context.Context, e audit.Entry) {
	if _, err := p.auditLog.Insert(ctx, e); err != nil {
		p.logger.Warn("failed to write webhook audit entry",
			"agent_id", e.AgentID, "source", e.Source, "status", string(e.Status), "error", err)
	}
}

// resolveSecret returns the usable signing secret for a registration, or ""
// when none can be resolved.
func (p *Pipeline) resolveSecret(reg *registry.Registration) string {
	if reg.Config.Secret != "" {
		return reg.Config.Secret
	}
	if reg.Config.EncryptedSecret == "" {
		return ""
	}

	if secret, ok := p.cache.get(reg.AgentID, reg.Source); ok {
		return secret
	}

	if p.codec == nil {
		p.logger.Warn("registration has an encrypted secret but no encryption key is configured",
			"agent_id", reg.AgentID, "source", reg.Source)
		return ""
	}

	secret, err := p.codec.Decrypt(secrets.EncryptedSecret{
		Ciphertext: reg.Config.EncryptedSecret,
		IV:         reg.Config.IV,
		AuthTag:    reg.Config.AuthTag,
	})
	if err != nil {
		p.logger.Warn("failed to decrypt webhook secret",
			"agent_id", reg.AgentID, "source", reg.Source, "error", err)
		return ""
	}

	p.cache.put(reg.AgentID, reg.Source, secret)
	return secret
}

// parseEventTime accepts Unix seconds or common date formats.
func parseEventTime(v string) (time.Time, error) {
	if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
}

// extractEventType probes a JSON body for the provider's event name and
// remaps it through the registration's event mapping. Non-JSON bodies yield
// nil without failing the request.
func extractEventType(body []byte, mapping map[string]string) *string {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil
	}

	for _, field := range eventTypeFields {
		name, ok := decoded[field].(string)
		if !ok || name == "" {
			continue
		}
		if mapped, ok := mapping[name]; ok {
			name = mapped
		}
		return &name
	}
	return nil
}

func truncateBody(body []byte, limit int) []byte {
	if len(body) > limit {
		return body[:limit]
	}
	return body
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
