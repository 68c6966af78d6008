// Package audit is the append-only record of every webhook pipeline outcome.
// Rows are written once and never mutated; dashboards and the rate limiter
// only read them. The unique index on idempotency_key doubles as the
// authoritative dedup guard for provider retries.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal outcome of one pipeline invocation.
type Status string

const (
	StatusDelivered   Status = "delivered"
	StatusRejected    Status = "rejected"
	StatusRateLimited Status = "rate_limited"
)

// ErrDuplicateIdempotencyKey reports that a row with the same idempotency key
// already exists. Callers treat this as "already delivered", not a failure.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// Entry is one webhook event log row.
type Entry struct {
	ID             string
	AgentID        string
	Source         string
	EventType      *string
	Status         Status
	PayloadSize    int
	ErrorMessage   *string
	IdempotencyKey *string
	CreatedAt      time.Time
}

type Log struct {
	db *sql.DB
}

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Insert appends one entry. A unique-index violation on the idempotency key
// maps to ErrDuplicateIdempotencyKey so concurrent duplicate deliveries can
// be collapsed without a read-modify-write race.
func (l *Log) Insert(ctx context.Context, e Entry) (*Entry, error) {
	if e.AgentID == "" {
		return nil, fmt.Errorf("agentID is empty")
	}
	if e.Source == "" {
		return nil, fmt.Errorf("source is empty")
	}
	switch e.Status {
	case StatusDelivered, StatusRejected, StatusRateLimited:
	default:
		return nil, fmt.Errorf("invalid status: %q", e.Status)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO webhook_event_log(
  id, agent_id, source, event_type, status, payload_size,
  error_message, idempotency_key, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.AgentID, e.Source, e.EventType, e.Status, e.PayloadSize,
		e.ErrorMessage, e.IdempotencyKey, e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, fmt.Errorf("insert webhook event log: %w", err)
	}
	return &e, nil
}

// HasIdempotencyKey reports whether any row already carries key. This is the
// fast-path pre-check; Insert's unique index is the real guard.
func (l *Log) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var one int
	err := l.db.QueryRowContext(ctx, `
SELECT 1 FROM webhook_event_log WHERE idempotency_key = ? LIMIT 1;
`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return true, nil
}

// CountDelivered counts delivered rows for (agentID, source) created at or
// after since. Only delivered rows feed the rate limiter so malformed or
// unsigned floods cannot exhaust an agent's quota.
func (l *Log) CountDelivered(ctx context.Context, agentID, source string, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM webhook_event_log
WHERE agent_id = ? AND source = ? AND status = ? AND created_at >= ?;
`, agentID, source, StatusDelivered, since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count delivered events: %w", err)
	}
	return n, nil
}

// List returns an agent's entries, newest first, with offset pagination.
// page is 1-based.
func (l *Log) List(ctx context.Context, agentID string, page, limit int) ([]*Entry, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := (page - 1) * limit

	rows, err := l.db.QueryContext(ctx, `
SELECT id, agent_id, source, event_type, status, payload_size,
       error_message, idempotency_key, created_at
FROM webhook_event_log
WHERE agent_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ? OFFSET ?;
`, agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list webhook event log: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			e         Entry
			eventType sql.NullString
			errMsg    sql.NullString
			idemKey   sql.NullString
			statusS   string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Source, &eventType, &statusS,
			&e.PayloadSize, &errMsg, &idemKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scan webhook event log: %w", err)
		}
		e.Status = Status(statusS)
		if eventType.Valid {
			e.EventType = &eventType.String
		}
		if errMsg.Valid {
			e.ErrorMessage = &errMsg.String
		}
		if idemKey.Valid {
			e.IdempotencyKey = &idemKey.String
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhook event log: %w", err)
	}
	return out, nil
}

// isUniqueViolation matches SQLite's constraint error without binding to the
// driver's error type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
