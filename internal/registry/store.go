package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nookplot/hookgate/internal/secrets"
)

// Store persists webhook registrations. When codec is non-nil, plaintext
// secrets are sealed before they reach the database.
type Store struct {
	db    *sql.DB
	codec *secrets.Codec
}

func NewStore(db *sql.DB, codec *secrets.Codec) *Store {
	return &Store{db: db, codec: codec}
}

// Register creates or replaces the registration for (agentID, source).
// Upserting always reactivates: a re-register after a deactivation is the
// agent's way of turning the source back on.
func (s *Store) Register(ctx context.Context, agentID, source string, cfg Config) (*Registration, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agentID is empty")
	}
	if !ValidSource(source) {
		return nil, ErrInvalidSource
	}

	if cfg.Secret != "" && s.codec != nil {
		enc, err := s.codec.Encrypt(cfg.Secret)
		if err != nil {
			return nil, fmt.Errorf("encrypt webhook secret: %w", err)
		}
		cfg.EncryptedSecret = enc.Ciphertext
		cfg.IV = enc.IV
		cfg.AuthTag = enc.AuthTag
		cfg.Secret = ""
	}

	if cfg.MaxAgeSeconds <= 0 {
		cfg.MaxAgeSeconds = DefaultMaxAgeSeconds
	}

	var mappingJSON any
	if len(cfg.EventMapping) > 0 {
		b, err := json.Marshal(cfg.EventMapping)
		if err != nil {
			return nil, fmt.Errorf("marshal event mapping: %w", err)
		}
		mappingJSON = string(b)
	}

	now := time.Now().UTC()
	nowS := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO webhook_registrations(
  id, agent_id, source, secret, encrypted_secret, iv, auth_tag,
  signature_header, timestamp_header, max_age_seconds, event_mapping,
  active, created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(agent_id, source) DO UPDATE SET
  secret = excluded.secret,
  encrypted_secret = excluded.encrypted_secret,
  iv = excluded.iv,
  auth_tag = excluded.auth_tag,
  signature_header = excluded.signature_header,
  timestamp_header = excluded.timestamp_header,
  max_age_seconds = excluded.max_age_seconds,
  event_mapping = excluded.event_mapping,
  active = 1,
  updated_at = excluded.updated_at;
`, id, agentID, source,
		nullable(cfg.Secret), nullable(cfg.EncryptedSecret), nullable(cfg.IV), nullable(cfg.AuthTag),
		nullable(cfg.SignatureHeader), nullable(cfg.TimestampHeader), cfg.MaxAgeSeconds, mappingJSON,
		nowS, nowS)
	if err != nil {
		return nil, fmt.Errorf("upsert webhook registration: %w", err)
	}

	return s.Get(ctx, agentID, source)
}

// Get loads one registration.
func (s *Store) Get(ctx context.Context, agentID, source string) (*Registration, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, agent_id, source, secret, encrypted_secret, iv, auth_tag,
       signature_header, timestamp_header, max_age_seconds, event_mapping,
       active, created_at, updated_at
FROM webhook_registrations
WHERE agent_id = ? AND source = ?;
`, agentID, source)

	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load webhook registration: %w", err)
	}
	return reg, nil
}

// List returns all registrations for an agent, newest first.
func (s *Store) List(ctx context.Context, agentID string) ([]*Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, agent_id, source, secret, encrypted_secret, iv, auth_tag,
       signature_header, timestamp_header, max_age_seconds, event_mapping,
       active, created_at, updated_at
FROM webhook_registrations
WHERE agent_id = ?
ORDER BY created_at DESC, rowid DESC;
`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list webhook registrations: %w", err)
	}
	defer rows.Close()

	var out []*Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook registration: %w", err)
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhook registrations: %w", err)
	}
	return out, nil
}

// Remove deletes a registration. Returns true iff a row existed.
func (s *Store) Remove(ctx context.Context, agentID, source string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM webhook_registrations WHERE agent_id = ? AND source = ?;
`, agentID, source)
	if err != nil {
		return false, fmt.Errorf("remove webhook registration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove webhook registration: %w", err)
	}
	return n > 0, nil
}

// Deactivate flips a registration inactive without discarding its config.
// Inbound traffic for an inactive registration is rejected by the pipeline.
func (s *Store) Deactivate(ctx context.Context, agentID, source string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE webhook_registrations SET active = 0, updated_at = ?
WHERE agent_id = ? AND source = ?;
`, time.Now().UTC().Format(time.RFC3339Nano), agentID, source)
	if err != nil {
		return false, fmt.Errorf("deactivate webhook registration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate webhook registration: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*Registration, error) {
	var (
		reg       Registration
		secret    sql.NullString
		encSecret sql.NullString
		iv        sql.NullString
		authTag   sql.NullString
		sigHdr    sql.NullString
		tsHdr     sql.NullString
		mapping   sql.NullString
		active    int
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&reg.ID, &reg.AgentID, &reg.Source, &secret, &encSecret, &iv, &authTag,
		&sigHdr, &tsHdr, &reg.Config.MaxAgeSeconds, &mapping,
		&active, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	reg.Config.Secret = secret.String
	reg.Config.EncryptedSecret = encSecret.String
	reg.Config.IV = iv.String
	reg.Config.AuthTag = authTag.String
	reg.Config.SignatureHeader = sigHdr.String
	reg.Config.TimestampHeader = tsHdr.String
	reg.Active = active != 0

	if mapping.Valid && mapping.String != "" {
		if err := json.Unmarshal([]byte(mapping.String), &reg.Config.EventMapping); err != nil {
			return nil, fmt.Errorf("decode event mapping: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		reg.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		reg.UpdatedAt = t
	}
	return &reg, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
