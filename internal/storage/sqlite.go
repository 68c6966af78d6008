package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
//
// The unique index on webhook_event_log.idempotency_key is the authoritative
// dedup guard for inbound webhooks; the pipeline's pre-check is only an
// optimization.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
  id         TEXT PRIMARY KEY,
  address    TEXT NOT NULL COLLATE NOCASE,
  name       TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS agents_address_idx ON agents(address);`,
		`CREATE TABLE IF NOT EXISTS webhook_registrations (
  id               TEXT PRIMARY KEY,
  agent_id         TEXT NOT NULL,
  source           TEXT NOT NULL,
  secret           TEXT,
  encrypted_secret TEXT,
  iv               TEXT,
  auth_tag         TEXT,
  signature_header TEXT,
  timestamp_header TEXT,
  max_age_seconds  INTEGER NOT NULL DEFAULT 300,
  event_mapping    JSON,
  active           INTEGER NOT NULL DEFAULT 1,
  created_at       TEXT NOT NULL,
  updated_at       TEXT NOT NULL,
  UNIQUE(agent_id, source)
);`,
		`CREATE TABLE IF NOT EXISTS webhook_event_log (
  id              TEXT PRIMARY KEY,
  agent_id        TEXT NOT NULL,
  source          TEXT NOT NULL,
  event_type      TEXT,
  status          TEXT NOT NULL,
  payload_size    INTEGER NOT NULL DEFAULT 0,
  error_message   TEXT,
  idempotency_key TEXT,
  created_at      TEXT NOT NULL
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS webhook_event_log_idempotency_key_idx
  ON webhook_event_log(idempotency_key) WHERE idempotency_key IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS webhook_event_log_rate_idx
  ON webhook_event_log(agent_id, source, status, created_at);`,
		`CREATE INDEX IF NOT EXISTS webhook_event_log_agent_created_idx
  ON webhook_event_log(agent_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
