// Package agent resolves and manages the agents (tenants) that own webhook
// registrations. Every inbound webhook is attributed to exactly one agent by
// its network address.
package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrAgentNotFound = errors.New("agent not found")

// Agent is a tenant on the Nookplot network.
type Agent struct {
	ID        string
	Address   string
	Name      string
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create registers a new agent. Addresses are stored as given but matched
// case-insensitively.
func (s *Store) Create(ctx context.Context, address, name string) (*Agent, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("agent address is empty")
	}

	a := &Agent{
		ID:        uuid.NewString(),
		Address:   address,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO agents(id, address, name, created_at)
VALUES(?, ?, ?, ?);
`, a.ID, a.Address, a.Name, a.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

// ResolveAddress looks an agent up by address, case-insensitively.
func (s *Store) ResolveAddress(ctx context.Context, address string) (*Agent, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrAgentNotFound
	}

	var (
		a         Agent
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, address, name, created_at
FROM agents
WHERE address = ? COLLATE NOCASE;
`, address).Scan(&a.ID, &a.Address, &a.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve agent address: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		a.CreatedAt = t
	}
	return &a, nil
}
