package registry

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nookplot/hookgate/internal/secrets"
	"github.com/nookplot/hookgate/internal/storage"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "gateway.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestCodec(t *testing.T) *secrets.Codec {
	t.Helper()

	codec, err := secrets.NewCodec("test-at-rest-key")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestRegisterEncryptsSecretAtRest(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := NewStore(db, newTestCodec(t))

	reg, err := s.Register(context.Background(), "agent-1", "stripe", Config{
		Secret:          "s3cr3t",
		SignatureHeader: "X-Signature",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if reg.Config.Secret != "" {
		t.Fatal("plaintext secret must not survive Register when encryption is configured")
	}
	if reg.Config.EncryptedSecret == "" || reg.Config.IV == "" || reg.Config.AuthTag == "" {
		t.Fatalf("expected encrypted material, got %+v", reg.Config)
	}

	// The row itself must carry no plaintext.
	var stored sql.NullString
	if err := db.QueryRow(`SELECT secret FROM webhook_registrations WHERE id = ?;`, reg.ID).Scan(&stored); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if stored.Valid {
		t.Fatalf("secret column should be NULL, got %q", stored.String)
	}
}

func TestRegisterStoresPlaintextWithoutCodec(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := NewStore(db, nil)

	reg, err := s.Register(context.Background(), "agent-1", "stripe", Config{Secret: "s3cr3t"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Config.Secret != "s3cr3t" {
		t.Fatalf("expected legacy plaintext secret, got %q", reg.Config.Secret)
	}
	if reg.Config.EncryptedSecret != "" {
		t.Fatal("no encrypted material expected without a codec")
	}
}

func TestRegisterRejectsBadSource(t *testing.T) {
	t.Parallel()

	s := NewStore(newTestDB(t), nil)

	for _, source := range []string{"", "Stripe", "has space", "semi;colon", "x/y", strings.Repeat("a", 101)} {
		if _, err := s.Register(context.Background(), "agent-1", source, Config{}); !errors.Is(err, ErrInvalidSource) {
			t.Fatalf("Register(%q): expected ErrInvalidSource, got %v", source, err)
		}
	}

	for _, source := range []string{"stripe", "github-app", "pager_duty", "s2"} {
		if _, err := s.Register(context.Background(), "agent-1", source, Config{}); err != nil {
			t.Fatalf("Register(%q): %v", source, err)
		}
	}
}

func TestRegisterUpsertReactivates(t *testing.T) {
	t.Parallel()

	s := NewStore(newTestDB(t), nil)
	ctx := context.Background()

	if _, err := s.Register(ctx, "agent-1", "stripe", Config{MaxAgeSeconds: 60}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ok, err := s.Deactivate(ctx, "agent-1", "stripe"); err != nil || !ok {
		t.Fatalf("Deactivate: ok=%v err=%v", ok, err)
	}

	reg, err := s.Register(ctx, "agent-1", "stripe", Config{MaxAgeSeconds: 90})
	if err != nil {
		t.Fatalf("Register (upsert): %v", err)
	}
	if !reg.Active {
		t.Fatal("upsert must reactivate the registration")
	}
	if reg.Config.MaxAgeSeconds != 90 {
		t.Fatalf("MaxAgeSeconds = %d, want 90", reg.Config.MaxAgeSeconds)
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()

	s := NewStore(newTestDB(t), nil)
	ctx := context.Background()

	for _, source := range []string{"stripe", "github", "linear"} {
		if _, err := s.Register(ctx, "agent-1", source, Config{}); err != nil {
			t.Fatalf("Register(%q): %v", source, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := s.Register(ctx, "agent-2", "stripe", Config{}); err != nil {
		t.Fatalf("Register (other agent): %v", err)
	}

	regs, err := s.List(ctx, "agent-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(regs) != 3 {
		t.Fatalf("len = %d, want 3", len(regs))
	}
	if regs[0].Source != "linear" || regs[2].Source != "stripe" {
		t.Fatalf("unexpected order: %s, %s, %s", regs[0].Source, regs[1].Source, regs[2].Source)
	}
}

func TestRemoveReportsExistence(t *testing.T) {
	t.Parallel()

	s := NewStore(newTestDB(t), nil)
	ctx := context.Background()

	if _, err := s.Register(ctx, "agent-1", "stripe", Config{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ok, err := s.Remove(ctx, "agent-1", "stripe")
	if err != nil || !ok {
		t.Fatalf("Remove: ok=%v err=%v", ok, err)
	}
	ok, err = s.Remove(ctx, "agent-1", "stripe")
	if err != nil {
		t.Fatalf("Remove (again): %v", err)
	}
	if ok {
		t.Fatal("second Remove should report false")
	}

	if _, err := s.Get(ctx, "agent-1", "stripe"); !errors.Is(err, ErrRegistrationNotFound) {
		t.Fatalf("expected ErrRegistrationNotFound, got %v", err)
	}
}

func TestEventMappingRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewStore(newTestDB(t), nil)

	reg, err := s.Register(context.Background(), "agent-1", "stripe", Config{
		EventMapping: map[string]string{"charge.succeeded": "payment.completed"},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Config.EventMapping["charge.succeeded"] != "payment.completed" {
		t.Fatalf("mapping lost: %+v", reg.Config.EventMapping)
	}
}
