package ingest

import (
	"testing"
	"time"
)

func TestSecretCacheTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	c := newSecretCache(time.Minute, func() time.Time { return now })

	c.put("agent", "stripe", "s3cr3t")

	if got, ok := c.get("agent", "stripe"); !ok || got != "s3cr3t" {
		t.Fatalf("get = %q, %v", got, ok)
	}

	// Expires strictly after the TTL elapses.
	now = now.Add(time.Minute)
	if _, ok := c.get("agent", "stripe"); !ok {
		t.Fatal("entry expired at exactly the TTL boundary")
	}
	now = now.Add(time.Second)
	if _, ok := c.get("agent", "stripe"); ok {
		t.Fatal("entry survived past the TTL")
	}
}

func TestSecretCacheInvalidate(t *testing.T) {
	t.Parallel()

	c := newSecretCache(time.Minute, nil)
	c.put("agent", "stripe", "s3cr3t")
	c.put("agent", "github", "other")

	c.invalidate("agent", "stripe")

	if _, ok := c.get("agent", "stripe"); ok {
		t.Fatal("invalidated entry still cached")
	}
	if got, ok := c.get("agent", "github"); !ok || got != "other" {
		t.Fatalf("unrelated entry lost: %q, %v", got, ok)
	}
}

func TestSecretCacheKeysDoNotCollide(t *testing.T) {
	t.Parallel()

	c := newSecretCache(time.Minute, nil)
	c.put("a", "bc", "one")
	c.put("ab", "c", "two")

	if got, _ := c.get("a", "bc"); got != "one" {
		t.Errorf(`get("a","bc") = %q, want one`, got)
	}
	if got, _ := c.get("ab", "c"); got != "two" {
		t.Errorf(`get("ab","c") = %q, want two`, got)
	}
}
