package ingest

import (
	"sync"
	"time"
)

// secretCacheTTL bounds how long a decrypted secret may be served without
// going back to the store. Register/remove invalidate eagerly; the TTL only
// covers out-of-band database edits.
const secretCacheTTL = time.Minute

type cachedSecret struct {
	secret    string
	expiresAt time.Time
}

// secretCache holds decrypted webhook secrets keyed by agentID+source so the
// pipeline does not pay an AES-GCM decrypt per request.
type secretCache struct {
	mu      sync.Mutex
	entries map[string]cachedSecret
	ttl     time.Duration
	now     func() time.Time
}

func newSecretCache(ttl time.Duration, now func() time.Time) *secretCache {
	if ttl <= 0 {
		ttl = secretCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &secretCache{
		entries: make(map[string]cachedSecret),
		ttl:     ttl,
		now:     now,
	}
}

func cacheKey(agentID, source string) string {
	return agentID + "\x00" + source
}

func (c *secretCache) get(agentID, source string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey(agentID, source)]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, cacheKey(agentID, source))
		return "", false
	}
	return e.secret, true
}

func (c *secretCache) put(agentID, source, secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(agentID, source)] = cachedSecret{
		secret:    secret,
		expiresAt: c.now().Add(c.ttl),
	}
}

func (c *secretCache) invalidate(agentID, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, cacheKey(agentID, source))
}
