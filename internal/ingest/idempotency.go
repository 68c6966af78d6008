package ingest

import (
	"encoding/hex"
	"net/http"

	"github.com/zeebo/blake3"
)

// maxIdempotencyKeyLen bounds stored keys regardless of how the provider
// formats its delivery ids.
const maxIdempotencyKeyLen = 128

// deliveryIDHeaders are checked in priority order for a provider-supplied
// request/delivery id.
var deliveryIDHeaders = []string{
	"X-Idempotency-Key",
	"Idempotency-Key",
	"X-Webhook-Id",
	"X-Delivery-Id",
	"X-Request-Id",
	"X-GitHub-Delivery",
}

// deriveIdempotencyKey identifies one logical webhook delivery. A provider
// delivery id wins when present; otherwise the key degrades to a content
// hash, which still collapses byte-identical retries.
func deriveIdempotencyKey(agentID, source string, headers http.Header, body []byte) string {
	for _, name := range deliveryIDHeaders {
		if v := headers.Get(name); v != "" {
			return truncateKey(source + ":" + v)
		}
	}

	h := blake3.New()
	h.Write([]byte(agentID))
	h.Write([]byte(source))
	h.Write(body)
	return truncateKey(source + ":" + hex.EncodeToString(h.Sum(nil)))
}

func truncateKey(key string) string {
	if len(key) > maxIdempotencyKeyLen {
		return key[:maxIdempotencyKeyLen]
	}
	return key
}
