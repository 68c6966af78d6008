package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// verifyHMACSignature verifies an HMAC-SHA256 signature against the raw
// request body using constant-time comparison.
//
// Accepted formats:
//   - "sha256=<64 hex>" (GitHub style; prefix and hex are case-insensitive)
//   - "<64 hex>" (plain hex)
//
// "sha1=" signatures are rejected outright as an insecure scheme, and
// malformed encodings are rejected before any comparison takes place.
func verifyHMACSignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return fmt.Errorf("webhook verification failed")
	}

	actualMAC, err := parseSignature(signature)
	if err != nil {
		// Generic error - don't leak format details.
		return fmt.Errorf("webhook verification failed")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expectedMAC, actualMAC) != 1 {
		return fmt.Errorf("webhook verification failed")
	}

	return nil
}

// parseSignature extracts the raw MAC bytes from a signature header value.
func parseSignature(signature string) ([]byte, error) {
	lowered := strings.ToLower(signature)

	if strings.HasPrefix(lowered, "sha1=") {
		return nil, fmt.Errorf("sha1 signatures are not accepted")
	}

	hexSig := signature
	if strings.HasPrefix(lowered, "sha256=") {
		hexSig = signature[len("sha256="):]
	}

	if len(hexSig) != hex.EncodedLen(sha256.Size) {
		return nil, fmt.Errorf("signature is not a sha256 digest")
	}
	return hex.DecodeString(hexSig)
}

// computeSignature returns the hex HMAC-SHA256 of body under secret.
func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
