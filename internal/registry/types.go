// Package registry is the per-agent webhook registration store. A
// registration binds a provider source ("stripe", "github") to the secret
// material and verification policy the ingest pipeline applies to every
// inbound request for that source.
package registry

import (
	"errors"
	"regexp"
	"time"
)

// DefaultMaxAgeSeconds bounds the replay window when a registration does not
// set its own.
const DefaultMaxAgeSeconds = 300

// sourceSlugPattern restricts source names to a URL-safe slug.
var sourceSlugPattern = regexp.MustCompile(`^[a-z0-9_-]{1,100}$`)

var (
	ErrInvalidSource        = errors.New("source must be a lowercase slug (a-z, 0-9, '-', '_', max 100 chars)")
	ErrRegistrationNotFound = errors.New("webhook registration not found")
)

// Config holds the verification policy for one registration. Secret is
// write-only: when an at-rest encryption key is configured it is sealed into
// EncryptedSecret/IV/AuthTag before persisting and never stored in the clear.
type Config struct {
	Secret          string            `json:"secret,omitempty"`
	EncryptedSecret string            `json:"-"`
	IV              string            `json:"-"`
	AuthTag         string            `json:"-"`
	SignatureHeader string            `json:"signatureHeader,omitempty"`
	TimestampHeader string            `json:"timestampHeader,omitempty"`
	MaxAgeSeconds   int               `json:"maxAgeSeconds,omitempty"`
	EventMapping    map[string]string `json:"eventMapping,omitempty"`
}

// Registration is one (agent, source) webhook configuration.
type Registration struct {
	ID        string
	AgentID   string
	Source    string
	Config    Config
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSecret reports whether any secret material is stored, encrypted or not.
func (c Config) HasSecret() bool {
	return c.Secret != "" || c.EncryptedSecret != ""
}

// MaxAge returns the replay window, applying the default when unset.
func (c Config) MaxAge() time.Duration {
	if c.MaxAgeSeconds <= 0 {
		return DefaultMaxAgeSeconds * time.Second
	}
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

// ValidSource reports whether source is an acceptable slug.
func ValidSource(source string) bool {
	return sourceSlugPattern.MatchString(source)
}
