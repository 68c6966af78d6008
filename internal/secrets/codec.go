// Package secrets implements at-rest encryption of webhook signing secrets.
//
// Secrets are sealed with AES-256-GCM. Ciphertext, IV, and authentication tag
// are stored as separate base64 columns so a database dump alone never yields
// plaintext secret material.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// EncryptedSecret is the at-rest form of a webhook secret.
type EncryptedSecret struct {
	Ciphertext string
	IV         string
	AuthTag    string
}

// Codec encrypts and decrypts secret strings with a fixed key.
type Codec struct {
	key []byte
}

// NewCodec derives a codec from arbitrary key material. Material that is
// already a valid AES key length (16/24/32 bytes) is used as-is; anything
// else is normalized through SHA-256.
func NewCodec(keyMaterial string) (*Codec, error) {
	if keyMaterial == "" {
		return nil, fmt.Errorf("secrets: key material is required")
	}
	return &Codec{key: normalizeKey([]byte(keyMaterial))}, nil
}

// Encrypt seals plaintext and returns ciphertext, IV, and auth tag separately.
func (c *Codec) Encrypt(plaintext string) (EncryptedSecret, error) {
	if plaintext == "" {
		return EncryptedSecret{}, fmt.Errorf("secrets: plaintext is required")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("secrets: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("secrets: create gcm: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return EncryptedSecret{}, fmt.Errorf("secrets: iv generation failed: %w", err)
	}

	// Seal appends the GCM tag to the ciphertext; split it back out so the
	// stored form carries the tag as its own field.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()

	return EncryptedSecret{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[tagStart:]),
	}, nil
}

// Decrypt opens a sealed secret. Tampering with any field fails the GCM
// authentication check.
func (c *Codec) Decrypt(enc EncryptedSecret) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets: decode ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(enc.IV)
	if err != nil {
		return "", fmt.Errorf("secrets: decode iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(enc.AuthTag)
	if err != nil {
		return "", fmt.Errorf("secrets: decode auth tag: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("secrets: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: create gcm: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return "", fmt.Errorf("secrets: invalid iv length %d", len(iv))
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt failed: %w", err)
	}
	return string(plaintext), nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}
