// Package auth provides API key generation, hashing and verification.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SecretBytes is the amount of random material in a generated key (256 bits).
const SecretBytes = 32

// GenerateSecret returns a new URL-safe API key drawn from crypto/rand.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssuedKey is a freshly generated key together with its storage hash.
type IssuedKey struct {
	Plaintext string // Full key (show once only)
	Hash      string // Salted hash for storage
}

// Issue generates a secret and hashes it with h.
func Issue(h Hasher) (*IssuedKey, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	hash, err := h.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &IssuedKey{Plaintext: secret, Hash: hash}, nil
}

// QuickHash returns a SHA256 hash of the input for cache keys.
// This is NOT for credential storage, only for cache key derivation.
func QuickHash(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}
