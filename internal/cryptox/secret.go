// Package cryptox holds the cryptographic primitives of sessionkeeper: opaque
// refresh-token secrets, their one-way digests, and password hashing.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// SecretBytes is the amount of entropy in a refresh-token secret.
const SecretBytes = 48

// SecretLength is the length of an encoded secret: 48 bytes in unpadded
// base64url are exactly 64 characters.
var SecretLength = base64.RawURLEncoding.EncodedLen(SecretBytes)

// TokenHashLength is the length of a hex encoded SHA-256 digest.
const TokenHashLength = sha256.Size * 2

// NewTokenSecret returns a fresh URL-safe opaque secret.
func NewTokenSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken computes the deterministic digest under which a secret is stored.
// The result is the only form of the secret that may be persisted.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ValidSecret reports whether s has the length and charset of a secret
// produced by NewTokenSecret.
func ValidSecret(s string) bool {
	if len(s) != SecretLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
