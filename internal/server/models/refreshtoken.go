// Package models defines server-side data models persisted in the database.
package models

import "time"

// RefreshToken is one link of a rotation chain. Only the SHA-256 digest of
// the secret is stored; the secret itself is handed to the client once.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	// RevokedAt is set exactly once, on rotation or explicit revocation.
	RevokedAt *time.Time
	// ReplacedByTokenID points at the successor; nil for tokens revoked
	// without rotation and for the live head of a chain.
	ReplacedByTokenID *string
	CreatedAt         time.Time
}

// IsRevoked reports whether the token has been revoked or rotated away.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token's lifetime has elapsed at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// WasRotated reports whether the token has been superseded by a successor.
func (t *RefreshToken) WasRotated() bool {
	return t.RevokedAt != nil && t.ReplacedByTokenID != nil
}

// IsLive reports whether the token may still be rotated or used at now.
func (t *RefreshToken) IsLive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}
