// Package credentials persists the client's session credentials: the access
// token, the refresh token and the signed-in user. Clearing the store is the
// local half of a logout.
package credentials

import (
	"context"
	"time"
)

const (
	keyAccessToken      = "access_token"
	keyRefreshToken     = "refresh_token"
	keyRefreshExpiresAt = "refresh_expires_at"
	keyUser             = "user"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type Credentials struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             User
}

// Empty reports whether there is no session to resume.
func (c Credentials) Empty() bool {
	return c.RefreshToken == ""
}

type Store interface {
	// Load returns the zero Credentials when nothing is stored.
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, c Credentials) error
	// SetTokens replaces both tokens after a rotation.
	SetTokens(ctx context.Context, accessToken, refreshToken string, refreshExpiresAt time.Time) error
	RefreshToken(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}
