package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrUserExists = errors.New("user already exists")

	// ErrTokenConflict is returned by a store when a conditional update lost:
	// the predecessor token was revoked, rotated or expired in the meantime.
	ErrTokenConflict = errors.New("token no longer live")

	// ErrStoreUnavailable marks a failed durable store call. It is retryable
	// by the caller and never leaves partial token state behind.
	ErrStoreUnavailable = errors.New("token store unavailable")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrRateLimited    = errors.New("rate limit exceeded")

	// ErrInvalidToken is the single outcome reported for a refresh secret that
	// is unknown, revoked, expired or malformed. It is also used for access
	// tokens that fail signature or claim checks.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrTokenExpired is reported for access tokens only.
	ErrTokenExpired = errors.New(TokenExpiredMessage)

	// ErrForcedLogout is raised on the client when the server rejects the
	// session and a refresh cannot recover it.
	ErrForcedLogout = errors.New("session invalidated")
)
