// Package refreshtokens declares the server-side repository contract for
// refresh-token rows in persistent storage.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// Repository defines row-level operations on refresh tokens. Rows are never
// deleted; revocation and rotation only ever set nullable columns once.
type Repository interface {
	// Create inserts a new token row.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByHash looks up a token by the digest of its secret.
	// Implementations return common.ErrorNotFound when no row matches.
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)

	// MarkRotated revokes a live token and links it to its successor.
	// It reports false when the token was already revoked or expired at now.
	MarkRotated(ctx context.Context, id, successorID string, now time.Time) (bool, error)

	// RevokeByHash revokes a token that is not yet revoked. It reports
	// whether a row changed; unknown or revoked tokens are not an error.
	RevokeByHash(ctx context.Context, hash string, now time.Time) (bool, error)
}
