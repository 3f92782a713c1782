package tokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// Store is the durable home of refresh-token rows.
type Store interface {
	// Create persists a freshly minted token.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByHash returns the row whose digest matches, or common.ErrorNotFound.
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)

	// Rotate inserts successor and revokes the predecessor, linking it to the
	// successor, as one atomic step. When the predecessor is no longer live at
	// now it stores nothing and returns common.ErrTokenConflict.
	Rotate(ctx context.Context, predecessorID string, successor *models.RefreshToken, now time.Time) error

	// RevokeByHash revokes the matching token if it is not revoked yet and
	// reports whether anything changed.
	RevokeByHash(ctx context.Context, hash string, now time.Time) (bool, error)
}
