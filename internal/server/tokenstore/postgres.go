package tokenstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
)

// Postgres stores tokens in the refresh_tokens table.
//
// Rotate inserts the successor and then revokes the predecessor with a
// conditional UPDATE in one transaction. A concurrent rotation of the same
// predecessor blocks on the row lock, re-reads revoked_at once the winner
// commits, matches zero rows and rolls back its own successor.
type Postgres struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

func NewPostgres(db *sql.DB, repos repomanager.RepositoryManager) *Postgres {
	return &Postgres{db: db, repos: repos}
}

func (p *Postgres) Create(ctx context.Context, token *models.RefreshToken) error {
	return p.repos.RefreshTokens(p.db).Create(ctx, token)
}

func (p *Postgres) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	return p.repos.RefreshTokens(p.db).FindByHash(ctx, hash)
}

func (p *Postgres) Rotate(ctx context.Context, predecessorID string, successor *models.RefreshToken, now time.Time) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := p.repos.RefreshTokens(tx)
		if err := repo.Create(ctx, successor); err != nil {
			return err
		}
		ok, err := repo.MarkRotated(ctx, predecessorID, successor.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrTokenConflict
		}
		return nil
	})
}

func (p *Postgres) RevokeByHash(ctx context.Context, hash string, now time.Time) (bool, error) {
	return p.repos.RefreshTokens(p.db).RevokeByHash(ctx, hash, now)
}
