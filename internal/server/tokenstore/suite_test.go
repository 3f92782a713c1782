package tokenstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/tokens"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ tokens.Store = (*Memory)(nil)
	_ tokens.Store = (*Redis)(nil)
	_ tokens.Store = (*Postgres)(nil)
)

func newToken(userID string, now time.Time, ttl time.Duration) *models.RefreshToken {
	return &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: cryptox.HashToken(uuid.NewString()),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// runStoreSuite checks the behaviour every tokens.Store must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) tokens.Store, userID string) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("create and find", func(t *testing.T) {
		s := newStore(t)
		tok := newToken(userID, now, time.Hour)
		require.NoError(t, s.Create(ctx, tok))

		got, err := s.FindByHash(ctx, tok.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, tok.ID, got.ID)
		assert.Equal(t, userID, got.UserID)
		assert.True(t, tok.ExpiresAt.Equal(got.ExpiresAt), "expires %v != %v", tok.ExpiresAt, got.ExpiresAt)
		assert.Nil(t, got.RevokedAt)
		assert.Nil(t, got.ReplacedByTokenID)
	})

	t.Run("unknown hash", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindByHash(ctx, cryptox.HashToken("nope"))
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("rotate links the chain", func(t *testing.T) {
		s := newStore(t)
		pred := newToken(userID, now, time.Hour)
		require.NoError(t, s.Create(ctx, pred))

		succ := newToken(userID, now, time.Hour)
		require.NoError(t, s.Rotate(ctx, pred.ID, succ, now))

		old, err := s.FindByHash(ctx, pred.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, old.RevokedAt)
		require.NotNil(t, old.ReplacedByTokenID)
		assert.Equal(t, succ.ID, *old.ReplacedByTokenID)

		next, err := s.FindByHash(ctx, succ.TokenHash)
		require.NoError(t, err)
		assert.True(t, next.IsLive(now))
	})

	t.Run("second rotation of the same predecessor conflicts", func(t *testing.T) {
		s := newStore(t)
		pred := newToken(userID, now, time.Hour)
		require.NoError(t, s.Create(ctx, pred))
		require.NoError(t, s.Rotate(ctx, pred.ID, newToken(userID, now, time.Hour), now))

		loser := newToken(userID, now, time.Hour)
		assert.ErrorIs(t, s.Rotate(ctx, pred.ID, loser, now), common.ErrTokenConflict)

		_, err := s.FindByHash(ctx, loser.TokenHash)
		assert.ErrorIs(t, err, common.ErrorNotFound, "losing successor must not be stored")
	})

	t.Run("expired predecessor conflicts", func(t *testing.T) {
		s := newStore(t)
		pred := newToken(userID, now.Add(-2*time.Hour), time.Hour)
		require.NoError(t, s.Create(ctx, pred))

		assert.ErrorIs(t, s.Rotate(ctx, pred.ID, newToken(userID, now, time.Hour), now), common.ErrTokenConflict)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		s := newStore(t)
		tok := newToken(userID, now, time.Hour)
		require.NoError(t, s.Create(ctx, tok))

		changed, err := s.RevokeByHash(ctx, tok.TokenHash, now)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.RevokeByHash(ctx, tok.TokenHash, now.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := s.FindByHash(ctx, tok.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		assert.True(t, now.Equal(*got.RevokedAt), "first revocation time must stick")
		assert.Nil(t, got.ReplacedByTokenID)

		changed, err = s.RevokeByHash(ctx, cryptox.HashToken("unknown"), now)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("rotate after revoke conflicts", func(t *testing.T) {
		s := newStore(t)
		tok := newToken(userID, now, time.Hour)
		require.NoError(t, s.Create(ctx, tok))
		_, err := s.RevokeByHash(ctx, tok.TokenHash, now)
		require.NoError(t, err)

		assert.ErrorIs(t, s.Rotate(ctx, tok.ID, newToken(userID, now, time.Hour), now), common.ErrTokenConflict)
	})

	t.Run("concurrent rotations have one winner", func(t *testing.T) {
		s := newStore(t)
		pred := newToken(userID, now, time.Hour)
		require.NoError(t, s.Create(ctx, pred))

		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				err := s.Rotate(ctx, pred.ID, newToken(userID, now, time.Hour), now)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case assert.ErrorIs(t, err, common.ErrTokenConflict):
					conflicts++
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, n-1, conflicts)
	})
}
