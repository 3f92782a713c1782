package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	insertQ = `(?s)^INSERT\s+INTO\s+refresh_tokens\s*\(id,\s*user_id,\s*token_hash,\s*expires_at,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*$`
	selectQ = `(?s)^SELECT\s+id,\s*user_id,\s*token_hash,\s*expires_at,\s*revoked_at,\s*replaced_by_token_id,\s*created_at\s+FROM\s+refresh_tokens\s+WHERE\s+token_hash\s*=\s*\$1\s*$`
	rotateQ = `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked_at\s*=\s*\$2,\s*replaced_by_token_id\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL\s+AND\s+expires_at\s*>\s*\$2\s*$`
	revokeQ = `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked_at\s*=\s*\$2\s+WHERE\s+token_hash\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL\s*$`
)

var cols = []string{"id", "user_id", "token_hash", "expires_at", "revoked_at", "replaced_by_token_id", "created_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestCreate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	tok := &models.RefreshToken{ID: "t1", UserID: "u1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}

	mock.ExpectExec(insertQ).
		WithArgs("t1", "u1", "h1", tok.ExpiresAt, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), tok))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(insertQ).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.RefreshToken{ID: "t1"})
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*db down`), err.Error())
}

func TestFindByHash_Live(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(cols).AddRow("t1", "u1", "h1", now.Add(time.Hour), nil, nil, now)
	mock.ExpectQuery(selectQ).WithArgs("h1").WillReturnRows(rows)

	got, err := repo.FindByHash(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "u1", got.UserID)
	assert.Nil(t, got.RevokedAt)
	assert.Nil(t, got.ReplacedByTokenID)
}

func TestFindByHash_Rotated(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(cols).AddRow("t1", "u1", "h1", now.Add(time.Hour), now, "t2", now)
	mock.ExpectQuery(selectQ).WithArgs("h1").WillReturnRows(rows)

	got, err := repo.FindByHash(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	require.NotNil(t, got.ReplacedByTokenID)
	assert.Equal(t, "t2", *got.ReplacedByTokenID)
	assert.True(t, got.WasRotated())
}

func TestFindByHash_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(selectQ).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFindByHash_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(selectQ).WithArgs("h1").WillReturnError(errors.New("db err"))

	_, err := repo.FindByHash(context.Background(), "h1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorNotFound)
	assert.Contains(t, err.Error(), "db error: db err")
}

func TestMarkRotated(t *testing.T) {
	now := time.Now().UTC()

	t.Run("live predecessor", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(rotateQ).WithArgs("t1", now, "t2").WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.MarkRotated(context.Background(), "t1", "t2", now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("already revoked", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(rotateQ).WithArgs("t1", now, "t2").WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.MarkRotated(context.Background(), "t1", "t2", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(rotateQ).WillReturnError(errors.New("db err"))

		_, err := repo.MarkRotated(context.Background(), "t1", "t2", now)
		assert.ErrorContains(t, err, "db err")
	})

	t.Run("rows affected error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(rotateQ).WillReturnResult(sqlmock.NewErrorResult(errors.New("no count")))

		_, err := repo.MarkRotated(context.Background(), "t1", "t2", now)
		assert.ErrorContains(t, err, "rows affected")
	})
}

func TestRevokeByHash(t *testing.T) {
	now := time.Now().UTC()

	t.Run("revokes live token", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(revokeQ).WithArgs("h1", now).WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.RevokeByHash(context.Background(), "h1", now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown or revoked is a no-op", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(revokeQ).WithArgs("h1", now).WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.RevokeByHash(context.Background(), "h1", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(revokeQ).WillReturnError(errors.New("db err"))

		_, err := repo.RevokeByHash(context.Background(), "h1", now)
		assert.ErrorContains(t, err, "db error: db err")
	})
}
