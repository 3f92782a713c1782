package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// RunMigrations applies the embedded client schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens the SQLite database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time; also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteStore keeps credentials as rows of a key/value table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) get(ctx context.Context, db dbx.DBTX, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials[%s]: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) set(ctx context.Context, db dbx.DBTX, key string, value []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO credentials (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set credentials[%s]: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Credentials, error) {
	var c Credentials

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM credentials`)
	if err != nil {
		return c, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return c, fmt.Errorf("failed to scan credentials row: %w", err)
		}
		switch key {
		case keyAccessToken:
			c.AccessToken = string(value)
		case keyRefreshToken:
			c.RefreshToken = string(value)
		case keyRefreshExpiresAt:
			if err := c.RefreshExpiresAt.UnmarshalText(value); err != nil {
				return c, fmt.Errorf("decode %s: %w", key, err)
			}
		case keyUser:
			if err := json.Unmarshal(value, &c.User); err != nil {
				return c, fmt.Errorf("decode %s: %w", key, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return c, fmt.Errorf("failed to iterate credentials rows: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) Save(ctx context.Context, c Credentials) error {
	user, err := json.Marshal(c.User)
	if err != nil {
		return err
	}
	expires, err := c.RefreshExpiresAt.MarshalText()
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, kv := range []struct {
			key   string
			value []byte
		}{
			{keyAccessToken, []byte(c.AccessToken)},
			{keyRefreshToken, []byte(c.RefreshToken)},
			{keyRefreshExpiresAt, expires},
			{keyUser, user},
		} {
			if err := s.set(ctx, tx, kv.key, kv.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SetTokens(ctx context.Context, accessToken, refreshToken string, refreshExpiresAt time.Time) error {
	expires, err := refreshExpiresAt.MarshalText()
	if err != nil {
		return err
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.set(ctx, tx, keyAccessToken, []byte(accessToken)); err != nil {
			return err
		}
		if err := s.set(ctx, tx, keyRefreshToken, []byte(refreshToken)); err != nil {
			return err
		}
		return s.set(ctx, tx, keyRefreshExpiresAt, expires)
	})
}

func (s *SQLiteStore) RefreshToken(ctx context.Context) (string, error) {
	v, err := s.get(ctx, s.db, keyRefreshToken)
	return string(v), err
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}
