package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention keeps revoked and expired rows around for audit after
// their expiry before Redis evicts them.
const DefaultRetention = 30 * 24 * time.Hour

const (
	rotateStatusConflict  int64 = 0
	rotateStatusRotated   int64 = 1
	rotateStatusDuplicate int64 = -1
)

// Each token is a hash under <prefix><tokenHash>; <prefix>id:<id> holds the
// token hash so rotations can address the predecessor by id. Timestamps are
// unix milliseconds. An absent revoked_at field means "not revoked".

const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "user_id", ARGV[2], "token_hash", ARGV[3], "expires_at", ARGV[4], "created_at", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
redis.call("SET", KEYS[2], ARGV[3], "PX", ARGV[6])
return 1
`

var createLua = redis.NewScript(createScript)

const rotateScript = `
local pred_hash = redis.call("GET", KEYS[1])
if not pred_hash then
  return 0
end
local pred_key = ARGV[1] .. pred_hash
local now = tonumber(ARGV[2])
local revoked = redis.call("HGET", pred_key, "revoked_at")
local expires = tonumber(redis.call("HGET", pred_key, "expires_at") or "0")
if revoked or expires <= now then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return -1
end
redis.call("HSET", KEYS[2], "id", ARGV[3], "user_id", ARGV[4], "token_hash", ARGV[5], "expires_at", ARGV[6], "created_at", ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[7])
redis.call("SET", KEYS[3], ARGV[5], "PX", ARGV[7])
redis.call("HSET", pred_key, "revoked_at", ARGV[2], "replaced_by", ARGV[3])
return 1
`

var rotateLua = redis.NewScript(rotateScript)

const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HEXISTS", KEYS[1], "revoked_at") == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Redis stores tokens in Redis. Every write is a Lua script, so each
// check-and-set runs without interleaving.
//
// The rotate script derives the predecessor row key from the id index and so
// touches a key it does not declare. The store needs a single-node Redis
// (optionally behind Sentinel) and does not run on Redis Cluster.
type Redis struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedis returns a Redis store. An empty prefix selects "sk:rt:" and a
// non-positive retention selects DefaultRetention.
func NewRedis(rdb *redis.Client, prefix string, retention time.Duration) *Redis {
	if prefix == "" {
		prefix = "sk:rt:"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Redis{rdb: rdb, prefix: prefix, retention: retention}
}

func (r *Redis) rowKey(hash string) string { return r.prefix + hash }
func (r *Redis) idKey(id string) string    { return r.prefix + "id:" + id }

func (r *Redis) ttl(expiresAt, now time.Time) time.Duration {
	left := expiresAt.Sub(now)
	if left < 0 {
		left = 0
	}
	return left + r.retention
}

func (r *Redis) Create(ctx context.Context, token *models.RefreshToken) error {
	keys := []string{r.rowKey(token.TokenHash), r.idKey(token.ID)}
	args := []any{
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt.UnixMilli(),
		token.CreatedAt.UnixMilli(),
		r.ttl(token.ExpiresAt, token.CreatedAt).Milliseconds(),
	}

	n, err := createLua.Run(ctx, r.rdb, keys, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return errDuplicateHash
	}
	return nil
}

func (r *Redis) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	fields, err := r.rdb.HGetAll(ctx, r.rowKey(hash)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, common.ErrorNotFound
	}
	return decodeToken(fields)
}

func (r *Redis) Rotate(ctx context.Context, predecessorID string, successor *models.RefreshToken, now time.Time) error {
	keys := []string{r.idKey(predecessorID), r.rowKey(successor.TokenHash), r.idKey(successor.ID)}
	args := []any{
		r.prefix,
		now.UnixMilli(),
		successor.ID,
		successor.UserID,
		successor.TokenHash,
		successor.ExpiresAt.UnixMilli(),
		r.ttl(successor.ExpiresAt, now).Milliseconds(),
	}

	status, err := rotateLua.Run(ctx, r.rdb, keys, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusConflict:
		return common.ErrTokenConflict
	case rotateStatusDuplicate:
		return errDuplicateHash
	default:
		return fmt.Errorf("unexpected rotate status %d", status)
	}
}

func (r *Redis) RevokeByHash(ctx context.Context, hash string, now time.Time) (bool, error) {
	n, err := revokeLua.Run(ctx, r.rdb, []string{r.rowKey(hash)}, now.UnixMilli()).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func decodeToken(f map[string]string) (*models.RefreshToken, error) {
	expires, err := strconv.ParseInt(f["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt token row: expires_at: %w", err)
	}
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt token row: created_at: %w", err)
	}

	t := &models.RefreshToken{
		ID:        f["id"],
		UserID:    f["user_id"],
		TokenHash: f["token_hash"],
		ExpiresAt: time.UnixMilli(expires).UTC(),
		CreatedAt: time.UnixMilli(created).UTC(),
	}
	if v, ok := f["revoked_at"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt token row: revoked_at: %w", err)
		}
		at := time.UnixMilli(ms).UTC()
		t.RevokedAt = &at
	}
	if v, ok := f["replaced_by"]; ok {
		t.ReplacedByTokenID = &v
	}
	return t, nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}
