// Package redis keeps refresh tokens in Redis.
//
// Every token is a hash expiring natively at its expires_at, users have a set
// of their token values to support revoke-all. All mutations are Lua scripts,
// so they are atomic against concurrent callers of any instance.
// Scripts touch keys built from prefixes, so a single node (not cluster) is expected.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

const defaultPrefix = "authcore"

// Keeps user index alive at least as long as its longest living token.
// expires and now are unix millis.
const extendIndexLua = `
local function extend_index(index_key, expires, now)
  local ttl = redis.call("PTTL", index_key)
  if ttl < 0 or now + ttl < expires then
    redis.call("PEXPIREAT", index_key, expires)
  end
end
`

// KEYS: token key, user index key
// ARGV: id, user_id, token, created_at, updated_at, expires_at, revoked, now
var createLua = goredis.NewScript(extendIndexLua + `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1], "user_id", ARGV[2], "token", ARGV[3],
  "created_at", ARGV[4], "updated_at", ARGV[5], "expires_at", ARGV[6], "revoked", ARGV[7])
redis.call("PEXPIREAT", KEYS[1], ARGV[6])
redis.call("SADD", KEYS[2], ARGV[3])
extend_index(KEYS[2], tonumber(ARGV[6]), tonumber(ARGV[8]))
return 1
`)

// KEYS: token key
// ARGV: now
var revokeLua = goredis.NewScript(`
if redis.call("HGET", KEYS[1], "revoked") == "0" then
  redis.call("HSET", KEYS[1], "revoked", "1", "updated_at", ARGV[1])
  return 1
end
return 0
`)

// KEYS: user index key
// ARGV: now, token key prefix
var revokeAllLua = goredis.NewScript(`
local count = 0
for _, token in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[2] .. token
  if redis.call("HGET", key, "revoked") == "0" then
    redis.call("HSET", key, "revoked", "1", "updated_at", ARGV[1])
    count = count + 1
  end
end
return count
`)

const (
	rotateOK = iota
	rotateNotFound
	rotateRevoked
	rotateExpired
	rotateExists
)

// KEYS: old token key, next token key
// ARGV: now, next id, next token, next expires_at, user index key prefix
var rotateLua = goredis.NewScript(extendIndexLua + `
local old = redis.call("HMGET", KEYS[1], "revoked", "expires_at", "user_id")
if not old[1] then
  return {1}
end
if old[1] == "1" then
  return {2}
end
if tonumber(old[2]) <= tonumber(ARGV[1]) then
  return {3}
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return {4}
end

redis.call("HSET", KEYS[1], "revoked", "1", "updated_at", ARGV[1])
redis.call("HSET", KEYS[2],
  "id", ARGV[2], "user_id", old[3], "token", ARGV[3],
  "created_at", ARGV[1], "updated_at", ARGV[1], "expires_at", ARGV[4], "revoked", "0")
redis.call("PEXPIREAT", KEYS[2], ARGV[4])

local index_key = ARGV[5] .. old[3]
redis.call("SADD", index_key, ARGV[3])
extend_index(index_key, tonumber(ARGV[4]), tonumber(ARGV[1]))
return {0, old[3]}
`)

// KEYS: user index key
// ARGV: before, token key prefix
var pruneLua = goredis.NewScript(`
local removed = 0
for _, token in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[2] .. token
  local expires = redis.call("HGET", key, "expires_at")
  if not expires then
    redis.call("SREM", KEYS[1], token)
    removed = removed + 1
  elseif tonumber(expires) <= tonumber(ARGV[1]) then
    redis.call("DEL", key)
    redis.call("SREM", KEYS[1], token)
    removed = removed + 1
  end
end
if redis.call("SCARD", KEYS[1]) == 0 then
  redis.call("DEL", KEYS[1])
end
return removed
`)

type RefreshTokenRepo struct {
	rdb    goredis.UniversalClient
	prefix string
}

func NewRefreshTokenRepo(rdb goredis.UniversalClient, prefix string) *RefreshTokenRepo {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RefreshTokenRepo{rdb: rdb, prefix: prefix}
}

func (r *RefreshTokenRepo) tokenPrefix() string { return r.prefix + ":rt:" }
func (r *RefreshTokenRepo) userPrefix() string  { return r.prefix + ":rtu:" }

func (r *RefreshTokenRepo) tokenKey(token string) string {
	return r.tokenPrefix() + token
}

func (r *RefreshTokenRepo) userKey(userID uuid.UUID) string {
	return r.userPrefix() + userID.String()
}

func (r *RefreshTokenRepo) Create(ctx context.Context, t models.RefreshToken) (models.RefreshToken, error) {
	created, err := createLua.Run(ctx, r.rdb,
		[]string{r.tokenKey(t.Token), r.userKey(t.UserID)},
		t.ID.String(), t.UserID.String(), t.Token,
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(), t.ExpiresAt.UnixMilli(), boolFlag(t.IsRevoked),
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}
	if created == 0 {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	}

	return truncate(t), nil
}

// Get token
// Redis drops hashes at expires_at, so expired tokens are usually reported as not found
func (r *RefreshTokenRepo) Get(ctx context.Context, token string) (models.RefreshToken, error) {
	fields, err := r.rdb.HGetAll(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}
	if len(fields) == 0 {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	t, err := parseToken(fields)
	if err != nil {
		return t, fmt.Errorf("redis error: corrupted token record: %w", err)
	}
	return t, nil
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, token string, at time.Time) error {
	err := revokeLua.Run(ctx, r.rdb, []string{r.tokenKey(token)}, at.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	count, err := revokeAllLua.Run(ctx, r.rdb, []string{r.userKey(userID)}, at.UnixMilli(), r.tokenPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return count, nil
}

// Rotate revokes the old token and saves the next one in one script.
// next.UserID is ignored, the owner of the old token is used.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, token string, next models.RefreshToken, now time.Time) (models.RefreshToken, error) {
	res, err := rotateLua.Run(ctx, r.rdb,
		[]string{r.tokenKey(token), r.tokenKey(next.Token)},
		now.UnixMilli(), next.ID.String(), next.Token, next.ExpiresAt.UnixMilli(), r.userPrefix(),
	).Slice()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}

	status, _ := res[0].(int64)
	switch status {
	case rotateOK:
	case rotateNotFound:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case rotateRevoked:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrTokenRevoked)
	case rotateExpired:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrExpiredToken)
	case rotateExists:
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	default:
		return models.RefreshToken{}, fmt.Errorf("redis error: unexpected rotate status %v", res[0])
	}

	owner, _ := res[1].(string)
	userID, err := uuid.Parse(owner)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: corrupted owner %q: %w", owner, err)
	}

	return truncate(models.RefreshToken{
		ID:        next.ID,
		UserID:    userID,
		Token:     next.Token,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: next.ExpiresAt,
	}), nil
}

// DeleteExpired removes tokens expired before 'before' and prunes user indexes
// from tokens already dropped by Redis itself. Returns number of pruned tokens.
func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	iter := r.rdb.Scan(ctx, 0, r.userPrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		removed, err := pruneLua.Run(ctx, r.rdb, []string{iter.Val()}, before.UnixMilli(), r.tokenPrefix()).Int64()
		if err != nil {
			return total, fmt.Errorf("redis error: %w", err)
		}
		total += removed
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("redis error: %w", err)
	}

	return total, nil
}

func parseToken(fields map[string]string) (models.RefreshToken, error) {
	var (
		t    models.RefreshToken
		errs []error
	)

	parseMillis := func(name string) time.Time {
		ms, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", name, err))
		}
		return time.UnixMilli(ms)
	}
	parseUUID := func(name string) uuid.UUID {
		id, err := uuid.Parse(fields[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", name, err))
		}
		return id
	}

	t.ID = parseUUID("id")
	t.UserID = parseUUID("user_id")
	t.Token = fields["token"]
	t.CreatedAt = parseMillis("created_at")
	t.UpdatedAt = parseMillis("updated_at")
	t.ExpiresAt = parseMillis("expires_at")
	t.IsRevoked = fields["revoked"] == "1"

	return t, errors.Join(errs...)
}

// Redis keeps time in unix millis
func truncate(t models.RefreshToken) models.RefreshToken {
	t.CreatedAt = time.UnixMilli(t.CreatedAt.UnixMilli())
	t.UpdatedAt = time.UnixMilli(t.UpdatedAt.UnixMilli())
	t.ExpiresAt = time.UnixMilli(t.ExpiresAt.UnixMilli())
	return t
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
