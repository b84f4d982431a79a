package refreshtokens

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	refresh_token:<value>        hash with the token fields
//	refresh_tokens:user:<id>     set of token values owned by a user
//	refresh_tokens:expiry        sorted set of token values scored by expiry (ms)
//
// The scripts touch keys derived from ARGV, so this layout targets a single
// Redis node rather than Cluster.
const (
	tokenKeyPrefix = "refresh_token:"
	userKeyPrefix  = "refresh_tokens:user:"
	expiryKey      = "refresh_tokens:expiry"
)

var saveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('duplicate refresh token')
end
redis.call('HSET', KEYS[1], 'id', ARGV[2], 'user_id', ARGV[3], 'expires_at', ARGV[4],
  'created_at', ARGV[5], 'ip_address', ARGV[6], 'user_agent', ARGV[7], 'revoked', '0')
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return 1
`)

var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], 'revoked', '1')
end
return 0
`)

var revokeIfActiveScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'revoked') == '0' then
  redis.call('HSET', KEYS[1], 'revoked', '1')
  return 1
end
return 0
`)

var rotateScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'revoked') ~= '0' then
  return 0
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return redis.error_reply('duplicate refresh token')
end
redis.call('HSET', KEYS[1], 'revoked', '1')
redis.call('HSET', KEYS[2], 'id', ARGV[2], 'user_id', ARGV[3], 'expires_at', ARGV[4],
  'created_at', ARGV[5], 'ip_address', ARGV[6], 'user_agent', ARGV[7], 'revoked', '0')
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
return 1
`)

var revokeAllScript = redis.NewScript(`
local n = 0
for _, tok in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local k = ARGV[1] .. tok
  if redis.call('HGET', k, 'revoked') == '0' then
    redis.call('HSET', k, 'revoked', '1')
    n = n + 1
  end
end
return n
`)

var purgeScript = redis.NewScript(`
local toks = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, tok in ipairs(toks) do
  local k = ARGV[2] .. tok
  local uid = redis.call('HGET', k, 'user_id')
  if uid then
    redis.call('SREM', ARGV[3] .. uid, tok)
  end
  redis.call('DEL', k)
  redis.call('ZREM', KEYS[1], tok)
end
return #toks
`)

// RedisRepository keeps refresh tokens in Redis. Every state change is a
// single Lua script, so the compare-and-set in RevokeIfActive and Rotate is
// atomic with respect to all other clients.
type RedisRepository struct {
	rdb RedisClient
	now func() time.Time
}

// RedisClient is the part of go-redis the store uses. *redis.Client and
// *redis.Ring satisfy it.
type RedisClient interface {
	redis.Scripter
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// NewRedisRepository wraps a go-redis client.
func NewRedisRepository(rdb RedisClient) *RedisRepository {
	return &RedisRepository{rdb: rdb, now: time.Now}
}

func tokenKey(token string) string { return tokenKeyPrefix + token }
func userKey(userID string) string { return userKeyPrefix + userID }

func msString(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func tokenArgs(t *models.RefreshToken) []any {
	return []any{t.Token, t.ID, t.UserID, msString(t.Expires), msString(t.CreatedAt), t.IPAddress, t.UserAgent}
}

func (r *RedisRepository) Save(ctx context.Context, t *models.RefreshToken) (string, error) {
	prepare(t, r.now())

	keys := []string{tokenKey(t.Token), userKey(t.UserID), expiryKey}
	if err := saveScript.Run(ctx, r.rdb, keys, tokenArgs(t)...).Err(); err != nil {
		return "", storeErr(err)
	}
	return t.ID, nil
}

func (r *RedisRepository) FindValidByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	fields, err := r.rdb.HGetAll(ctx, tokenKey(token)).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	if len(fields) == 0 || fields["revoked"] != "0" {
		return nil, common.ErrorNotFound
	}

	expires, err := parseMillis(fields["expires_at"])
	if err != nil {
		return nil, storeErr(err)
	}
	created, err := parseMillis(fields["created_at"])
	if err != nil {
		return nil, storeErr(err)
	}

	return &models.RefreshToken{
		ID:        fields["id"],
		UserID:    fields["user_id"],
		Token:     token,
		Expires:   expires,
		CreatedAt: created,
		IPAddress: fields["ip_address"],
		UserAgent: fields["user_agent"],
	}, nil
}

func (r *RedisRepository) Revoke(ctx context.Context, token string) error {
	if err := revokeScript.Run(ctx, r.rdb, []string{tokenKey(token)}).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *RedisRepository) RevokeIfActive(ctx context.Context, token string) (bool, error) {
	n, err := revokeIfActiveScript.Run(ctx, r.rdb, []string{tokenKey(token)}).Int64()
	if err != nil {
		return false, storeErr(err)
	}
	return n == 1, nil
}

func (r *RedisRepository) Rotate(ctx context.Context, oldToken string, next *models.RefreshToken) (bool, error) {
	prepare(next, r.now())

	keys := []string{tokenKey(oldToken), tokenKey(next.Token), userKey(next.UserID), expiryKey}
	n, err := rotateScript.Run(ctx, r.rdb, keys, tokenArgs(next)...).Int64()
	if err != nil {
		return false, storeErr(err)
	}
	return n == 1, nil
}

func (r *RedisRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := revokeAllScript.Run(ctx, r.rdb, []string{userKey(userID)}, tokenKeyPrefix).Int64()
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

func (r *RedisRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := purgeScript.Run(ctx, r.rdb, []string{expiryKey}, msString(before), tokenKeyPrefix, userKeyPrefix).Int64()
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("corrupt timestamp in refresh token hash")
	}
	return time.UnixMilli(ms), nil
}
