package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const redisKeyPrefix = "vision:rl:"

// slidingWindow prunes entries at or before now-window, then adds the new
// entry only when the remaining count is below the limit. Scores are unix
// milliseconds. Returns {count, allowed}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {count + 1, 1}
end
return {count, 0}
`)

// RedisStore keeps one sorted set per key.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedis parses url, connects and pings.
func NewRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Record implements resilience.WindowStore.
func (s *RedisStore) Record(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (int, bool, error) {
	member := now.Format(time.RFC3339Nano) + ":" + uuid.NewString()
	res, err := slidingWindow.Run(ctx, s.rdb, []string{redisKeyPrefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return 0, false, eris.Wrapf(err, "redis: record %s", key)
	}
	if len(res) != 2 {
		return 0, false, eris.Errorf("redis: record %s: unexpected reply %v", key, res)
	}
	return int(res[0]), res[1] == 1, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.rdb.Ping(ctx).Err(), "redis: ping")
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
