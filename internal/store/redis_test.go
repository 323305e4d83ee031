package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_EnforcesLimit(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		count, allowed, err := s.Record(ctx, "ip:1.2.3.4", now.Add(time.Duration(i)*time.Millisecond), time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, count)
	}

	count, allowed, err := s.Record(ctx, "ip:1.2.3.4", now.Add(10*time.Millisecond), time.Minute, 3)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, count)
}

func TestRedisStore_WindowSlides(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, allowed, err := s.Record(ctx, "device:d1", now, time.Second, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	_, allowed, err = s.Record(ctx, "device:d1", now.Add(500*time.Millisecond), time.Second, 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	count, allowed, err := s.Record(ctx, "device:d1", now.Add(time.Second), time.Second, 1)
	require.NoError(t, err)
	assert.True(t, allowed, "entry at exactly now-window is outside the window")
	assert.Equal(t, 1, count)
}

func TestRedisStore_KeysArePrefixedAndExpire(t *testing.T) {
	s, mr := newTestRedis(t)
	_, _, err := s.Record(context.Background(), "credential:abc", time.Now(), time.Minute, 5)
	require.NoError(t, err)

	assert.True(t, mr.Exists("vision:rl:credential:abc"))
	assert.Equal(t, time.Minute, mr.TTL("vision:rl:credential:abc"))
}

func TestRedisStore_ErrorWhenDown(t *testing.T) {
	s, mr := newTestRedis(t)
	mr.Close()

	_, _, err := s.Record(context.Background(), "ip:x", time.Now(), time.Minute, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: record")
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-url://")
	require.Error(t, err)
}

func TestNewRedis_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}
