package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cfg := DefaultRedisConfig()
	cfg.TTL = time.Minute

	c := NewRedisCacheFromClient(client, cfg, nil)
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestRedisCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newMiniredisCache(t)

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)

	c.Set(ctx, "k1", result("d1", "d2"))
	got, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []string{"d1", "d2"}, got.DocumentIDs)
	assert.False(t, got.HadError)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestRedisCache_TTLApplied(t *testing.T) {
	ctx := context.Background()
	c, srv := newMiniredisCache(t)

	c.Set(ctx, "k1", result("d1"))

	srv.FastForward(2 * time.Minute)
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestRedisCache_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c, _ := newMiniredisCache(t)

	c.Set(ctx, "k1", result("a"))
	c.Set(ctx, "k2", result("b"))

	c.Delete(ctx, "k1")
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)

	c.Clear(ctx)
	_, ok = c.Get(ctx, "k2")
	assert.False(t, ok)
}

func TestRedisCache_KeyPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	c, srv := newMiniredisCache(t)

	// A foreign key outside the prefix must survive Clear.
	require.NoError(t, srv.Set("other:key", "value"))

	c.Set(ctx, "k1", result("a"))
	c.Clear(ctx)

	assert.True(t, srv.Exists("other:key"))
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, srv := newMiniredisCache(t)

	require.NoError(t, srv.Set(c.config.KeyPrefix+"k1", "{not json"))

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestRedisCache_ErrorDegradesToMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(client, DefaultRedisConfig(), nil)

	mock.ExpectGet(c.config.KeyPrefix + "k1").SetErr(assert.AnError)

	_, ok := c.Get(context.Background(), "k1")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisConfig_Validate(t *testing.T) {
	cfg := DefaultRedisConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultRedisConfig()
	bad.Host = ""
	assert.Error(t, bad.Validate())

	bad = DefaultRedisConfig()
	bad.Port = -1
	assert.Error(t, bad.Validate())

	bad = DefaultRedisConfig()
	bad.TTL = 0
	assert.Error(t, bad.Validate())

	bad = DefaultRedisConfig()
	bad.SentinelEnabled = true
	assert.Error(t, bad.Validate())

	bad = DefaultRedisConfig()
	bad.SentinelEnabled = true
	bad.SentinelAddrs = []string{"localhost:26379"}
	bad.ClusterEnabled = true
	assert.Error(t, bad.Validate())
}
