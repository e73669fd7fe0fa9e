package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type snapshot struct {
	Pending int64  `json:"pending"`
	Status  string `json:"status"`
}

func TestInMemoryCache_SetGetExpire(t *testing.T) {
	c := NewInMemoryCache(time.Minute, 0)
	defer c.Stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", snapshot{Pending: 3, Status: "healthy"}, 2))

	var got snapshot
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(3), got.Pending)

	now = now.Add(2 * time.Second)
	hit, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit, "expired entries are misses")

	c.evictExpired()
	assert.Empty(t, c.items)
}

func TestInMemoryCache_Delete(t *testing.T) {
	c := NewInMemoryCache(time.Minute, time.Hour)
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1, 0))
	require.NoError(t, c.Delete(ctx, "k"))

	var v int
	hit, err := c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)

	c.Stop()
	c.Stop() // idempotente
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisCache(client, time.Minute)
	ctx := context.Background()
	key := Key("outbox", "health")

	var got snapshot
	hit, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, key, snapshot{Pending: 7, Status: "degraded"}, 5))
	hit, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "degraded", got.Status)
	assert.Equal(t, 5*time.Second, mr.TTL(key))

	mr.FastForward(6 * time.Second)
	hit, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCache_CorruptEntryIsAMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	key := Key("outbox", "health")
	require.NoError(t, mr.Set(key, "{not json"))

	var got snapshot
	hit, err := NewRedisCache(client, time.Minute).Get(context.Background(), key, &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists(key))
}

func TestAsyncCacheSet(t *testing.T) {
	c := NewInMemoryCache(time.Minute, 0)
	defer c.Stop()

	AsyncCacheSet(c, "k", "v", 0, zap.NewNop())

	assert.Eventually(t, func() bool {
		var v string
		hit, _ := c.Get(context.Background(), "k", &v)
		return hit && v == "v"
	}, time.Second, 10*time.Millisecond)

	AsyncCacheDelete(c, "k", zap.NewNop())
	assert.Eventually(t, func() bool {
		var v string
		hit, _ := c.Get(context.Background(), "k", &v)
		return !hit
	}, time.Second, 10*time.Millisecond)

	AsyncCacheSet(nil, "k", "v", 0, zap.NewNop())
}
