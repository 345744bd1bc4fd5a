package cache

import (
	"context"
	"testing"
	"time"

	"flowsentinel/backend/internal/validation"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVerdict(valid bool) validation.Verdict {
	v := validation.Verdict{
		Valid:        valid,
		Errors:       []validation.Issue{},
		Warnings:     []validation.Issue{},
		Suggestions:  []string{},
		PassedLayers: []validation.LayerName{validation.LayerStructural},
		Statistics:   validation.Statistics{NodeCount: 2, ConnectionCount: 1},
	}
	if !valid {
		v.Errors = []validation.Issue{{
			Kind: validation.SchemaError, Layer: validation.LayerTypeExistence, Node: "Webhook",
			Message: "node type \"webhook\" is missing its package namespace",
		}}
		v.FailedLayer = validation.LayerTypeExistence
	}
	return v
}

// runCacheContract checks the behaviour every Cache implementation shares.
func runCacheContract(t *testing.T, c Cache) {
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		_, ok, err := c.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put then get", func(t *testing.T) {
		want := sampleVerdict(false)
		require.NoError(t, c.Put(ctx, "k1", want))

		got, ok, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("last writer wins", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "k2", sampleVerdict(false)))
		require.NoError(t, c.Put(ctx, "k2", sampleVerdict(true)))

		got, ok, err := c.Get(ctx, "k2")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, got.Valid)
	})

	t.Run("invalidate drops everything", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "k3", sampleVerdict(true)))
		require.NoError(t, c.Invalidate(ctx))

		for _, k := range []string{"k1", "k2", "k3"} {
			_, ok, err := c.Get(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok, k)
		}

		require.NoError(t, c.Put(ctx, "k4", sampleVerdict(true)))
		_, ok, err := c.Get(ctx, "k4")
		require.NoError(t, err)
		assert.True(t, ok, "entries written after invalidation are visible")
	})
}

func TestMemoryCache(t *testing.T) {
	runCacheContract(t, NewMemoryCache(0))
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, "k", sampleVerdict(true)))
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	c, err := NewRedisCache(&redis.Options{Addr: mr.Addr()}, "sentinel-test", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCache(t *testing.T) {
	c, _ := setupRedisCache(t)
	require.NoError(t, c.Ping(context.Background()))
	runCacheContract(t, c)
}

func TestRedisCache_GenerationAndTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	require.NoError(t, c.Put(ctx, "k", sampleVerdict(true)))
	assert.True(t, mr.Exists("sentinel-test:g0:verdict:k"))
	assert.Equal(t, time.Hour, mr.TTL("sentinel-test:g0:verdict:k"))

	require.NoError(t, c.Invalidate(ctx))
	gen, err := mr.Get("sentinel-test:generation")
	require.NoError(t, err)
	assert.Equal(t, "1", gen)

	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists("sentinel-test:g0:verdict:k"), "orphaned entries expire")
}

func TestRedisCache_SharedBetweenClients(t *testing.T) {
	ctx := context.Background()
	a, mr := setupRedisCache(t)
	b, err := NewRedisCache(&redis.Options{Addr: mr.Addr()}, "sentinel-test", time.Hour)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Put(ctx, "k", sampleVerdict(true)))
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Invalidate(ctx))
	_, ok, err = a.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "invalidation by one instance is seen by all")
}

func TestRedisCache_Unreachable(t *testing.T) {
	c, mr := setupRedisCache(t)
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewRedisCache_RequiresPrefix(t *testing.T) {
	_, err := NewRedisCache(&redis.Options{Addr: "localhost:0"}, "", time.Hour)
	assert.Error(t, err)
}
