package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	rc, err := NewRedisCacheWithConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestNewRedisCacheWithConfigValidates(t *testing.T) {
	_, err := NewRedisCacheWithConfig(nil)
	require.Error(t, err)

	_, err = NewRedisCacheWithConfig(&RedisConfig{})
	require.Error(t, err)
}

func TestRedisCacheMissingHashIsEmpty(t *testing.T) {
	rc, _ := newTestRedisCache(t)

	all, err := rc.HGetAll(context.Background(), "absent")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisCacheExpire(t *testing.T) {
	rc, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, rc.HMSet(ctx, "k", map[string]interface{}{"f": "v"}))
	require.NoError(t, rc.Expire(ctx, "k", time.Minute))
	mr.FastForward(2 * time.Minute)

	all, err := rc.HGetAll(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisCacheHashRoundTrip(t *testing.T) {
	rc, _ := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, rc.HMSet(ctx, "h", map[string]interface{}{"a": "1", "b": "2"}))
	require.NoError(t, rc.HMSet(ctx, "h", nil))

	all, err := rc.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)

	require.NoError(t, rc.Del(ctx, "h"))
	all, err = rc.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEmbeddedCache(t *testing.T) {
	ec, err := NewEmbeddedCache()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ec.Ping(ctx))
	require.NoError(t, ec.HMSet(ctx, "k", map[string]interface{}{"f": "v"}))
	all, err := ec.HGetAll(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f": "v"}, all)
	require.NoError(t, ec.Close())
}
