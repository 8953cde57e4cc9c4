package warmcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdatagw/internal/errs"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewFromClient(client, Config{CommandTimeout: time.Second, ScanCount: 10, ScanIterationCap: 100})
	return c, mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	v, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestGetMissIsNotAnError(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMGetMSet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.MSet(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute))
	got, err := c.MGet(ctx, []string{"a", "b", "absent"})
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got["a"])
	assert.Equal(t, []byte("2"), got["b"])
	_, ok := got["absent"]
	assert.False(t, ok)
}

func TestDelByPatternUsesScanNotKeys(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "data-mapper:rule:1", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "data-mapper:rule:2", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "data-mapper:best-rule:1", []byte("x"), time.Minute))

	n, err := c.DelByPattern(ctx, "data-mapper:rule:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.False(t, mr.Exists("data-mapper:rule:1"))
	assert.False(t, mr.Exists("data-mapper:rule:2"))
	assert.True(t, mr.Exists("data-mapper:best-rule:1"))
}

func TestHealthCheckReflectsAvailability(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, c.HealthCheck(context.Background()))
	assert.True(t, c.Available())

	mr.Close()
	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.WarmCacheUnavailable, errs.KindOf(err))
	assert.False(t, c.Available())
}

func TestKeyPrefixIsApplied(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewFromClient(client, Config{CommandTimeout: time.Second, KeyPrefix: "gw:"})

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("gw:k"))
}

func TestPublishInvalidation(t *testing.T) {
	c, _ := newTestCache(t)
	err := c.PublishInvalidation(context.Background(), "rulecache:invalidate", []byte(`{"kind":"rule"}`))
	require.NoError(t, err)
}
