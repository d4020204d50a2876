package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledCacheIsNoop(t *testing.T) {
	ctx := context.Background()

	for _, c := range []*Cache{nil, New(nil)} {
		assert.False(t, c.Enabled())
		require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))

		var dest map[string]int
		hit, err := c.Get(ctx, "k", &dest)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Nil(t, dest)

		assert.NoError(t, c.Delete(ctx, "k"))
	}
}

func TestDisabledCacheAllowsEverything(t *testing.T) {
	c := New(nil)
	for i := 0; i < 10; i++ {
		ok, count, err := c.Allow(context.Background(), "login:127.0.0.1", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, count)
	}
}

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestCacheRoundTrip(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	require.True(t, c.Enabled())

	type report struct {
		Total int `json:"total"`
	}
	require.NoError(t, c.Set(ctx, "dashboard", report{Total: 7}, time.Minute))
	assert.True(t, mr.Exists(KeyPrefix+"dashboard"))
	assert.Equal(t, time.Minute, mr.TTL(KeyPrefix+"dashboard"))

	var got report
	hit, err := c.Get(ctx, "dashboard", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 7, got.Total)

	require.NoError(t, c.Delete(ctx, "dashboard"))
	hit, err = c.Get(ctx, "dashboard", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestAllowFixedWindow(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		ok, count, err := c.Allow(ctx, "login:10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, count)
	}

	ok, count, err := c.Allow(ctx, "login:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(4), count)
	assert.Equal(t, time.Minute, mr.TTL(RateLimitPrefix+"login:10.0.0.1"))

	// Other keys have their own window.
	ok, _, err = c.Allow(ctx, "login:10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(time.Minute)
	ok, count, err = c.Allow(ctx, "login:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), count)
}

func TestAllowRepairsCounterWithoutTTL(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	// A counter left behind by an EXPIRE that never ran.
	key := RateLimitPrefix + "login:10.0.0.3"
	require.NoError(t, mr.Set(key, "9"))
	require.Zero(t, mr.TTL(key))

	ok, count, err := c.Allow(ctx, "login:10.0.0.3", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(10), count)
	assert.Equal(t, time.Minute, mr.TTL(key))

	ok, _, err = c.Allow(ctx, "login:10.0.0.3", 10, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute)
	ok, count, err = c.Allow(ctx, "login:10.0.0.3", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), count)
}

func TestAllowFailsOpenWhenRedisIsDown(t *testing.T) {
	c, mr := newRedisCache(t)
	mr.Close()

	ok, _, err := c.Allow(context.Background(), "login:10.0.0.4", 1, time.Minute)
	assert.Error(t, err)
	assert.True(t, ok)
}
