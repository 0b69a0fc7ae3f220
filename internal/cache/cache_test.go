package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopNeverHitsAndAlwaysAcquires(t *testing.T) {
	ctx := context.Background()
	var c JSONCache = Noop{}

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	var dest map[string]int
	found, err := c.Get(ctx, "k", &dest)
	require.NoError(t, err)
	assert.False(t, found)

	for range 3 {
		ok, err := c.Acquire(ctx, PaymentQueryKey("pay_1"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestRedisRoundTripAndAcquire(t *testing.T) {
	addr := os.Getenv("SMARTDUKA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set SMARTDUKA_TEST_REDIS_ADDR to run redis cache test")
	}
	ctx := context.Background()
	c := NewRedis(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	key := "smartduka:test:" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	type payload struct {
		Shops int `json:"shops"`
	}
	require.NoError(t, c.Set(ctx, key, payload{Shops: 7}, time.Minute))
	var got payload
	found, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 7, got.Shops)

	lock := key + ":lock"
	t.Cleanup(func() { _ = c.Delete(ctx, lock) })
	first, err := c.Acquire(ctx, lock, time.Minute)
	require.NoError(t, err)
	second, err := c.Acquire(ctx, lock, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}
