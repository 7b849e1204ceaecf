package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDeliveryCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })

	cache := NewRedisDeliveryCache(client, "", time.Minute)
	ctx := context.Background()

	seen, err := cache.Seen(ctx, "order-1", "d-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, cache.Remember(ctx, "order-1", "d-1"))

	seen, err = cache.Seen(ctx, "order-1", "d-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = cache.Seen(ctx, "order-2", "d-1")
	require.NoError(t, err)
	assert.False(t, seen)

	assert.True(t, mr.Exists("saga:delivery:order-1:d-1"))
	assert.Equal(t, time.Minute, mr.TTL("saga:delivery:order-1:d-1"))

	mr.FastForward(2 * time.Minute)
	seen, err = cache.Seen(ctx, "order-1", "d-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisDeliveryCache_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	cache := NewRedisDeliveryCache(client, "orders", 0)

	_, err := cache.Seen(context.Background(), "order-1", "d-1")
	assert.Error(t, err)
	assert.Error(t, cache.Remember(context.Background(), "order-1", "d-1"))
	assert.Equal(t, defaultDeliveryTTL, cache.ttl)
}
