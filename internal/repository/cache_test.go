package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

func TestRedisCartStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis (set REDIS_TEST_ADDR)")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisCartStore(client, time.Minute, logging.NewNop())
	require.NoError(t, store.Ping(ctx))

	sid := uuid.NewString()
	lines, err := store.Load(ctx, sid)
	require.NoError(t, err)
	assert.Nil(t, lines)

	want := []models.CartLine{{ProductID: "1", Quantity: 2}, {ProductID: "7", Quantity: 1}}
	require.NoError(t, store.Save(ctx, sid, want))

	got, err := store.Load(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ttl, err := client.TTL(ctx, cartKeyPrefix+sid).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	require.NoError(t, store.Delete(ctx, sid))
	got, err = store.Load(ctx, sid)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewRedisCartStore_DefaultTTL(t *testing.T) {
	store := NewRedisCartStore(nil, 0, logging.NewNop())
	assert.Equal(t, defaultCartTTL, store.ttl)
}
