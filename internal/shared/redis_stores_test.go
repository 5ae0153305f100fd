package shared

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenStoreLifecycle(t *testing.T) {
	mr, client := newRedis(t)
	store := NewTokenStore(client, time.Hour)
	ctx := context.Background()

	_, err := store.Issue(ctx, Actor{ID: 0, Role: "viewer"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	token, err := store.Issue(ctx, Actor{ID: 7, Role: "warehouse"})
	require.NoError(t, err)
	actor, err := store.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, Actor{ID: 7, Role: "warehouse"}, actor)

	_, err = store.Lookup(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = store.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnauthorized)

	mr.FastForward(2 * time.Hour)
	_, err = store.Lookup(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	token, err = store.Issue(ctx, Actor{ID: 7, Role: "warehouse"})
	require.NoError(t, err)
	require.NoError(t, store.Revoke(ctx, token))
	_, err = store.Lookup(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, BearerToken(r))
	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(r))
	r.Header.Set("Authorization", "bearer  abc ")
	assert.Equal(t, "abc", BearerToken(r))
}

func TestIdempotencyStoreClaimsOnce(t *testing.T) {
	mr, client := newRedis(t)
	store := NewIdempotencyStore(client, time.Minute)
	ctx := context.Background()
	key := "6f1c2c1e-3a0b-4b8e-9d5e-2f7a1f0c9b11"

	require.NoError(t, store.CheckAndInsert(ctx, key, "stock.transfer"))
	assert.ErrorIs(t, store.CheckAndInsert(ctx, key, "stock.transfer"), ErrDuplicateRequest)
	require.NoError(t, store.CheckAndInsert(ctx, key, "delivery.create"), "keys are scoped per module")

	require.NoError(t, store.Delete(ctx, key, "stock.transfer"))
	require.NoError(t, store.CheckAndInsert(ctx, key, "stock.transfer"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.CheckAndInsert(ctx, key, "delivery.create"))

	assert.Error(t, store.CheckAndInsert(ctx, "", "stock.transfer"))
	var nilStore *IdempotencyStore
	assert.Error(t, nilStore.CheckAndInsert(ctx, key, "stock.transfer"))
}

func TestValidateIdempotencyKey(t *testing.T) {
	assert.NoError(t, ValidateIdempotencyKey(""))
	assert.NoError(t, ValidateIdempotencyKey("6f1c2c1e-3a0b-4b8e-9d5e-2f7a1f0c9b11"))
	assert.ErrorIs(t, ValidateIdempotencyKey("order-42"), ErrInvalidRequest)
}
