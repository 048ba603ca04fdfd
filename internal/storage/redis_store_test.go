package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniredis creates a new miniredis server and returns a store connected to it
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisStoreFromClient(client, "driver:")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr, store := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Set(ctx, KeySettings, []byte(`{"voice_enabled":true}`)))

	assert.True(t, mr.Exists("driver:settings"))
	raw, err := mr.Get("driver:settings")
	require.NoError(t, err)
	assert.Equal(t, `{"voice_enabled":true}`, raw)

	got, err := store.Get(ctx, KeySettings)
	require.NoError(t, err)
	assert.Equal(t, `{"voice_enabled":true}`, string(got))
}

func TestRedisStoreMissingKey(t *testing.T) {
	_, store := setupMiniredis(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreServerDown(t *testing.T) {
	mr, store := setupMiniredis(t)
	mr.Close()

	err := store.Set(context.Background(), KeyDriver, []byte(`{}`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
