package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Address: mr.Addr(), Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreSetGetDelete(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "grants:s1", []byte("payload"), time.Minute))
	require.True(t, mr.Exists(redisKeyPrefix+"grants:s1"))

	value, ok, err := store.Get(ctx, "grants:s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), value)

	require.NoError(t, store.Delete(ctx, "grants:s1"))
	_, ok, err = store.Get(ctx, "grants:s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(time.Minute + time.Second)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreIncrementWithTTL(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "login:ip", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)

	count, ttl, err = store.IncrementWithTTL(ctx, "login:ip", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Greater(t, ttl, time.Duration(0))

	mr.FastForward(2 * time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "login:ip", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{})
	require.Error(t, err)
}

func TestNewRedisStoreFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(RedisConfig{Address: addr, Timeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestNewRedisStoreFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client)
	t.Cleanup(func() { _ = store.Close() })

	require.Same(t, client, store.Client())
	require.Nil(t, NewRedisStoreFromClient(nil))
}

func TestRedisStorePing(t *testing.T) {
	store, mr := newMiniredisStore(t)
	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	require.Error(t, store.Ping(context.Background()))
}
