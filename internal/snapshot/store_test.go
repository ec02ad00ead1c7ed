package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "gw-b", []byte(`{"b":1}`), time.Minute))
	require.NoError(t, s.Put(ctx, "gw-a", []byte(`{"a":1}`), 0))

	data, err := s.Get(ctx, "gw-b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":1}`, string(data))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gw-a", "gw-b"}, ids)

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "gw-b")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gw-a"}, ids, "entries without ttl never expire")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Close())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte("original")
	require.NoError(t, s.Put(ctx, "gw", buf, 0))
	buf[0] = 'X'

	data, err := s.Get(ctx, "gw")
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{
		Address: mr.Addr(),
		Prefix:  "test:snap:",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr := newMiniredisStore(t)

	require.NoError(t, store.Put(ctx, "gw-1", []byte(`{"ok":true}`), 30*time.Second))
	require.NoError(t, store.Put(ctx, "gw-2", []byte(`{}`), 0))

	assert.True(t, mr.Exists("test:snap:gw-1"))
	assert.Equal(t, 30*time.Second, mr.TTL("test:snap:gw-1"))
	assert.Zero(t, mr.TTL("test:snap:gw-2"))

	data, err := store.Get(ctx, "gw-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gw-1", "gw-2"}, ids)

	mr.FastForward(31 * time.Second)
	_, err = store.Get(ctx, "gw-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_IgnoresForeignKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr := newMiniredisStore(t)
	require.NoError(t, mr.Set("other:key", "x"))
	require.NoError(t, store.Put(ctx, "gw", []byte("{}"), 0))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gw"}, ids)
}

func TestNewRedisStore_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(context.Background(), RedisConfig{}, nil)
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(context.Background(), RedisConfig{Address: addr, DialTimeout: 200 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisStore_ConnectionLost(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := NewRedisStoreFromClient(client, "")
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Put(context.Background(), "gw", []byte("{}"), 0))
	assert.True(t, mr.Exists(DefaultRedisPrefix+"gw"))

	mr.Close()
	assert.Error(t, store.Put(context.Background(), "gw", []byte("{}"), 0))
	_, err = store.Get(context.Background(), "gw")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
