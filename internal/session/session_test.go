package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBinder(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBinder(time.Hour)

	_, ok := b.Lookup(ctx, "sess-1")
	assert.False(t, ok)

	require.NoError(t, b.Bind(ctx, "sess-1", "jane:abc"))

	key, ok := b.Lookup(ctx, "sess-1")
	require.True(t, ok)
	assert.Equal(t, "jane:abc", key)
}

func TestMemoryBinderExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBinder(30 * time.Millisecond)

	require.NoError(t, b.Bind(ctx, "sess-1", "jane:abc"))
	time.Sleep(80 * time.Millisecond)

	_, ok := b.Lookup(ctx, "sess-1")
	assert.False(t, ok)
}

func TestMemoryBinderRebindRefreshes(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBinder(time.Hour)

	require.NoError(t, b.Bind(ctx, "sess-1", "jane:old"))
	require.NoError(t, b.Bind(ctx, "sess-1", "jane:new"))

	key, ok := b.Lookup(ctx, "sess-1")
	require.True(t, ok)
	assert.Equal(t, "jane:new", key)
}

func setupRedisBinder(t *testing.T, ttl time.Duration) (*RedisBinder, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b, err := NewRedisBinder("redis://"+mr.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return b, mr
}

func TestRedisBinder(t *testing.T) {
	ctx := context.Background()
	b, _ := setupRedisBinder(t, time.Hour)

	_, ok := b.Lookup(ctx, "sess-1")
	assert.False(t, ok)

	require.NoError(t, b.Bind(ctx, "sess-1", "jane:abc"))

	key, ok := b.Lookup(ctx, "sess-1")
	require.True(t, ok)
	assert.Equal(t, "jane:abc", key)
}

func TestRedisBinderExpiry(t *testing.T) {
	ctx := context.Background()
	b, mr := setupRedisBinder(t, time.Hour)

	require.NoError(t, b.Bind(ctx, "sess-1", "jane:abc"))

	mr.FastForward(2 * time.Hour)

	_, ok := b.Lookup(ctx, "sess-1")
	assert.False(t, ok)
}

func TestRedisBinderRebindRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	b, mr := setupRedisBinder(t, time.Hour)

	require.NoError(t, b.Bind(ctx, "sess-1", "jane:abc"))
	mr.FastForward(45 * time.Minute)
	require.NoError(t, b.Bind(ctx, "sess-1", "jane:abc"))
	mr.FastForward(45 * time.Minute)

	// The rebind reset the clock, so the binding is still alive.
	key, ok := b.Lookup(ctx, "sess-1")
	require.True(t, ok)
	assert.Equal(t, "jane:abc", key)
}

func TestNewRedisBinderBadURL(t *testing.T) {
	_, err := NewRedisBinder("not-a-url", time.Hour)
	assert.Error(t, err)
}
