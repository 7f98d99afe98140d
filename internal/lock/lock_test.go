package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_OwnerIDUnique(t *testing.T) {
	_, client := setupTestRedis(t)
	a := NewRedisLock(client, "rebuild", time.Minute)
	b := NewRedisLock(client, "rebuild", time.Minute)
	assert.NotEqual(t, a.OwnerID(), b.OwnerID())
}

func TestRedisLock_SingleHolder(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewRedisLock(client, "rebuild", time.Minute)
	b := NewRedisLock(client, "rebuild", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held lock")

	require.NoError(t, b.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must not free the lock")

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_Expires(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewRedisLock(client, "rebuild", 10*time.Second)
	b := NewRedisLock(client, "rebuild", 10*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_Extend(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewRedisLock(client, "rebuild", 10*time.Second)
	b := NewRedisLock(client, "rebuild", 10*time.Second)

	assert.Error(t, a.Extend(ctx), "extending an unheld lock fails")

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(8 * time.Second)
	require.NoError(t, a.Extend(ctx))
	mr.FastForward(8 * time.Second)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "extended lock must still be held")
	assert.Error(t, b.Extend(ctx))
}

func TestRelease_NotHeld(t *testing.T) {
	_, client := setupTestRedis(t)
	assert.NoError(t, NewRedisLock(client, "rebuild", time.Minute).Release(context.Background()))
}

func TestDial(t *testing.T) {
	mr, _ := setupTestRedis(t)
	ctx := context.Background()

	client, err := Dial(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	client.Close()

	_, err = Dial(ctx, "not a url")
	assert.Error(t, err)
}
