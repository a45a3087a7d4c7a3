package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, "lead-1", time.Minute)
	second := NewRedisLock(client, "lead-1", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")

	require.NoError(t, first.Release(ctx))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock is free again after release")
}

func TestRedisLockReleaseOnlyByOwner(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	owner := NewRedisLock(client, "lead-2", time.Minute)
	imposter := NewRedisLock(client, "lead-2", time.Minute)

	ok, err := owner.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A non-owner's release is a no-op: its random ownership value
	// doesn't match, so the Lua script leaves the key alone.
	require.NoError(t, imposter.Release(ctx))

	ok, err = imposter.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "owner's lock must survive a non-owner release")
}

func TestRedisLockDifferentKeysIndependent(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "lead-a", time.Minute)
	b := NewRedisLock(client, "lead-b", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "locks on different keys never contend")
}

func TestNewLockPrefersRedis(t *testing.T) {
	client := newTestRedis(t)
	lock := NewLock(client, nil, "k", time.Minute)
	_, isRedis := lock.(*RedisLock)
	assert.True(t, isRedis)

	fallback := NewLock(nil, nil, "k", time.Minute)
	_, isPG := fallback.(*PGAdvisoryLock)
	assert.True(t, isPG)
}
