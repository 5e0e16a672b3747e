package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "pool:blitz_standard_ASIA", "instance1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	// Second holder must not acquire the same pool.
	lock2, err := manager.AcquireLock(ctx, "pool:blitz_standard_ASIA", "instance2", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.Nil(t, lock2)

	require.NoError(t, lock.Release(ctx))

	// Released lock is acquirable again.
	lock3, err := manager.AcquireLock(ctx, "pool:blitz_standard_ASIA", "instance2", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock3)
}

func TestRedisLock_ReleaseOnlyOwn(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "pool:p1", "instance1", 5*time.Second)
	require.NoError(t, err)

	// Simulate another holder replacing the value after our TTL lapsed.
	require.NoError(t, client.Set(ctx, "pool:p1", "instance2", 0).Err())

	err = lock.Release(ctx)
	assert.ErrorIs(t, err, ErrLockNotHeld)
}

func TestRedisLock_Extend(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "pool:p1", "instance1", time.Second)
	require.NoError(t, err)

	require.NoError(t, lock.Extend(ctx, 10*time.Second))

	held, err := lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLock_TryLockWithRetry(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client)
	ctx := context.Background()

	_, err := manager.AcquireLock(ctx, "pool:p1", "instance1", time.Minute)
	require.NoError(t, err)

	_, err = manager.TryLockWithRetry(ctx, "pool:p1", "instance2", time.Minute, 3, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}
