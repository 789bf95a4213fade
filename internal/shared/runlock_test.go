package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) (*RunLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRunLock(client), mr
}

func TestRunLockSerialisesRuns(t *testing.T) {
	lock, _ := newTestLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "replenish-cycle", time.Minute)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "replenish-cycle", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))

	release2, err := lock.Acquire(ctx, "replenish-cycle", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestRunLockJobsAreIndependent(t *testing.T) {
	lock, _ := newTestLock(t)
	ctx := context.Background()

	releaseA, err := lock.Acquire(ctx, "replenish-cycle", time.Minute)
	require.NoError(t, err)
	defer func() { _ = releaseA(ctx) }()

	releaseB, err := lock.Acquire(ctx, "overdue-sweep", time.Minute)
	require.NoError(t, err)
	require.NoError(t, releaseB(ctx))
}

func TestRunLockReleaseIgnoresSuccessor(t *testing.T) {
	lock, mr := newTestLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "replenish-cycle", time.Minute)
	require.NoError(t, err)

	// simulate TTL expiry followed by another worker taking the lock
	mr.FastForward(2 * time.Minute)
	_, err = lock.Acquire(ctx, "replenish-cycle", time.Minute)
	require.NoError(t, err)

	// the stale release must not free the successor's lock
	require.NoError(t, release(ctx))
	_, err = lock.Acquire(ctx, "replenish-cycle", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)
}
