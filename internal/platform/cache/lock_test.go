package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, ttl), mr
}

func TestLockerExclusive(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "consol:a:2024-12:balance_sheet:lock")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "consol:a:2024-12:balance_sheet:lock")
	require.True(t, errors.Is(err, shared.ErrLocked), "expected ErrLocked, got %v", err)

	require.NoError(t, release(ctx))

	again, err := locker.Acquire(ctx, "consol:a:2024-12:balance_sheet:lock")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLockerExpires(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "fx:lock")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	release, err := locker.Acquire(ctx, "fx:lock")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestReleaseDoesNotDropForeignLock(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "rounding:lock")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = locker.Acquire(ctx, "rounding:lock")
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	require.True(t, mr.Exists("rounding:lock"))
}

func TestWithLockNilLockerRuns(t *testing.T) {
	called := false
	err := shared.WithLock(context.Background(), nil, "k", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
}
