package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestRedisDeliveryLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("second acquire fails until release", func(t *testing.T) {
		mr, rc := newTestRedis(t)
		locker := NewRedisDeliveryLocker(rc, "test", time.Minute)

		release, err := locker.Acquire(ctx, 7)
		require.NoError(t, err)
		assert.True(t, mr.Exists("test:broadcast:7:materialize:lock"))

		_, err = locker.Acquire(ctx, 7)
		assert.ErrorIs(t, err, errLockHeld)

		other, err := locker.Acquire(ctx, 8)
		require.NoError(t, err)
		other()

		release()
		assert.False(t, mr.Exists("test:broadcast:7:materialize:lock"))

		release, err = locker.Acquire(ctx, 7)
		require.NoError(t, err)
		release()
	})

	t.Run("release does not delete a lock owned by someone else", func(t *testing.T) {
		mr, rc := newTestRedis(t)
		locker := NewRedisDeliveryLocker(rc, "", time.Second)

		release, err := locker.Acquire(ctx, 3)
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)
		require.NoError(t, mr.Set("broadcast:3:materialize:lock", "someone-else"))

		release()
		got, err := mr.Get("broadcast:3:materialize:lock")
		require.NoError(t, err)
		assert.Equal(t, "someone-else", got)
	})

	t.Run("redis failure surfaces as error", func(t *testing.T) {
		mr, rc := newTestRedis(t)
		locker := NewRedisDeliveryLocker(rc, "", time.Minute)
		mr.Close()

		_, err := locker.Acquire(ctx, 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, errLockHeld)
	})
}

func TestNoopDeliveryLocker(t *testing.T) {
	release, err := NoopDeliveryLocker{}.Acquire(context.Background(), 1)
	require.NoError(t, err)
	release()
}
