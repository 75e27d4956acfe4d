package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func exercise(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "sched-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "sched-1")
	require.NoError(t, err)
	assert.False(t, ok, "same key must not be acquired twice")

	other, ok, err := l.TryAcquire(ctx, "sched-2")
	require.NoError(t, err)
	require.True(t, ok, "distinct keys are independent")
	other()

	release()

	again, ok, err := l.TryAcquire(ctx, "sched-1")
	require.NoError(t, err)
	require.True(t, ok)
	again()
}

func TestLocal(t *testing.T) {
	exercise(t, NewLocal())
}

func TestLocalReleaseTwice(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	first, ok, _ := l.TryAcquire(ctx, "k")
	require.True(t, ok)
	first()

	second, ok, _ := l.TryAcquire(ctx, "k")
	require.True(t, ok)

	first()

	_, ok, _ = l.TryAcquire(ctx, "k")
	assert.False(t, ok, "a stale release must not free a lock held by someone else")
	second()
}

func newRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Redis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return srv, NewRedis(client, ttl, zaptest.NewLogger(t))
}

func TestRedis(t *testing.T) {
	_, l := newRedis(t, time.Minute)
	exercise(t, l)
}

func TestRedisRenewsHeldLock(t *testing.T) {
	srv, l := newRedis(t, 300*time.Millisecond)
	key := keyPrefix + "sched-1"

	release, ok, err := l.TryAcquire(context.Background(), "sched-1")
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool {
		return srv.TTL(key) > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond, "held lock must be renewed")

	srv.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool {
		return srv.TTL(key) > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, srv.Exists(key), "renewed lock outlives its original ttl")

	release()
	release()
	assert.False(t, srv.Exists(key))
}

func TestRedisDoesNotRenewForeignToken(t *testing.T) {
	srv, l := newRedis(t, 300*time.Millisecond)
	key := keyPrefix + "sched-1"

	release, ok, err := l.TryAcquire(context.Background(), "sched-1")
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	require.NoError(t, srv.Set(key, "someone-else"))
	srv.SetTTL(key, 50*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.LessOrEqual(t, srv.TTL(key), 50*time.Millisecond)

	release()
	assert.True(t, srv.Exists(key), "release must not delete a foreign token")
}

func TestRedisExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	srv, l := newRedis(t, time.Minute)
	ctx := context.Background()

	stale, ok, err := l.TryAcquire(ctx, "sched-1")
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(2 * time.Minute)

	fresh, ok, err := l.TryAcquire(ctx, "sched-1")
	require.NoError(t, err)
	require.True(t, ok, "expired lock must be acquirable")

	stale()
	assert.True(t, srv.Exists(keyPrefix+"sched-1"), "old holder must not delete the new token")

	fresh()
	assert.False(t, srv.Exists(keyPrefix+"sched-1"))
}

func TestDialRedisRejectsBadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "://nope")
	require.Error(t, err)
}
