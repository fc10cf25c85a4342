package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "lock:practitioner:7f1c:2025-03-10"

func newTestLocker(t *testing.T, opts LockOptions) (*miniredis.Miniredis, *Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewLocker(client, opts)
}

func TestWithLockHoldsAndReleasesKey(t *testing.T) {
	mr, locker := newTestLocker(t, LockOptions{TTL: time.Second})

	err := locker.WithLock(context.Background(), testKey, func(ctx context.Context) error {
		assert.True(t, mr.Exists(testKey))
		assert.Positive(t, mr.TTL(testKey))
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(testKey))
}

func TestWithLockPropagatesError(t *testing.T) {
	mr, locker := newTestLocker(t, LockOptions{})
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), testKey, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(testKey))
}

func TestWithLockBusyKeyFailsFast(t *testing.T) {
	mr, locker := newTestLocker(t, LockOptions{})
	require.NoError(t, mr.Set(testKey, "someone-else"))

	called := false
	err := locker.WithLock(context.Background(), testKey, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	got, err := mr.Get(testKey)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestWithLockWaitsForRelease(t *testing.T) {
	mr, locker := newTestLocker(t, LockOptions{Wait: 2 * time.Second, RetryInterval: 10 * time.Millisecond})
	require.NoError(t, mr.Set(testKey, "someone-else"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		mr.Del(testKey)
	}()

	called := false
	err := locker.WithLock(context.Background(), testKey, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithLockDoesNotReleaseForeignToken(t *testing.T) {
	mr, locker := newTestLocker(t, LockOptions{})

	err := locker.WithLock(context.Background(), testKey, func(context.Context) error {
		// the lock expired and another holder took it over
		return mr.Set(testKey, "next-holder")
	})
	require.NoError(t, err)

	got, err := mr.Get(testKey)
	require.NoError(t, err)
	assert.Equal(t, "next-holder", got)
}

func TestWithLockCancelledWhileWaiting(t *testing.T) {
	mr, locker := newTestLocker(t, LockOptions{Wait: 5 * time.Second, RetryInterval: 10 * time.Millisecond})
	require.NoError(t, mr.Set(testKey, "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := locker.WithLock(ctx, testKey, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockMutualExclusion(t *testing.T) {
	_, locker := newTestLocker(t, LockOptions{TTL: 5 * time.Second, Wait: 5 * time.Second, RetryInterval: 5 * time.Millisecond})

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), testKey, func(context.Context) error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := NewRedisClient(context.Background(), addr, "", "")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), addr, "", "")
	assert.Error(t, err)
}
