package locker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisLocker(client, Config{TTL: time.Minute, RetryInterval: time.Millisecond})
	require.NoError(t, err)
	return l, mr
}

func TestRedisLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLocker(t)

	lock, err := l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "42", 1)
	require.NoError(t, err)
	assert.False(t, l.IsFree(ctx, LockTypeAccountInvoicePayment, "42"))
	assert.True(t, l.IsFree(ctx, LockTypeAccountInvoicePayment, "43"))

	_, err = l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "42", 3)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.True(t, l.IsFree(ctx, LockTypeAccountInvoicePayment, "42"))

	again, err := l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "42", 1)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLockerReleaseChecksOwnership(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLocker(t)

	lock, err := l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "7", 1)
	require.NoError(t, err)

	// lock expired and was taken by another owner
	mr.FastForward(2 * time.Minute)
	other, err := l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "7", 1)
	require.NoError(t, err)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, l.IsFree(ctx, LockTypeAccountInvoicePayment, "7"))
	require.NoError(t, other.Release(ctx))
}

func TestRedisLockerSucceedsWhenReleasedBetweenTries(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLocker(t)

	held, err := l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "9", 1)
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = held.Release(ctx)
	}()

	lock, err := l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "9", 1000)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker(Config{RetryInterval: time.Millisecond})

	lock, err := l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "1", 1)
	require.NoError(t, err)

	_, err = l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "1", 2)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))
	assert.True(t, l.IsFree(ctx, LockTypeAccountInvoicePayment, "1"))
}

func TestLockerRejectsEmptyKey(t *testing.T) {
	l := NewMemoryLocker(Config{})
	_, err := l.LockWithNumberOfTries(context.Background(), LockTypeAccountInvoicePayment, "", 1)
	assert.ErrorIs(t, err, ErrInvalidLockKey)
}

func TestRedisLockerKeepsHeldLockAlive(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l, err := NewRedisLocker(client, Config{TTL: 300 * time.Millisecond, RetryInterval: time.Millisecond})
	require.NoError(t, err)

	lock, err := l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "11", 1)
	require.NoError(t, err)
	name := "invoicing:lock:" + LockTypeAccountInvoicePayment + ":11"

	// a pass running past the initial TTL keeps the lock
	for range 3 {
		mr.FastForward(250 * time.Millisecond)
		require.Eventually(t, func() bool {
			return mr.TTL(name) > 250*time.Millisecond
		}, 2*time.Second, 10*time.Millisecond)
		assert.False(t, l.IsFree(ctx, LockTypeAccountInvoicePayment, "11"))
	}

	require.NoError(t, lock.Release(ctx))
	assert.True(t, l.IsFree(ctx, LockTypeAccountInvoicePayment, "11"))
	require.NoError(t, lock.Release(ctx))
}

func TestRedisLockStopsExtendingAfterTakeover(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLocker(t)

	lock, err := l.LockWithNumberOfTries(ctx, LockTypeAccountInvoicePayment, "12", 1)
	require.NoError(t, err)
	held := lock.(*redisLock)

	ok, err := held.extend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mr.Set(held.name, "someone-else"))
	ok, err = held.extend(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))
	got, err := mr.Get(held.name)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
