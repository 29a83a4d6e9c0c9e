package locker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LockTypeAccountInvoicePayment serializes invoice and payment processing of one account.
const LockTypeAccountInvoicePayment = "ACCNT_INV_PAY"

var (
	ErrLockNotAcquired = errors.New("lock_not_acquired")
	ErrInvalidLockKey  = errors.New("invalid_lock_key")
)

// Lock is a held named lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out named, process-wide locks.
type Locker interface {
	LockWithNumberOfTries(ctx context.Context, lockType, key string, maxTries int) (Lock, error)
	IsFree(ctx context.Context, lockType, key string) bool
}

// Config controls lock lifetime and retry pacing.
type Config struct {
	TTL           time.Duration
	RetryInterval time.Duration
	Prefix        string
}

func DefaultConfig() Config {
	return Config{
		TTL:           5 * time.Minute,
		RetryInterval: 100 * time.Millisecond,
		Prefix:        "invoicing:lock",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = defaults.TTL
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaults.RetryInterval
	}
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaults.Prefix
	}
	return c
}

func lockName(prefix, lockType, key string) (string, error) {
	if strings.TrimSpace(lockType) == "" || strings.TrimSpace(key) == "" {
		return "", ErrInvalidLockKey
	}
	return prefix + ":" + lockType + ":" + key, nil
}

// acquireWithTries runs try up to maxTries times, pausing interval between attempts.
// try reports false when the lock is held elsewhere.
func acquireWithTries(ctx context.Context, maxTries int, interval time.Duration, try func() (bool, error)) error {
	if maxTries <= 0 {
		maxTries = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxTries-1)),
		ctx,
	)
	return backoff.Retry(func() error {
		ok, err := try()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockNotAcquired
		}
		return nil
	}, policy)
}
