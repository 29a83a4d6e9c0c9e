package locker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const lockExtendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// RedisLocker implements Locker with SET NX tokens so only the owner can release. A held lock
// has its TTL extended every third of the TTL until it is released or taken over.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
	extend *redis.Script
	cfg    Config
}

func NewRedisLocker(client *redis.Client, cfg Config) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock client not configured")
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		extend: redis.NewScript(lockExtendScript),
		cfg:    cfg.withDefaults(),
	}, nil
}

func (l *RedisLocker) LockWithNumberOfTries(ctx context.Context, lockType, key string, maxTries int) (Lock, error) {
	name, err := lockName(l.cfg.Prefix, lockType, key)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	err = acquireWithTries(ctx, maxTries, l.cfg.RetryInterval, func() (bool, error) {
		return l.client.SetNX(ctx, name, token, l.cfg.TTL).Result()
	})
	if err != nil {
		return nil, err
	}

	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lock := &redisLock{locker: l, name: name, token: token, cancel: cancel, done: make(chan struct{})}
	go lock.keepAlive(renewCtx, l.cfg.TTL/3)
	return lock, nil
}

func (l *RedisLocker) IsFree(ctx context.Context, lockType, key string) bool {
	name, err := lockName(l.cfg.Prefix, lockType, key)
	if err != nil {
		return false
	}
	n, err := l.client.Exists(ctx, name).Result()
	if err != nil {
		return false
	}
	return n == 0
}

type redisLock struct {
	locker *RedisLocker
	name   string
	token  string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (r *redisLock) keepAlive(ctx context.Context, every time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := r.extend(ctx)
			if err == nil && !held {
				return
			}
		}
	}
}

// extend pushes the expiry of the lock one TTL ahead. It reports false once the key no longer
// carries this lock's token.
func (r *redisLock) extend(ctx context.Context) (bool, error) {
	n, err := r.locker.extend.Run(ctx, r.locker.client, []string{r.name}, r.token, r.locker.cfg.TTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *redisLock) Release(ctx context.Context) error {
	r.once.Do(func() {
		r.cancel()
		<-r.done
	})
	return r.locker.script.Run(ctx, r.locker.client, []string{r.name}, r.token).Err()
}
