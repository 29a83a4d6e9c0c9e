package locker

import (
	"context"
	"sync"
)

// MemoryLocker is a single-process Locker used when no Redis endpoint is configured.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
	cfg  Config
}

func NewMemoryLocker(cfg Config) *MemoryLocker {
	return &MemoryLocker{
		held: map[string]struct{}{},
		cfg:  cfg.withDefaults(),
	}
}

func (l *MemoryLocker) LockWithNumberOfTries(ctx context.Context, lockType, key string, maxTries int) (Lock, error) {
	name, err := lockName(l.cfg.Prefix, lockType, key)
	if err != nil {
		return nil, err
	}
	err = acquireWithTries(ctx, maxTries, l.cfg.RetryInterval, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.held[name]; ok {
			return false, nil
		}
		l.held[name] = struct{}{}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &memoryLock{locker: l, name: name}, nil
}

func (l *MemoryLocker) IsFree(_ context.Context, lockType, key string) bool {
	name, err := lockName(l.cfg.Prefix, lockType, key)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.held[name]
	return !held
}

type memoryLock struct {
	locker *MemoryLocker
	name   string
	once   sync.Once
}

func (m *memoryLock) Release(context.Context) error {
	m.once.Do(func() {
		m.locker.mu.Lock()
		delete(m.locker.held, m.name)
		m.locker.mu.Unlock()
	})
	return nil
}
