// Package lock serializes mutating workflow operations on one reservation.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/admissions/core"
)

// DefaultTTL bounds how long a crashed holder can keep a reservation locked.
const DefaultTTL = 2 * time.Minute

const keyPrefix = "admissions:lock:"

// Memory is a process-local core.Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ core.Locker = (*Memory)(nil) // interface compliance check

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (l *Memory) Obtain(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, core.ErrLocked
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Redis is a core.Locker shared by every instance of the service.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	logger core.Logger
}

var _ core.Locker = (*Redis)(nil) // interface compliance check

func NewRedis(rdb *redis.Client, ttl time.Duration, logger core.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: redislock.New(rdb), ttl: ttl, logger: logger}
}

func (l *Redis) Obtain(ctx context.Context, key string) (func(), error) {
	lk, err := l.client.Obtain(ctx, keyPrefix+key, l.ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, errors.Wrap(core.ErrLocked, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "obtaining lock %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the operation context may be gone already
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lk.Release(ctx); err != nil && err != redislock.ErrLockNotHeld {
				l.logger.Error("releasing lock "+key, err)
			}
		})
	}, nil
}
