// Package lock provides per-key mutual exclusion for the paid -> delivered
// transition. Redis serves multi-instance deployments; Local serves a single
// process.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/honeynil/saukimart/internal/infrastructure/redis"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
)

type Locker interface {
	// Acquire blocks until the key is held, wait elapses or ctx ends.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (release func(), err error)
}

type Redis struct {
	client redis.RedisClient
}

func NewRedis(client redis.RedisClient) *Redis {
	return &Redis{client: client}
}

func (l *Redis) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	lockKey := "lock:" + key

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = wait

	err := backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return pkgerrors.ErrLockNotAcquired
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		slog.Warn("failed to acquire lock", "key", lockKey, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", pkgerrors.ErrLockNotAcquired, key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released with a fresh context so a cancelled request still frees the key.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := l.client.CompareAndDelete(releaseCtx, lockKey, token); err != nil {
				slog.Error("failed to release lock", "key", lockKey, "error", err)
			}
		})
	}, nil
}

// Local is an in-process keyed mutex. ttl is ignored. A key's slot lives
// only while someone holds or waits for it.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) join(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) leave(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration, wait time.Duration) (func(), error) {
	s := l.join(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		l.leave(key, s)
		return nil, fmt.Errorf("%w: %s: wait elapsed", pkgerrors.ErrLockNotAcquired, key)
	case <-ctx.Done():
		l.leave(key, s)
		return nil, fmt.Errorf("%w: %s: %v", pkgerrors.ErrLockNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.leave(key, s)
		})
	}, nil
}

func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
