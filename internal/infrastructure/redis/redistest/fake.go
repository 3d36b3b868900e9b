// Package redistest provides an in-memory RedisClient for tests.
package redistest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/honeynil/saukimart/internal/infrastructure/redis"
)

type entry struct {
	value     string
	expiresAt time.Time
}

type Fake struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

var _ redis.RedisClient = (*Fake)(nil)

func New() *Fake {
	return &Fake{data: make(map[string]entry), now: time.Now}
}

func (f *Fake) live(key string) (entry, bool) {
	e, ok := f.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !f.now().Before(e.expiresAt) {
		delete(f.data, key)
		return entry{}, false
	}
	return e, true
}

func (f *Fake) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return f.now().Add(ttl)
}

// Has reports whether key currently holds a value.
func (f *Fake) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.live(key)
	return ok
}

func (f *Fake) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.live(key)
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return e.value, nil
}

func (f *Fake) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = entry{value: fmt.Sprint(value), expiresAt: f.expiry(expiration)}
	return nil
}

func (f *Fake) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live(key); ok {
		return false, nil
	}
	f.data[key] = entry{value: fmt.Sprint(value), expiresAt: f.expiry(expiration)}
	return true, nil
}

func (f *Fake) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *Fake) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.live(key)
	var n int64
	if ok {
		if _, err := fmt.Sscan(e.value, &n); err != nil {
			return 0, err
		}
	} else {
		e.expiresAt = f.expiry(window)
	}
	n++
	e.value = fmt.Sprint(n)
	f.data[key] = e
	return n, nil
}

func (f *Fake) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.live(key)
	if !ok || e.value != expected {
		return false, nil
	}
	delete(f.data, key)
	return true, nil
}

func (f *Fake) Close() error { return nil }
