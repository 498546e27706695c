package matching

import (
	"context"
	"sync"
	"time"

	"github.com/scribeworks/quill/pkg/redis"
)

// Locker serializes coordinator cycles per request. The database partial
// unique index stays the authoritative guard; the lock only keeps concurrent
// triggers for one request from interleaving.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// KeyedMutex is an in-process Locker. It is the default when Redis is not
// configured and is sufficient for a single instance.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates a new KeyedMutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedMutex) WithLock(ctx context.Context, key string, fn func() error) error {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	return fn()
}

// RedisLocker adapts the distributed Redis locker to the coordinator's
// Locker contract
type RedisLocker struct {
	locker *redis.Locker
	ttl    time.Duration
}

// NewRedisLocker creates a new RedisLocker
func NewRedisLocker(locker *redis.Locker, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		locker: locker,
		ttl:    ttl,
	}
}

func (r *RedisLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	return r.locker.WithLock(ctx, key, r.ttl, fn)
}
