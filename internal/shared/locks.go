package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises work on a single key. The returned unlock func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// InvoiceLockKey builds the lock key guarding balance/status writes of one invoice.
func InvoiceLockKey(invoiceID uuid.UUID) string {
	return fmt.Sprintf("buildledger:invoice:%s:lock", invoiceID)
}

// KeyedMutex is an in-process Locker. Waiters give up when their context ends.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &keyedEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				m.release(key, entry)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, entry)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) release(key string, entry *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, key)
	}
}

// ErrLockNotAcquired is returned when a Redis lock could not be taken before the context ended.
var ErrLockNotAcquired = errors.New("lock not acquired")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a lease-based Locker shared by every process talking to the same Redis.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker constructs a RedisLocker with the given lease.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

// Lock polls SET NX until the lease is taken or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, Transient("acquire lock", fmt.Errorf("%w: %v", ErrLockNotAcquired, ctxErr))
			}
			return nil, Transient("acquire lock", err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release with a fresh context so a cancelled request still frees the lease.
					releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
				})
			}, nil
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, Transient("acquire lock", fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err()))
		case <-timer.C:
		}
	}
}
