package asyncredis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
)

// Mutex is a lock stored under a single namespaced key. Ownership is
// proven by a random token so that an expired holder cannot release or
// extend a lock that has since been taken by someone else.
type Mutex struct {
	client *client
	name   string
	ttl    time.Duration
	mutex  sync.Mutex
	token  string
}

var (
	unlockScript = NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locks created with a non-positive ttl expire after this long.
const defaultLockTTL = time.Second * 30

func newMutex(c *client, name string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &Mutex{
		client: c,
		name:   name,
		ttl:    ttl,
	}
}

// Name returns the key of the lock, without the namespace.
func (m *Mutex) Name() string {
	return m.name
}

// Token returns the ownership token of the held lock, or the empty
// string if the lock is not held.
func (m *Mutex) Token() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.token
}

// TryLock makes a single attempt to take the lock.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.tryLock(ctx)
}

// Lock retries until the lock is taken or ctx ends. The delay between
// attempts follows the client's backoff.
func (m *Mutex) Lock(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	b := m.client.backoffFactory()

	for attempt := 1; ; attempt++ {
		ok, err := m.tryLock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
			}

			return err
		}

		if ok {
			m.client.logger.Debugf("Acquired lock %q after %d attempts", m.name, attempt)
			return nil
		}

		select {
		case <-m.client.clock.After(b.NextInterval()):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		}
	}
}

// Unlock releases the lock if it is still held by this Mutex. When the
// release cannot be confirmed the token is kept so Unlock can be retried.
func (m *Mutex) Unlock(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.token == "" {
		return ErrLockNotHeld
	}

	err := m.checkOwned(m.client.RunScript(ctx, unlockScript, m.name, m.token))
	if err == nil || err == ErrLockNotHeld {
		m.token = ""
	}

	return err
}

// Extend resets the expiry of a held lock to the full ttl.
func (m *Mutex) Extend(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.token == "" {
		return ErrLockNotHeld
	}

	err := m.checkOwned(m.client.RunScript(ctx, extendScript, m.name, m.token, m.ttl.Milliseconds()))
	if err == ErrLockNotHeld {
		m.token = ""
	}

	return err
}

// Do runs f while holding the lock.
func (m *Mutex) Do(ctx context.Context, f func(ctx context.Context) error) (err error) {
	if err := m.Lock(ctx); err != nil {
		return err
	}

	defer func() {
		if unlockErr := m.Unlock(context.Background()); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()

	return f(ctx)
}

//
// Mutex Helper Functions

func (m *Mutex) tryLock(ctx context.Context) (bool, error) {
	token := uuid.NewString()

	reply, err := m.client.Do(ctx, "SET", m.name, token, "NX", "PX", m.ttl.Milliseconds())
	if err != nil {
		return false, err
	}

	if reply == nil {
		return false, nil
	}

	m.token = token
	return true, nil
}

func (m *Mutex) checkOwned(reply interface{}, err error) error {
	n, err := redis.Int(reply, err)
	if err != nil {
		return err
	}

	if n == 0 {
		return ErrLockNotHeld
	}

	return nil
}
