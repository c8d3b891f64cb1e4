package asyncredis

import (
	"context"
	"errors"
	"time"

	"github.com/gomodule/redigo/redis"
)

const writeLockName = "lock"

// Get returns the value stored at key. The second return value is false
// when the key does not exist.
func (c *client) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := redis.String(c.Do(ctx, "GET", key))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return "", false, nil
		}

		return "", false, err
	}

	return value, true, nil
}

// Set stores value at key. A positive ttl sets a millisecond expiry.
func (c *client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	args := []interface{}{key, value}
	if ttl > 0 {
		args = append(args, "PX", ttl.Milliseconds())
	}

	return c.lockedWrite(ctx, func(ctx context.Context) error {
		_, err := c.Do(ctx, "SET", args...)
		return err
	})
}

// Del removes the given keys and returns how many existed.
func (c *client) Del(ctx context.Context, keys ...string) (int, error) {
	return redis.Int(c.Do(ctx, "DEL", stringArgs(keys)...))
}

// Keys returns the keys matching pattern within the namespace.
func (c *client) Keys(ctx context.Context, pattern string) ([]string, error) {
	return redis.Strings(c.Do(ctx, "KEYS", pattern))
}

func (c *client) SAdd(ctx context.Context, key string, members ...interface{}) (n int, err error) {
	err = c.lockedWrite(ctx, func(ctx context.Context) error {
		n, err = redis.Int(c.Do(ctx, "SADD", append([]interface{}{key}, members...)...))
		return err
	})

	return n, err
}

func (c *client) SMembers(ctx context.Context, key string) ([]string, error) {
	return redis.Strings(c.Do(ctx, "SMEMBERS", key))
}

// Publish sends message to channel and returns the number of receivers.
func (c *client) Publish(ctx context.Context, channel string, message interface{}) (int, error) {
	return redis.Int(c.Do(ctx, "PUBLISH", channel, message))
}

func (c *client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, "PING")
	return err
}

// Run a write while holding the namespace's write lock, if enabled.
func (c *client) lockedWrite(ctx context.Context, f func(ctx context.Context) error) error {
	if c.writeLockTTL <= 0 {
		return f(ctx)
	}

	return c.Mutex(writeLockName, c.writeLockTTL).Do(ctx, f)
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, 0, len(values))
	for _, value := range values {
		args = append(args, value)
	}

	return args
}
