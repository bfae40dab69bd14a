package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when the stampede lock for a key could
// not be acquired within the retry budget.
var ErrLockTimeout = errors.New("cache: lock acquisition timed out")

const (
	lockPrefix       = "cachelock:"
	lockMaxAttempts  = 32
	lockRetryBase    = 50 * time.Millisecond
	lockRetryJitter  = 50 * time.Millisecond
	lockWaitMultiple = 2
)

var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Factory computes a value on cache miss.
type Factory func(ctx context.Context) (any, error)

// Remember returns the cached value for key, computing and storing it
// via factory on a miss. Factory failures propagate and are never
// cached. Cache failures degrade to a direct factory call.
func (c *Cache) Remember(ctx context.Context, key string, ttl time.Duration, dest any, factory Factory, tags ...string) error {
	found, err := c.Get(ctx, key, dest)
	if err != nil {
		c.log.Warn("cache read failed, computing directly", zap.String("key", key), zap.Error(err))
	}
	if found {
		return nil
	}

	value, err := factory(ctx)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, value, ttl, tags...); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return assign(value, dest)
}

// RememberWithLock is the stampede-safe variant of Remember. Under N
// concurrent callers for an uncached key the factory runs effectively
// once: one caller holds a short-lived named lock while computing, the
// rest re-check the cache and retry. The retry loop carries both an
// attempt cap and a deadline derived from lockTTL, so sustained
// contention surfaces ErrLockTimeout instead of looping forever.
func (c *Cache) RememberWithLock(ctx context.Context, key string, ttl, lockTTL time.Duration, dest any, factory Factory) error {
	lockKey := lockPrefix + key
	token := lockToken()
	deadline := time.Now().Add(lockWaitMultiple * lockTTL)

	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		found, err := c.Get(ctx, key, dest)
		if err != nil {
			c.log.Warn("cache read failed, computing directly", zap.String("key", key), zap.Error(err))
			return c.computeInto(ctx, dest, factory)
		}
		if found {
			return nil
		}

		acquired, err := c.rdb.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			c.log.Warn("lock acquire failed, computing directly", zap.String("key", key), zap.Error(err))
			return c.computeInto(ctx, dest, factory)
		}

		if acquired {
			value, ferr := factory(ctx)
			if ferr != nil {
				c.release(ctx, lockKey, token)
				return ferr
			}
			if serr := c.Set(ctx, key, value, ttl); serr != nil {
				c.log.Warn("cache write failed", zap.String("key", key), zap.Error(serr))
			}
			c.release(ctx, lockKey, token)
			return assign(value, dest)
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		if err := sleepJittered(ctx); err != nil {
			return err
		}
	}
	return ErrLockTimeout
}

func (c *Cache) computeInto(ctx context.Context, dest any, factory Factory) error {
	value, err := factory(ctx)
	if err != nil {
		return err
	}
	return assign(value, dest)
}

func (c *Cache) release(ctx context.Context, lockKey, token string) {
	if err := releaseLock.Run(ctx, c.rdb, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("lock release failed", zap.String("lock", lockKey), zap.Error(err))
	}
}

// assign copies a factory result into dest through JSON so hits and
// misses hand callers identically-shaped values.
func assign(value, dest any) error {
	if dest == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func lockToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

func sleepJittered(ctx context.Context) error {
	jitter, err := rand.Int(rand.Reader, big.NewInt(int64(lockRetryJitter)))
	if err != nil {
		jitter = big.NewInt(0)
	}
	timer := time.NewTimer(lockRetryBase + time.Duration(jitter.Int64()))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
