// Package cache is a best-effort layer over the shared key-value
// store. The relational store stays the source of truth: entries may
// be evicted or never populated without correctness loss.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mail-service/internal/observability"
)

// Values larger than this are gzip-compressed before storage. The
// compressed form carries a leading zero byte, which serialized JSON
// never starts with, so reads stay transparent to callers.
const compressThreshold = 4096

const (
	tagPrefix = "cachetag:"

	// Slack added to tag index expiries over their members'.
	tagIndexSlack = time.Minute
)

// setIfGreater keeps a numeric key monotonically non-decreasing even
// under concurrent writers on different processes.
var setIfGreater = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]))
local val = tonumber(ARGV[1])
if cur and cur >= val then
    return cur
end
if tonumber(ARGV[2]) > 0 then
    redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
else
    redis.call("SET", KEYS[1], ARGV[1])
end
return val
`)

// Cache wraps a redis client with serialization, transparent
// compression and tag bookkeeping.
type Cache struct {
	rdb *redis.Client
	log *zap.Logger
}

// New builds a Cache.
func New(rdb *redis.Client, log *zap.Logger) *Cache {
	return &Cache{rdb: rdb, log: log}
}

// Set stores a value under key with the given ttl. Tags associate the
// key with one or more invalidation groups.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	payload, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	for _, tag := range tags {
		tagKey := tagPrefix + tag
		pipe.SAdd(ctx, tagKey, key)
		if ttl > 0 {
			// Keep the tag index alive at least as long as its
			// longest-lived member, with slack for clock skew, so
			// stale members do not accumulate without bound.
			pipe.ExpireNX(ctx, tagKey, ttl+tagIndexSlack)
			pipe.ExpireGT(ctx, tagKey, ttl+tagIndexSlack)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Get loads the value stored under key into dest. It reports whether
// the key was present.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.IncCacheMiss()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %q: %w", key, err)
	}
	if err := decode(payload, dest); err != nil {
		return false, fmt.Errorf("decode cache value %q: %w", key, err)
	}
	observability.IncCacheHit()
	return true, nil
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// InvalidateByTags removes every key associated with any of the given
// tags, plus the tag indices themselves, in a single pipelined batch
// so a concurrent reader never observes a half-invalidated window for
// long. It returns the number of keys removed.
func (c *Cache) InvalidateByTags(ctx context.Context, tags ...string) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	tagKeys := make([]string, len(tags))
	for i, tag := range tags {
		tagKeys[i] = tagPrefix + tag
	}

	keys, err := c.rdb.SUnion(ctx, tagKeys...).Result()
	if err != nil {
		return 0, fmt.Errorf("resolve tags: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	del := pipe.Del(ctx, append(keys, tagKeys...)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("invalidate tags: %w", err)
	}
	return del.Val(), nil
}

// Increment atomically adds amount to the counter at key. A positive
// ttl is applied only when the key has no expiry yet, so repeated
// increments within the window share one deadline.
func (c *Cache) Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, amount)
	if ttl > 0 {
		pipe.ExpireNX(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cache increment %q: %w", key, err)
	}
	return incr.Val(), nil
}

// Decrement atomically subtracts amount from the counter at key.
func (c *Cache) Decrement(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	return c.Increment(ctx, key, -amount, ttl)
}

// SetIfGreater stores value under key only if it exceeds the current
// value, returning whichever is larger. Used for monotonic pointers
// like the per-channel last-read watermark.
func (c *Cache) SetIfGreater(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	res, err := setIfGreater.Run(ctx, c.rdb, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("cache set-if-greater %q: %w", key, err)
	}
	return res, nil
}

func encode(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if len(raw) < compressThreshold {
		return raw, nil
	}

	var buf bytes.Buffer
	buf.WriteByte(0x00)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(payload []byte, dest any) error {
	if len(payload) > 0 && payload[0] == 0x00 {
		zr, err := gzip.NewReader(bytes.NewReader(payload[1:]))
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(zr)
		if err != nil {
			return err
		}
		if err := zr.Close(); err != nil {
			return err
		}
		payload = raw
	}
	if dest == nil {
		return nil
	}
	return json.Unmarshal(payload, dest)
}
