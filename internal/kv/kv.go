package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slidecast/internal/config"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps connection-level failures so callers can treat
// the store being down differently from a missing key.
var ErrStoreUnavailable = errors.New("kv store unavailable")

// Client is a thin typed facade over the shared Redis/Valkey instance. All
// queue, state and flag keys in the system go through it. A nil value inside
// methods means the caller skipped construction; that is a programming error
// and surfaces as ErrStoreUnavailable.
type Client struct {
	rdb *redis.Client
}

// New connects to the store described by cfg and verifies the connection
// with a ping.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &Client{rdb: rdb}, nil
}

// NewWithClient wraps an existing redis client. Used by tests (miniredis)
// and by components sharing one connection pool.
func NewWithClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Get returns the string value at key, or ok=false when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes key=value. A zero ttl means no expiry.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetEx writes key=value with a mandatory expiry.
func (c *Client) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("setex %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Del removes keys; missing keys are not an error.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Expire refreshes the TTL on key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	return d, nil
}

// LPush prepends values to the list at key. Paired with BRPop this gives
// FIFO dispatch.
func (c *Client) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := c.rdb.LPush(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// RPush appends values to the tail of the list at key.
func (c *Client) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := c.rdb.RPush(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// BRPop blocks up to timeout waiting for the oldest element of the list at
// key and returns ok=false when nothing arrived in time.
func (c *Client) BRPop(ctx context.Context, timeout time.Duration, key string) (string, bool, error) {
	res, err := c.rdb.BRPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("brpop %s: %w", key, err)
	}
	// res is [key, value]
	if len(res) != 2 {
		return "", false, fmt.Errorf("brpop %s: unexpected reply %v", key, res)
	}
	return res[1], true, nil
}

// LRem removes count occurrences of value from the list at key and returns
// how many were removed.
func (c *Client) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	n, err := c.rdb.LRem(ctx, key, count, value).Result()
	if err != nil {
		return 0, fmt.Errorf("lrem %s: %w", key, err)
	}
	return n, nil
}

// LLen returns the length of the list at key.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

// LRange returns list elements in [start, stop].
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vals, nil
}

// Scan iterates keys matching pattern with cursor-based SCAN, invoking fn
// for each key. fn returning false stops the iteration.
func (c *Client) Scan(ctx context.Context, pattern string, fn func(key string) bool) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, k := range keys {
			if !fn(k) {
				return nil
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Keys returns all keys matching pattern. Prefer Scan in hot paths; Keys is
// for tooling on small keyspaces.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := c.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", pattern, err)
	}
	return keys, nil
}

// Watch runs fn inside an optimistic WATCH/MULTI/EXEC transaction over keys.
// fn receives the watched redis.Tx; a concurrent write to any key makes the
// transaction fail with redis.TxFailedErr.
func (c *Client) Watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	return c.rdb.Watch(ctx, fn, keys...)
}

// IsTxFailed reports whether err is the optimistic-lock conflict error.
func IsTxFailed(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.rdb.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
