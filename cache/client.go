// Package cache implements the read-through cache used by catalog-style
// lookups: a penetration-resistant strategy that caches confirmed absence
// as a tombstone, and a logical-expiry strategy for pre-warmed hot keys
// that must never block a caller on a rebuild.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"flashsale/repository"
)

// ErrNotFound reports that the value is absent from cache and backing
// store alike. Distinct from transport errors.
var ErrNotFound = errors.New("cache: value not found")

// tombstoneTTL bounds how long a confirmed "does not exist" fact is
// believed before the backing store is asked again.
const (
	tombstoneTTL   = 2 * time.Minute
	rebuildTimeout = 5 * time.Second
	rebuildLockTTL = 10 * time.Second
)

// envelope wraps a logical-expiry entry. The Redis key itself never
// expires; staleness is judged against ExpireTime.
type envelope struct {
	Data       json.RawMessage `json:"data"`
	ExpireTime time.Time       `json:"expireTime"`
}

type Client struct {
	rdb *redis.Client
	log zerolog.Logger
}

func New(rdb *redis.Client, log zerolog.Logger) *Client {
	return &Client{rdb: rdb, log: log.With().Str("component", "cache").Logger()}
}

// Set stores a JSON-serialized value with a jittered TTL so entries
// written together do not all expire together.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, data, jitter(ttl)).Err()
}

// SetWithLogicalExpire stores a value that never physically expires,
// carrying its staleness deadline inside the payload. Used to warm keys
// served by GetWithLogicalExpire.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	payload, err := json.Marshal(envelope{Data: data, ExpireTime: time.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, payload, 0).Err()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// GetWithPassThrough reads through the cache with penetration protection:
// when the fallback confirms the key does not exist, an empty tombstone is
// cached so repeated lookups for the same missing key stop reaching the
// backing store.
func GetWithPassThrough[T any](ctx context.Context, c *Client, key string,
	ttl time.Duration, fallback func(context.Context) (*T, error)) (*T, error) {

	raw, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		if raw == "" {
			// Tombstone hit: confirmed absent, skip the fallback.
			return nil, ErrNotFound
		}
		var value T
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("cache get %s: %w", key, err)
		}
		return &value, nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	value, err := fallback(ctx)
	if err != nil {
		return nil, err
	}
	if value == nil {
		if err := c.rdb.Set(ctx, key, "", tombstoneTTL).Err(); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("failed to write tombstone")
		}
		return nil, ErrNotFound
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to populate cache")
	}
	return value, nil
}

// GetWithLogicalExpire serves pre-warmed hot keys without ever blocking a
// caller on a rebuild. A stale entry is returned as-is while one winner of
// the per-key lock race refreshes it in the background. A true miss means
// the key was never warmed and is reported as absent.
func GetWithLogicalExpire[T any](ctx context.Context, c *Client, key string,
	ttl time.Duration, fallback func(context.Context) (*T, error)) (*T, error) {

	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil || (err == nil && raw == "") {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	var value T
	if err := json.Unmarshal(env.Data, &value); err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if time.Now().Before(env.ExpireTime) {
		return &value, nil
	}

	// Stale. Whoever wins the lock rebuilds; everyone else keeps serving
	// the stale value.
	lock := repository.NewRedisLock(c.rdb, "cache:"+key)
	ok, err := lock.TryLock(ctx, rebuildLockTTL)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("rebuild lock failed")
		return &value, nil
	}
	if ok {
		go c.rebuild(key, ttl, lock, func(ctx context.Context) (any, error) {
			v, err := fallback(ctx)
			if v == nil {
				return nil, err
			}
			return v, err
		})
	}
	return &value, nil
}

func (c *Client) rebuild(key string, ttl time.Duration, lock *repository.RedisLock,
	fallback func(context.Context) (any, error)) {

	ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
	defer cancel()
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("rebuild unlock failed")
		}
	}()

	// Double check: another worker may have refreshed the key between the
	// staleness read and our lock acquisition.
	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil && raw != "" {
		var env envelope
		if json.Unmarshal([]byte(raw), &env) == nil && time.Now().Before(env.ExpireTime) {
			return
		}
	}

	value, err := fallback(ctx)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("cache rebuild failed")
		return
	}
	if value == nil {
		c.log.Warn().Str("key", key).Msg("cache rebuild found no backing value")
		return
	}
	if err := c.SetWithLogicalExpire(ctx, key, value, ttl); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("cache rebuild write failed")
	}
}

// jitter stretches a TTL by up to 10% so synchronized writes cannot cause
// synchronized mass expiry.
func jitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	return ttl + rand.N(ttl/10+1)
}
