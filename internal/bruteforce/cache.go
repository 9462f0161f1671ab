package bruteforce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheUnavailable indicates the counter cache backend is unreachable.
	ErrCacheUnavailable = errors.New("counter cache unavailable")
	// ErrRateLimited indicates a fixed-window budget was exhausted.
	ErrRateLimited = errors.New("rate limited")
)

// Cache is a Redis-backed fixed-window failure counter used to front
// the attempt store. Counters expire with their window; a missing key
// reads as zero and never reveals account existence.
//
// Key prefixes:
//   - bf:id: — login failures per identifier
//   - bf:ip: — login failures per IP
//   - bf:v:  — verification attempts (MFA codes)
type Cache struct {
	redis redis.UniversalClient
}

// NewCache creates a [Cache] backed by the given Redis client.
func NewCache(redisClient redis.UniversalClient) *Cache {
	return &Cache{redis: redisClient}
}

func identifierKey(identifier string) string { return "bf:id:" + identifier }
func ipKey(ip string) string                 { return "bf:ip:" + ip }
func verifyKey(key string) string            { return "bf:v:" + key }

// RecordFailure increments the identifier and IP counters inside their
// respective windows. Successes are not recorded here; prior failures
// stay visible until their window lapses.
func (c *Cache) RecordFailure(ctx context.Context, identifier, ip string, identifierWindow, ipWindow time.Duration) error {
	if identifier != "" {
		if _, err := c.incrementWithTTL(ctx, identifierKey(identifier), identifierWindow); err != nil {
			return err
		}
	}
	if ip != "" {
		if _, err := c.incrementWithTTL(ctx, ipKey(ip), ipWindow); err != nil {
			return err
		}
	}
	return nil
}

// Failures returns the cached identifier and IP failure counts.
func (c *Cache) Failures(ctx context.Context, identifier, ip string) (int, int, error) {
	identifierCount, err := c.getCount(ctx, identifierKey(identifier))
	if err != nil {
		return 0, 0, err
	}
	ipCount, err := c.getCount(ctx, ipKey(ip))
	if err != nil {
		return 0, 0, err
	}
	return identifierCount, ipCount, nil
}

// Hit consumes one unit of the fixed-window budget named by key.
// Returns [ErrRateLimited] once the window holds more than limit hits.
func (c *Cache) Hit(ctx context.Context, key string, window time.Duration, limit int) error {
	count, err := c.incrementWithTTL(ctx, verifyKey(key), window)
	if err != nil {
		return err
	}
	if count > int64(limit) {
		return ErrRateLimited
	}
	return nil
}

func (c *Cache) getCount(ctx context.Context, key string) (int, error) {
	count, err := c.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (c *Cache) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := c.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}

	return count, nil
}
