package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is one fixed-window budget: at most Max hits per Duration.
// A zero Max disables the window.
type Window struct {
	Max      int
	Duration time.Duration
}

// Enabled reports whether the window limits anything.
func (w Window) Enabled() bool {
	return w.Max > 0 && w.Duration > 0
}

// Limiter counts hits in Redis fixed windows.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a rate [Limiter] backed by the given Redis client. All keys
// are placed under prefix.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Hit records one hit on key and returns ErrRateLimited once the window's
// budget is exceeded. The returned duration is the time until the window resets.
func (l *Limiter) Hit(ctx context.Context, key string, w Window) (time.Duration, error) {
	if l == nil || !w.Enabled() {
		return 0, nil
	}

	fullKey := l.prefix + key
	count, err := l.redis.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, fullKey, w.Duration).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(w.Max) {
		ttl, err := l.redis.TTL(ctx, fullKey).Result()
		if err != nil || ttl < 0 {
			ttl = w.Duration
		}
		return ttl, ErrRateLimited
	}

	return 0, nil
}

// Count returns the current hit count for key. Missing keys return zero.
func (l *Limiter) Count(ctx context.Context, key string) (int, error) {
	if l == nil {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.prefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset clears the counters for keys.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if l == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = l.prefix + k
	}
	if err := l.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
