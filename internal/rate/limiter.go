package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a fixed-window budget: at most Max hits per Period.
type Window struct {
	Max    int
	Period time.Duration
}

// Enabled reports whether the window limits anything.
func (w Window) Enabled() bool {
	return w.Max > 0 && w.Period > 0
}

// Limiter keeps fixed-window counters in Redis. A nil *Limiter allows
// everything.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a Limiter. Keys are namespaced under prefix.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if redisClient == nil {
		return nil
	}
	if prefix == "" {
		prefix = "auct"
	}
	return &Limiter{redis: redisClient, prefix: prefix}
}

// Key joins parts into a namespaced counter key. Empty tenant ids become "0".
func (l *Limiter) Key(bucket, tenantID string, parts ...string) string {
	if tenantID == "" {
		tenantID = "0"
	}
	var b strings.Builder
	b.WriteString(l.prefix)
	b.WriteByte(':')
	b.WriteString(bucket)
	b.WriteByte(':')
	b.WriteString(tenantID)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// Hit increments key and returns ErrRateLimited when the count exceeds w.Max.
func (l *Limiter) Hit(ctx context.Context, key string, w Window) error {
	if l == nil || !w.Enabled() {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, key, w.Period)
	if err != nil {
		return err
	}
	if count > int64(w.Max) {
		return ErrRateLimited
	}
	return nil
}

// Check returns ErrRateLimited when key has already reached w.Max without
// consuming budget.
func (l *Limiter) Check(ctx context.Context, key string, w Window) error {
	if l == nil || !w.Enabled() {
		return nil
	}
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(w.Max) {
		return ErrRateLimited
	}
	return nil
}

// Count returns the current counter value; missing keys read as zero.
func (l *Limiter) Count(ctx context.Context, key string) (int, error) {
	if l == nil {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, key).Int64()
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

// Reset deletes the given counters.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if l == nil || len(keys) == 0 {
		return nil
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: TTL is set only on the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
