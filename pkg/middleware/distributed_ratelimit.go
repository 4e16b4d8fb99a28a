package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRateLimitPrefix = "roomdesk:ratelimit"

// DistributedRateLimiter keeps the fixed-window counters in Redis so every
// replica sees the same count for a client.
type DistributedRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed limiter. Keys are stored as
// "<prefix>:<key>".
func NewDistributedRateLimiter(client *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = LoginRateLimitConfig()
	}
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &DistributedRateLimiter{
		client: client,
		limit:  config.RequestsPerWindow,
		window: config.WindowDuration,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return rl.prefix + ":" + key
}

// Allow implements Limiter. INCR and PTTL run in one MULTI; a counter without
// an expiry (new, or left behind by a failed PEXPIRE) gets the full window.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := rl.key(key)

	var hits *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, k)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count request: %w", err)
	}

	left := ttl.Val()
	if left <= 0 {
		if err := rl.client.PExpire(ctx, k, rl.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("failed to open rate limit window: %w", err)
		}
		left = rl.window
	}

	return Decision{Allowed: hits.Val() <= int64(rl.limit), RetryAfter: left}, nil
}

// Remaining reports how many requests key may still make in its window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	hits, err := rl.client.Get(ctx, rl.key(key)).Int()
	if errors.Is(err, redis.Nil) {
		return rl.limit, nil
	}
	if err != nil {
		return 0, err
	}
	return max(rl.limit-hits, 0), nil
}

// Reset clears key's window
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, rl.key(key)).Err()
}
