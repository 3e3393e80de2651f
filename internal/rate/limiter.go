package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	Prefix      string
	Window      time.Duration
	MaxRequests int
}

// Limiter enforces a per-identity request budget using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client. Zero config fields
// take defaults: prefix "umbra", a 10 minute window and 32 requests.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "umbra"
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 32
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// MaxRequests returns the per-window budget.
func (l *Limiter) MaxRequests() int { return l.config.MaxRequests }

// Register counts one request from identity. It returns the count in the
// current window including this one. Past the budget it returns
// ErrRateLimited and the time until the window resets.
func (l *Limiter) Register(ctx context.Context, identity string) (int64, time.Duration, error) {
	key := l.key(identity)
	count, err := l.incrementWithTTL(ctx, key, l.config.Window)
	if err != nil {
		return 0, 0, err
	}
	if count <= int64(l.config.MaxRequests) {
		return count, 0, nil
	}

	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil {
		return count, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		ttl = l.config.Window
	}
	return count, ttl, ErrRateLimited
}

// Count returns the current window count for identity without registering.
func (l *Limiter) Count(ctx context.Context, identity string) (int64, error) {
	count, err := l.redis.Get(ctx, l.key(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

// Reset clears the counter for identity.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	if err := l.redis.Del(ctx, l.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(identity string) string {
	return l.config.Prefix + ":rl:" + identity
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
