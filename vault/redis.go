package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one sealed record per secret in Redis.
//
//	key layout: <prefix>:vault:<name>
type RedisStore struct {
	sealedStore
	rb *redisBackend
}

// NewRedisStore creates a [RedisStore]. ttl of zero keeps secrets until cleared.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration, sealer *Sealer) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = "umbra"
	}
	rb := &redisBackend{redis: client, prefix: prefix, ttl: ttl}
	return &RedisStore{
		sealedStore: sealedStore{sealer: sealer, backend: rb},
		rb:          rb,
	}
}

// Ping checks connectivity and reports round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.rb.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

// Names lists stored secret names under this store's prefix.
func (s *RedisStore) Names(ctx context.Context) ([]string, error) {
	pattern := s.rb.key("*")
	var (
		cursor uint64
		names  []string
	)
	for {
		keys, next, err := s.rb.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, k := range keys {
			names = append(names, strings.TrimPrefix(k, s.rb.key("")))
		}
		cursor = next
		if cursor == 0 {
			return names, nil
		}
	}
}

type redisBackend struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func (b *redisBackend) key(name string) string {
	return b.prefix + ":vault:" + name
}

func (b *redisBackend) load(ctx context.Context, name string) ([]byte, error) {
	rec, err := b.redis.Get(ctx, b.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec, nil
}

func (b *redisBackend) save(ctx context.Context, name string, record []byte) error {
	if err := b.redis.Set(ctx, b.key(name), record, b.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *redisBackend) remove(ctx context.Context, name string) error {
	if err := b.redis.Del(ctx, b.key(name)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
