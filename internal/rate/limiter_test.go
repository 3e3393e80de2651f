package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestRegisterCountsAndLimits(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 2})
	ctx := context.Background()

	for want := int64(1); want <= 2; want++ {
		n, _, err := l.Register(ctx, "id")
		if err != nil || n != want {
			t.Fatalf("register %d: n=%d err=%v", want, n, err)
		}
	}
	n, retry, err := l.Register(ctx, "id")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if n != 3 || retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected n=%d retry=%s", n, retry)
	}
	if other, _, err := l.Register(ctx, "other"); err != nil || other != 1 {
		t.Fatalf("identities must be counted separately: n=%d err=%v", other, err)
	}
}

func TestWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Prefix: "t", Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()

	if _, _, err := l.Register(ctx, "id"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !mr.Exists("t:rl:id") {
		t.Fatalf("expected counter key t:rl:id")
	}
	mr.FastForward(2 * time.Minute)
	if n, _, err := l.Register(ctx, "id"); err != nil || n != 1 {
		t.Fatalf("new window must start at 1: n=%d err=%v", n, err)
	}
}

func TestCountAndReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	if n, err := l.Count(ctx, "id"); err != nil || n != 0 {
		t.Fatalf("missing counter: n=%d err=%v", n, err)
	}
	_, _, _ = l.Register(ctx, "id")
	_, _, _ = l.Register(ctx, "id")
	if n, _ := l.Count(ctx, "id"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if err := l.Reset(ctx, "id"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := l.Count(ctx, "id"); n != 0 {
		t.Fatalf("expected 0 after reset, got %d", n)
	}
	if l.MaxRequests() != 32 {
		t.Fatalf("expected default budget 32, got %d", l.MaxRequests())
	}
}

func TestRedisUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{})
	mr.Close()
	if _, _, err := l.Register(context.Background(), "id"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
