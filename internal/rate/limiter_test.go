package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryFixedWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemory(Config{MaxAttempts: 2, Window: time.Minute}, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "f1"); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "f1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckRefresh(ctx, "f2"); err != nil {
		t.Fatalf("families must not share a budget: %v", err)
	}

	now = now.Add(time.Minute)
	if err := l.CheckRefresh(ctx, "f1"); err != nil {
		t.Fatalf("expected a fresh window, got %v", err)
	}
}

func TestMemoryPrunesExpiredWindows(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemory(Config{MaxAttempts: 5, Window: time.Second}, func() time.Time { return now })
	ctx := context.Background()

	for _, fam := range []string{"a", "b", "c"} {
		_ = l.CheckRefresh(ctx, fam)
	}
	if got := l.Len(); got != 3 {
		t.Fatalf("expected 3 windows, got %d", got)
	}

	now = now.Add(2 * time.Second)
	_ = l.CheckRefresh(ctx, "d")
	if got := l.Len(); got != 1 {
		t.Fatalf("expected expired windows pruned, got %d", got)
	}
}

func TestRedisFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedis(rdb, Config{MaxAttempts: 2, Window: time.Minute, Timeout: time.Second})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "f1"); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "f1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if ttl := mr.TTL("rt:rl:f1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected window ttl %v", ttl)
	}

	mr.FastForward(time.Minute)
	if err := l.CheckRefresh(ctx, "f1"); err != nil {
		t.Fatalf("expected a fresh window, got %v", err)
	}

	mr.Close()
	if err := l.CheckRefresh(ctx, "f1"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
