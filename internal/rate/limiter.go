package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds fixed-window throttle parameters.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	// Prefix namespaces Redis keys. Defaults to "rt".
	Prefix string
	// Timeout bounds each Redis round trip. Zero leaves ctx unchanged.
	Timeout time.Duration
}

// Limiter throttles refresh attempts per token family.
type Limiter interface {
	CheckRefresh(ctx context.Context, familyID string) error
}

// Redis counts attempts with Redis counters so every node shares the budget.
type Redis struct {
	redis  redis.UniversalClient
	config Config
}

// NewRedis creates a [Redis] limiter backed by client.
func NewRedis(client redis.UniversalClient, cfg Config) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "rt"
	}
	return &Redis{
		redis:  client,
		config: cfg,
	}
}

// CheckRefresh records one attempt for familyID and reports [ErrRateLimited]
// once the window budget is exceeded.
func (l *Redis) CheckRefresh(ctx context.Context, familyID string) error {
	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	count, err := l.incrementWithTTL(ctx, refreshKey(l.config.Prefix, familyID), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Redis) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	return count, nil
}

func refreshKey(prefix, familyID string) string {
	return prefix + ":rl:" + familyID
}

type window struct {
	count   int
	resetAt time.Time
}

// Memory is the single-process counterpart of [Redis].
type Memory struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]window
	nextPrune time.Time
}

// NewMemory creates a [Memory] limiter. A nil now uses time.Now.
func NewMemory(cfg Config, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		config:  cfg,
		now:     now,
		windows: make(map[string]window),
	}
}

// CheckRefresh records one attempt for familyID and reports [ErrRateLimited]
// once the window budget is exceeded.
func (l *Memory) CheckRefresh(_ context.Context, familyID string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextPrune) {
		for key, w := range l.windows {
			if !now.Before(w.resetAt) {
				delete(l.windows, key)
			}
		}
		l.nextPrune = now.Add(l.config.Window)
	}

	w, ok := l.windows[familyID]
	if !ok || !now.Before(w.resetAt) {
		w = window{resetAt: now.Add(l.config.Window)}
	}
	w.count++
	l.windows[familyID] = w

	if w.count > l.config.MaxAttempts {
		return ErrRateLimited
	}
	return nil
}

// Len returns the number of tracked windows.
func (l *Memory) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
