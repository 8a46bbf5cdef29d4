package goRotate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mockUserProvider struct {
	mu    sync.Mutex
	users map[string]UserRecord
	calls int
}

func newMockUserProvider(ids ...string) *mockUserProvider {
	up := &mockUserProvider{users: map[string]UserRecord{}}
	for _, id := range ids {
		up.users[id] = UserRecord{UserID: id, Role: "member"}
	}
	return up
}

func (m *mockUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserProvider) remove(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("engine-test-secret-0123456789abcdef")
	cfg.Store.OperationTimeout = 2 * time.Second
	cfg.Metrics.Enabled = true
	return cfg
}

type backend struct {
	name  string
	setup func(t *testing.T, b *Builder) *Builder
}

func backends() []backend {
	return []backend{
		{
			name:  "memory",
			setup: func(t *testing.T, b *Builder) *Builder { return b },
		},
		{
			name: "redis",
			setup: func(t *testing.T, b *Builder) *Builder {
				_, rdb := newTestRedis(t)
				return b.WithRedis(rdb)
			},
		},
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// forEachBackend runs fn against an engine on every store backend.
func forEachBackend(t *testing.T, cfg Config, fn func(t *testing.T, e *Engine, up *mockUserProvider)) {
	for _, bk := range backends() {
		t.Run(bk.name, func(t *testing.T) {
			up := newMockUserProvider("u1", "u2")
			e := buildEngine(t, bk.setup(t, New().WithConfig(cfg).WithUserProvider(up)))
			fn(t, e, up)
		})
	}
}

func buildEngine(t *testing.T, b *Builder) *Engine {
	t.Helper()
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

var (
	phone  = DeviceInfo{UserAgent: "Mozilla/5.0 (iPhone)", DeviceID: "phone-1"}
	laptop = DeviceInfo{UserAgent: "Mozilla/5.0 (X11; Linux)", DeviceID: "laptop-1"}
)

func mustIssue(t *testing.T, e *Engine, userID string, device DeviceInfo, opts IssueOptions) *TokenPair {
	t.Helper()
	pair, err := e.Issue(context.Background(), UserRecord{UserID: userID, Role: "member"}, device, opts)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return pair
}

func mustRefresh(t *testing.T, e *Engine, token string, device DeviceInfo) *TokenPair {
	t.Helper()
	pair, err := e.Refresh(context.Background(), token, device)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	return pair
}
