package goRotate

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func BenchmarkValidMemory(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b, false)
	defer cleanup()

	pair, err := engine.Issue(context.Background(), UserRecord{UserID: "u1", Role: "member"}, phone, IssueOptions{})
	if err != nil {
		b.Fatalf("issue failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !engine.Valid(context.Background(), pair.AccessToken) {
			b.Fatal("expected valid token")
		}
	}
}

func BenchmarkValidRedis(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b, true)
	defer cleanup()

	pair, err := engine.Issue(context.Background(), UserRecord{UserID: "u1", Role: "member"}, phone, IssueOptions{})
	if err != nil {
		b.Fatalf("issue failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !engine.Valid(context.Background(), pair.AccessToken) {
			b.Fatal("expected valid token")
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b, false)
	defer cleanup()

	pair, err := engine.Issue(context.Background(), UserRecord{UserID: "u1", Role: "member"}, phone, IssueOptions{})
	if err != nil {
		b.Fatalf("issue failed: %v", err)
	}
	refresh := pair.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := engine.Refresh(context.Background(), refresh, phone)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refresh = next.RefreshToken
	}
}

func BenchmarkIssue(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b, false)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := engine.Issue(context.Background(), UserRecord{UserID: "u1", Role: "member"}, phone, IssueOptions{})
		if err != nil {
			b.Fatalf("issue failed: %v", err)
		}
		_ = engine.RevokeFamily(context.Background(), pair.FamilyID)
	}
}

func newBenchmarkEngine(tb testing.TB, useRedis bool) (*Engine, func()) {
	tb.Helper()

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.Audit.Enabled = false
	cfg.Session.MaxSessionsPerUser = 0

	builder := New().WithConfig(cfg).WithUserProvider(newMockUserProvider("u1"))

	var mr *miniredis.Miniredis
	var rdb *redis.Client
	if useRedis {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			tb.Fatalf("miniredis.Run failed: %v", err)
		}
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		builder = builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		tb.Fatalf("Build failed: %v", err)
	}

	return engine, func() {
		engine.Close()
		if rdb != nil {
			_ = rdb.Close()
			mr.Close()
		}
	}
}
