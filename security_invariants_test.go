package goRotate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSecurityInvariantRedisKeysTrackRevocation(t *testing.T) {
	mr, rdb := newTestRedis(t)
	e := buildEngine(t, New().WithConfig(testConfig()).WithRedis(rdb).WithUserProvider(newMockUserProvider("u1")))
	ctx := context.Background()

	pair := mustIssue(t, e, "u1", phone, IssueOptions{})
	if !mr.Exists("rt:rec:"+pair.SessionID) || !mr.Exists("rt:fam:"+pair.FamilyID) {
		t.Fatalf("expected record and family keys, have %v", mr.Keys())
	}

	if err := e.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !mr.Exists("rt:rvk:" + pair.SessionID) {
		t.Fatalf("expected revoked marker key, have %v", mr.Keys())
	}

	// Markers expire with the token plus the configured retention.
	ttl := mr.TTL("rt:rvk:" + pair.SessionID)
	if ttl <= 7*24*time.Hour-time.Minute || ttl > 7*24*time.Hour+time.Hour+time.Minute {
		t.Fatalf("unexpected marker ttl %v", ttl)
	}
}

func TestSecurityInvariantRevokedFamilyOutlivesRecords(t *testing.T) {
	forEachBackend(t, testConfig(), func(t *testing.T, e *Engine, _ *mockUserProvider) {
		ctx := context.Background()
		pair := mustIssue(t, e, "u1", phone, IssueOptions{})
		if err := e.RevokeAllUserTokens(ctx, "u1"); err != nil {
			t.Fatalf("RevokeAllUserTokens failed: %v", err)
		}

		// Access tokens minted before the revocation must keep failing even
		// though no refresh record is left.
		if _, err := e.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrFamilyRevoked) {
			t.Fatalf("expected ErrFamilyRevoked, got %v", err)
		}
	})
}

func TestSecurityInvariantReuseAfterRevokeStillRevokesFamily(t *testing.T) {
	forEachBackend(t, testConfig(), func(t *testing.T, e *Engine, _ *mockUserProvider) {
		ctx := context.Background()
		pair := mustIssue(t, e, "u1", phone, IssueOptions{})
		next := mustRefresh(t, e, pair.RefreshToken, phone)

		// Used is checked before the marker, so a replay is reuse even when
		// the old token was also revoked explicitly.
		if err := e.Revoke(ctx, pair.RefreshToken); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
		if _, err := e.Refresh(ctx, pair.RefreshToken, phone); !errors.Is(err, ErrTokenReused) {
			t.Fatalf("expected ErrTokenReused, got %v", err)
		}
		if e.Valid(ctx, next.AccessToken) {
			t.Fatal("successor must be invalid after reuse")
		}
	})
}

func TestSecurityInvariantDeviceMismatchIsNotReuse(t *testing.T) {
	forEachBackend(t, testConfig(), func(t *testing.T, e *Engine, _ *mockUserProvider) {
		ctx := context.Background()
		pair := mustIssue(t, e, "u1", phone, IssueOptions{})

		for i := 0; i < 3; i++ {
			if _, err := e.Refresh(ctx, pair.RefreshToken, laptop); !errors.Is(err, ErrDeviceMismatch) {
				t.Fatalf("expected ErrDeviceMismatch, got %v", err)
			}
		}
		if !e.Valid(ctx, pair.AccessToken) {
			t.Fatal("device mismatch must not revoke the family")
		}
		if got := e.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 0 {
			t.Fatalf("expected no reuse, got %d", got)
		}
	})
}
