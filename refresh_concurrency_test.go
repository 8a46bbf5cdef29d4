package goRotate

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	forEachBackend(t, testConfig(), func(t *testing.T, e *Engine, _ *mockUserProvider) {
		pair := mustIssue(t, e, "u1", phone, IssueOptions{})

		const n = 16
		var wg sync.WaitGroup
		wg.Add(n)

		results := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				_, err := e.Refresh(context.Background(), pair.RefreshToken, phone)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		success := 0
		reused := 0
		fail := 0
		for err := range results {
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrTokenReused):
				reused++
				fail++
			case errors.Is(err, ErrFamilyRevoked):
				// Lost the race after another loser already revoked the family.
				fail++
			default:
				t.Fatalf("unexpected refresh error: %v", err)
			}
		}

		if success != 1 {
			t.Fatalf("expected exactly one refresh success, got %d", success)
		}
		if fail != n-1 || reused == 0 {
			t.Fatalf("expected %d failures with reuse detected, got %d (reused %d)", n-1, fail, reused)
		}

		// Concurrent redemption is theft: the family is gone.
		if e.Valid(context.Background(), pair.AccessToken) {
			t.Fatalf("family must be revoked after a concurrent redemption")
		}
		if got := e.MetricsSnapshot().Counters[MetricRefreshSuccess]; got != 1 {
			t.Fatalf("expected one refresh success metric, got %d", got)
		}
	})
}

func TestConcurrentIssueRespectsSessionCap(t *testing.T) {
	cfg := testConfig()
	cfg.Session.MaxSessionsPerUser = 4
	forEachBackend(t, cfg, func(t *testing.T, e *Engine, _ *mockUserProvider) {
		const n = 12
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				if _, err := e.Issue(context.Background(), UserRecord{UserID: "u2"}, laptop, IssueOptions{}); err != nil {
					t.Errorf("Issue failed: %v", err)
				}
			}()
		}
		wg.Wait()

		// A final sequential issue settles any overlap between concurrent caps.
		mustIssue(t, e, "u2", laptop, IssueOptions{})

		sessions, err := e.ListSessions(context.Background(), "u2")
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(sessions) > 4 {
			t.Fatalf("expected at most 4 sessions, got %d", len(sessions))
		}
	})
}
