package goRotate

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) byType(eventType string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, ev := range s.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// buildAuditTestEngine returns an engine whose audit sink is drained by the
// returned flush function.
func buildAuditTestEngine(t *testing.T, cfg Config, sink AuditSink) (*Engine, func()) {
	t.Helper()

	e, err := New().
		WithConfig(cfg).
		WithUserProvider(newMockUserProvider("u1", "u2")).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	var once sync.Once
	flush := func() { once.Do(e.Close) }
	t.Cleanup(flush)
	return e, flush
}

func TestAuditReuseIsHighSeverity(t *testing.T) {
	sink := &captureSink{}
	e, flush := buildAuditTestEngine(t, testConfig(), sink)

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	pair := mustIssue(t, e, "u1", phone, IssueOptions{})
	mustRefresh(t, e, pair.RefreshToken, phone)
	if _, err := e.Refresh(ctx, pair.RefreshToken, phone); err == nil {
		t.Fatal("expected reuse error")
	}
	flush()

	reuse := sink.byType("refresh_reuse_detected")
	if len(reuse) != 1 {
		t.Fatalf("expected one reuse event, got %d", len(reuse))
	}
	ev := reuse[0]
	if ev.Severity != SeverityHigh || ev.Success {
		t.Fatalf("unexpected reuse event %+v", ev)
	}
	if ev.UserID != "u1" || ev.FamilyID != pair.FamilyID || ev.SessionID != pair.SessionID {
		t.Fatalf("reuse event must name the stolen token, got %+v", ev)
	}
	if ev.Error != "token_reused" || ev.IP != "203.0.113.7" {
		t.Fatalf("unexpected reuse event fields %+v", ev)
	}

	revoked := sink.byType("family_revoked")
	if len(revoked) != 1 || revoked[0].Metadata["reason"] != "reuse_detected" {
		t.Fatalf("expected one family_revoked event for reuse, got %+v", revoked)
	}
}

func TestAuditIssueRefreshAndRevoke(t *testing.T) {
	sink := &captureSink{}
	e, flush := buildAuditTestEngine(t, testConfig(), sink)
	ctx := context.Background()

	pair := mustIssue(t, e, "u1", phone, IssueOptions{SessionName: "phone"})
	next := mustRefresh(t, e, pair.RefreshToken, phone)
	if _, err := e.Refresh(ctx, next.RefreshToken, laptop); err == nil {
		t.Fatal("expected device mismatch")
	}
	if err := e.Revoke(ctx, next.RefreshToken); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := e.RevokeAllUserTokens(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAllUserTokens failed: %v", err)
	}
	flush()

	issued := sink.byType("token_issued")
	if len(issued) != 2 {
		t.Fatalf("expected 2 token_issued events, got %d", len(issued))
	}
	if issued[0].Metadata["new_family"] != "true" || issued[1].Metadata["new_family"] != "false" {
		t.Fatalf("unexpected new_family metadata %+v", issued)
	}

	refreshed := sink.byType("token_refreshed")
	if len(refreshed) != 1 || refreshed[0].Metadata["previous_session_id"] != pair.SessionID {
		t.Fatalf("unexpected refresh events %+v", refreshed)
	}

	mismatch := sink.byType("device_mismatch")
	if len(mismatch) != 1 || mismatch[0].Severity != SeverityWarning {
		t.Fatalf("unexpected device mismatch events %+v", mismatch)
	}

	if got := sink.byType("token_revoked"); len(got) != 1 || got[0].SessionID != next.SessionID {
		t.Fatalf("unexpected token_revoked events %+v", got)
	}
	all := sink.byType("user_tokens_revoked")
	if len(all) != 1 || all[0].Metadata["families_revoked"] != "1" {
		t.Fatalf("unexpected user_tokens_revoked events %+v", all)
	}
}

func TestAuditSessionEviction(t *testing.T) {
	sink := &captureSink{}
	cfg := testConfig()
	cfg.Session.MaxSessionsPerUser = 1
	e, flush := buildAuditTestEngine(t, cfg, sink)

	first := mustIssue(t, e, "u2", phone, IssueOptions{SessionName: "old"})
	mustIssue(t, e, "u2", laptop, IssueOptions{})
	flush()

	evicted := sink.byType("session_evicted")
	if len(evicted) != 1 {
		t.Fatalf("expected one eviction event, got %d", len(evicted))
	}
	if evicted[0].SessionID != first.SessionID || evicted[0].Metadata["session_name"] != "old" {
		t.Fatalf("unexpected eviction event %+v", evicted[0])
	}
}

func TestAuditDisabledWithoutSink(t *testing.T) {
	e := buildEngine(t, New().WithConfig(testConfig()).WithUserProvider(newMockUserProvider("u1")))
	mustIssue(t, e, "u1", phone, IssueOptions{})
	if e.AuditDropped() != 0 {
		t.Fatalf("expected no drops without a dispatcher")
	}
}

func TestAuditJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})
	e, flush := buildAuditTestEngine(t, testConfig(), NewJSONWriterSink(w))

	mustIssue(t, e, "u1", phone, IssueOptions{})
	flush()

	mu.Lock()
	defer mu.Unlock()
	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if ev["event_type"] != "token_issued" {
		t.Fatalf("unexpected event %v", ev)
	}
}

func TestAuditSlogSink(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e, flush := buildAuditTestEngine(t, testConfig(), NewSlogSink(logger))

	pair := mustIssue(t, e, "u1", phone, IssueOptions{})
	mustRefresh(t, e, pair.RefreshToken, phone)
	_, _ = e.Refresh(context.Background(), pair.RefreshToken, phone)
	flush()

	mu.Lock()
	defer mu.Unlock()
	if !bytes.Contains(buf.Bytes(), []byte("refresh_reuse_detected")) {
		t.Fatalf("expected reuse event in log output, got %s", buf.String())
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
