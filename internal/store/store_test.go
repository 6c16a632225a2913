package store

import (
	"testing"
	"time"

	"github.com/agentsync/agentsync/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndUpdateSession(t *testing.T) {
	s := openTestStore(t)

	start := time.Now().UTC().Add(-time.Hour)
	id, completed, err := s.InsertSession(Session{
		Provider:         "claude-code",
		ProjectName:      "demo",
		SessionID:        "sess-1",
		FileName:         "sess-1.jsonl",
		FilePath:         "/tmp/sess-1.jsonl",
		FileSize:         100,
		CWD:              "/work/demo",
		SessionStartTime: &start,
	})
	if err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}
	if completed {
		t.Error("expected not completed without an end time")
	}

	end := start.Add(10 * time.Minute)
	completed, err = s.UpdateSession(Session{
		SessionID:      "sess-1",
		FileSize:       200,
		SessionEndTime: &end,
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if !completed {
		t.Error("expected completed=true on first end-time transition")
	}

	completed, err = s.UpdateSession(Session{
		SessionID:      "sess-1",
		FileSize:       250,
		SessionEndTime: &end,
	})
	if err != nil {
		t.Fatalf("UpdateSession (second): %v", err)
	}
	if completed {
		t.Error("expected completed=false once end time was already set")
	}
}

func TestUpdateSessionCoalescesStartAndCWD(t *testing.T) {
	s := openTestStore(t)

	start := time.Now().UTC().Add(-time.Hour)
	if _, _, err := s.InsertSession(Session{
		Provider:         "codex",
		ProjectName:      "demo",
		SessionID:        "sess-2",
		FileName:         "sess-2.jsonl",
		FilePath:         "/tmp/sess-2.jsonl",
		CWD:              "/work/demo",
		SessionStartTime: &start,
	}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	laterStart := start.Add(5 * time.Minute)
	if _, err := s.UpdateSession(Session{
		SessionID:        "sess-2",
		SessionStartTime: &laterStart,
		CWD:              "/somewhere/else",
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	var startMS int64
	var cwd string
	if err := s.db.QueryRow(`SELECT session_start_time, cwd FROM agent_sessions WHERE session_id = ?`, "sess-2").Scan(&startMS, &cwd); err != nil {
		t.Fatalf("query session: %v", err)
	}
	if startMS != start.UnixMilli() {
		t.Errorf("start time = %d, want original %d (coalesce should keep existing)", startMS, start.UnixMilli())
	}
	if cwd != "/work/demo" {
		t.Errorf("cwd = %q, want original /work/demo (coalesce should keep existing)", cwd)
	}
}

func TestGetUnsyncedSessionsRespectsSyncMode(t *testing.T) {
	s := openTestStore(t)
	start := time.Now().UTC().Add(-time.Hour)
	end := start.Add(time.Minute)

	for _, sess := range []Session{
		{Provider: "claude-code", ProjectName: "p", SessionID: "a", FileName: "a.jsonl", FilePath: "/a", SessionStartTime: &start, SessionEndTime: &end},
		{Provider: "codex", ProjectName: "p", SessionID: "b", FileName: "b.jsonl", FilePath: "/b", SessionStartTime: &start, SessionEndTime: &end},
	} {
		if _, _, err := s.InsertSession(sess); err != nil {
			t.Fatalf("InsertSession %s: %v", sess.SessionID, err)
		}
	}

	cfg := &config.Config{
		Providers: map[config.ProviderID]*config.ProviderConfig{
			config.ProviderClaudeCode: {SyncMode: config.SyncModeTranscriptAndMetrics},
			config.ProviderCodex:      {SyncMode: config.SyncModeNothing},
		},
	}

	unsynced, err := s.GetUnsyncedSessions(cfg)
	if err != nil {
		t.Fatalf("GetUnsyncedSessions: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].SessionID != "a" {
		t.Fatalf("expected only session a to be eligible, got %+v", unsynced)
	}
}

func TestGetUnsyncedSessionsMetricsOnlyRequiresCoreMetrics(t *testing.T) {
	s := openTestStore(t)
	start := time.Now().UTC().Add(-time.Hour)
	end := start.Add(time.Minute)

	if _, _, err := s.InsertSession(Session{
		Provider: "codex", ProjectName: "p", SessionID: "c", FileName: "c.jsonl", FilePath: "/c",
		SessionStartTime: &start, SessionEndTime: &end,
	}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	cfg := &config.Config{
		Providers: map[config.ProviderID]*config.ProviderConfig{
			config.ProviderCodex: {SyncMode: config.SyncModeMetricsOnly},
		},
	}

	unsynced, err := s.GetUnsyncedSessions(cfg)
	if err != nil {
		t.Fatalf("GetUnsyncedSessions: %v", err)
	}
	if len(unsynced) != 0 {
		t.Fatalf("expected no eligible sessions before core metrics complete, got %+v", unsynced)
	}
}

func TestUpsertHistoricalSessionSkipsExisting(t *testing.T) {
	s := openTestStore(t)

	id, err := s.UpsertHistoricalSession(Session{
		Provider: "claude-code", ProjectName: "p", SessionID: "hist-1", FileName: "hist-1.jsonl", FilePath: "/hist-1",
	})
	if err != nil {
		t.Fatalf("UpsertHistoricalSession: %v", err)
	}
	if id == "" {
		t.Fatal("expected new row to be created")
	}

	id2, err := s.UpsertHistoricalSession(Session{
		Provider: "claude-code", ProjectName: "p", SessionID: "hist-1", FileName: "hist-1.jsonl", FilePath: "/hist-1",
	})
	if err != nil {
		t.Fatalf("UpsertHistoricalSession (second): %v", err)
	}
	if id2 != "" {
		t.Fatalf("expected no-op for already-tracked session, got id %q", id2)
	}
}

func TestQuickRateSessionCreatesAssessment(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.InsertSession(Session{Provider: "claude-code", ProjectName: "p", SessionID: "rate-1", FileName: "x.jsonl", FilePath: "/x"}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	if err := s.QuickRateSession("rate-1", "thumbs_up"); err != nil {
		t.Fatalf("QuickRateSession: %v", err)
	}

	rating, ok, err := s.GetSessionRating("rate-1")
	if err != nil {
		t.Fatalf("GetSessionRating: %v", err)
	}
	if !ok || rating != "thumbs_up" {
		t.Fatalf("rating = %q, ok=%v, want thumbs_up", rating, ok)
	}
}

func TestFailedSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.InsertSession(Session{Provider: "codex", ProjectName: "p", SessionID: "fail-1", FileName: "x.jsonl", FilePath: "/x"}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	if err := s.MarkSessionSyncFailed("fail-1", "server returned 500"); err != nil {
		t.Fatalf("MarkSessionSyncFailed: %v", err)
	}

	failed, err := s.GetFailedSessions()
	if err != nil {
		t.Fatalf("GetFailedSessions: %v", err)
	}
	if len(failed) != 1 || failed[0].SessionID != "fail-1" {
		t.Fatalf("expected fail-1 in failed sessions, got %+v", failed)
	}

	if err := s.RetryFailedSessions(); err != nil {
		t.Fatalf("RetryFailedSessions: %v", err)
	}
	failed, err = s.GetFailedSessions()
	if err != nil {
		t.Fatalf("GetFailedSessions (after retry): %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failed sessions after retry, got %+v", failed)
	}
}

func TestProjectUpsertByCWD(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.InsertOrGetProject("demo", "", "/work/demo", "git")
	if err != nil {
		t.Fatalf("InsertOrGetProject: %v", err)
	}
	id2, err := s.InsertOrGetProject("demo-renamed", "", "/work/demo", "git")
	if err != nil {
		t.Fatalf("InsertOrGetProject (second): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same project id for same cwd, got %q and %q", id1, id2)
	}

	proj, ok, err := s.GetProjectByID(id1)
	if err != nil {
		t.Fatalf("GetProjectByID: %v", err)
	}
	if !ok || proj.Name != "demo-renamed" {
		t.Fatalf("expected refreshed name, got %+v", proj)
	}
}
