package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestIsTruncated(t *testing.T) {
	active := &Entry{LastTimelineCount: 100, LastSourceFileSize: 50000}

	tests := []struct {
		name            string
		timelineLen     int
		fileSize        int64
		expectTruncated bool
	}{
		{"length and size both drop", 10, 5000, true},
		{"size drops and timeline empties", 0, 5000, true},
		{"only timeline drops, size holds", 40, 48000, false},
		{"normal growth", 105, 52000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isTruncated(active, tt.timelineLen, tt.fileSize)
			if got != tt.expectTruncated {
				t.Errorf("isTruncated(%d, %d) = %v, want %v", tt.timelineLen, tt.fileSize, got, tt.expectTruncated)
			}
		})
	}
}

func TestIsTruncatedIgnoresEmptyPriorSnapshot(t *testing.T) {
	active := &Entry{LastTimelineCount: 0, LastSourceFileSize: 0}
	if isTruncated(active, 0, 0) {
		t.Error("expected no truncation when the snapshot never had content")
	}
}

func TestManagerObserveCreatesFirstSnapshot(t *testing.T) {
	home := t.TempDir()
	mgr, err := NewManager(home, "copilot")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	res, err := mgr.Observe(Observation{
		SourceFile:      "session-1.json",
		SourceSessionID: "abc123",
		SourceStartTime: "2026-01-01T00:00:00Z",
		CWD:             "/work/project",
		Timeline: []TimelineEntry{
			{Timestamp: "2026-01-01T00:00:00Z", Data: map[string]any{"type": "user", "text": "hi"}},
			{Timestamp: "2026-01-01T00:00:01Z", Data: map[string]any{"type": "assistant", "text": "hello"}},
		},
		FileSize: 200,
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if res.IsTruncated {
		t.Error("first observation should never be truncated")
	}

	content, err := os.ReadFile(res.SnapshotPath)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "/work/project") {
		t.Error("expected cwd to be flattened into snapshot line")
	}
}

func TestManagerObserveDetectsTruncationAndStartsNewSnapshot(t *testing.T) {
	home := t.TempDir()
	mgr, err := NewManager(home, "copilot")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	bigTimeline := make([]TimelineEntry, 100)
	for i := range bigTimeline {
		bigTimeline[i] = TimelineEntry{Timestamp: "2026-01-01T00:00:00Z", Data: map[string]any{"i": i}}
	}
	first, err := mgr.Observe(Observation{SourceFile: "session-2.json", Timeline: bigTimeline, FileSize: 50000})
	if err != nil {
		t.Fatalf("Observe (first): %v", err)
	}

	smallTimeline := bigTimeline[:10]
	second, err := mgr.Observe(Observation{SourceFile: "session-2.json", Timeline: smallTimeline, FileSize: 5000})
	if err != nil {
		t.Fatalf("Observe (second): %v", err)
	}

	if !second.IsTruncated {
		t.Fatal("expected truncation to be detected")
	}
	if second.SnapshotPath == first.SnapshotPath {
		t.Fatal("expected a new snapshot file after truncation")
	}

	meta, lock, err := mgr.lockedMetadata()
	if err != nil {
		t.Fatalf("lockedMetadata: %v", err)
	}
	lock.Unlock()

	session := meta.Sessions["session-2.json"]
	if session == nil {
		t.Fatal("expected session to exist")
	}
	if len(session.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshot entries, got %d", len(session.Snapshots))
	}
	if session.Snapshots[0].Status != StatusClosed {
		t.Error("expected original snapshot to be closed after truncation")
	}
	if session.Snapshots[1].Status != StatusActive {
		t.Error("expected new snapshot to be active")
	}
}

func TestManagerObserveRewritesActiveSnapshotWithoutTruncation(t *testing.T) {
	home := t.TempDir()
	mgr, err := NewManager(home, "copilot")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	first, err := mgr.Observe(Observation{
		SourceFile: "session-3.json",
		Timeline:   []TimelineEntry{{Data: map[string]any{"type": "user"}}},
		FileSize:   100,
	})
	if err != nil {
		t.Fatalf("Observe (first): %v", err)
	}

	second, err := mgr.Observe(Observation{
		SourceFile: "session-3.json",
		Timeline: []TimelineEntry{
			{Data: map[string]any{"type": "user"}},
			{Data: map[string]any{"type": "assistant"}},
		},
		FileSize: 150,
	})
	if err != nil {
		t.Fatalf("Observe (second): %v", err)
	}

	if second.IsTruncated {
		t.Error("growth should not be flagged as truncation")
	}
	if second.SnapshotPath != first.SnapshotPath {
		t.Error("expected the same active snapshot file to be rewritten")
	}
}

func TestSnapshotPathUsesJSONLExtension(t *testing.T) {
	home := t.TempDir()
	mgr, err := NewManager(home, "codex")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	id := uuid.New()
	path := mgr.SnapshotPath(id)
	if filepath.Ext(path) != ".jsonl" {
		t.Errorf("expected .jsonl extension, got %s", path)
	}
	if !strings.Contains(path, id.String()) {
		t.Error("expected snapshot path to contain the snapshot id")
	}
}
