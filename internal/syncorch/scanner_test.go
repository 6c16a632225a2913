package syncorch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseClaudeSessionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test-session.jsonl")
	content := `{"sessionId":"abc123","timestamp":"2026-01-01T10:00:00Z","type":"user"}
{"sessionId":"abc123","timestamp":"2026-01-01T10:30:00Z","type":"assistant"}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := parseClaudeSessionFile(path, "test-project")
	if err != nil {
		t.Fatalf("parseClaudeSessionFile: %v", err)
	}
	if d.SessionID != "abc123" {
		t.Errorf("SessionID = %q, want abc123", d.SessionID)
	}
	if d.ProjectName != "test-project" {
		t.Errorf("ProjectName = %q, want test-project", d.ProjectName)
	}
	if d.Provider != "claude-code" {
		t.Errorf("Provider = %q, want claude-code", d.Provider)
	}
	if d.DurationMS == nil || *d.DurationMS != 1_800_000 {
		t.Errorf("DurationMS = %v, want 1800000", d.DurationMS)
	}
}

func TestParseCodexSessionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout-2026-01-01T00-00-00-test.jsonl")
	content := `{"timestamp":"2026-01-01T08:23:35Z","type":"session_meta","payload":{"id":"01998f6b-8fc9-7782-8d57-ca53fbfd057a","cwd":"/Users/dev/work/project-x"}}
{"timestamp":"2026-01-01T08:24:16Z","type":"response_item","payload":{"type":"message","role":"user"}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := parseCodexSessionFile(path)
	if err != nil {
		t.Fatalf("parseCodexSessionFile: %v", err)
	}
	if d.SessionID != "01998f6b-8fc9-7782-8d57-ca53fbfd057a" {
		t.Errorf("SessionID = %q", d.SessionID)
	}
	if d.ProjectName != "project-x" {
		t.Errorf("ProjectName = %q, want project-x", d.ProjectName)
	}
	if d.DurationMS == nil || *d.DurationMS != 41_000 {
		t.Errorf("DurationMS = %v, want 41000", d.DurationMS)
	}
}

func TestParseClaudeSessionFileRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.jsonl")
	if err := os.WriteFile(path, []byte(""), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := parseClaudeSessionFile(path, "p"); err == nil {
		t.Error("expected error for empty session file")
	}
}

func TestScanProducerUnregisteredReturnsEmpty(t *testing.T) {
	out, err := scanProducer("cursor", t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil result for unregistered producer, got %v", out)
	}
}
