package claudecode

import (
	"encoding/json"
	"testing"

	"github.com/agentsync/agentsync/internal/canonical"
)

func decodeRaw(t *testing.T, line string) RawMessage {
	t.Helper()
	var raw RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	return raw
}

func TestToCanonical_PlainTextUserMessage(t *testing.T) {
	raw := decodeRaw(t, `{"type":"user","uuid":"u-1","sessionId":"sess-1","timestamp":"2024-01-15T10:00:00Z","cwd":"/work","message":{"role":"user","content":"hello there"}}`)

	cm, err := ToCanonical(raw, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	if cm.MessageType != "user" || cm.CWD != "/work" || cm.Provider != "claude-code" {
		t.Fatalf("unexpected message: %+v", cm)
	}
	if cm.Message.Content.IsStructured() {
		t.Fatalf("expected plain text content")
	}
	if cm.Message.Content.Text != "hello there" {
		t.Fatalf("got content %q", cm.Message.Content.Text)
	}
}

func TestToCanonical_StructuredAssistantMessageWithUsage(t *testing.T) {
	raw := decodeRaw(t, `{"type":"assistant","uuid":"a-1","sessionId":"sess-1","timestamp":"2024-01-15T10:00:05Z","message":{"role":"assistant","model":"claude-opus-4-5","content":[{"type":"text","text":"answer"},{"type":"tool_use","id":"tool-1","name":"Read","input":{"file_path":"/tmp/x"}}],"usage":{"input_tokens":10,"output_tokens":20,"cache_read_input_tokens":5}}}`)

	cm, err := ToCanonical(raw, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	if !cm.Message.Content.IsStructured() {
		t.Fatalf("expected structured content")
	}
	if len(cm.Message.Content.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(cm.Message.Content.Blocks))
	}
	if cm.Message.Usage == nil || *cm.Message.Usage.InputTokens != 10 || *cm.Message.Usage.OutputTokens != 20 {
		t.Fatalf("unexpected usage: %+v", cm.Message.Usage)
	}
	if cm.Message.Model != "claude-opus-4-5" {
		t.Fatalf("got model %q", cm.Message.Model)
	}
}

func TestToCanonical_ToolResultUserMessage(t *testing.T) {
	raw := decodeRaw(t, `{"type":"user","uuid":"u-2","sessionId":"sess-1","timestamp":"2024-01-15T10:00:10Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tool-1","content":"42"}]}}`)

	cm, err := ToCanonical(raw, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	blocks := cm.Message.Content.Blocks
	if len(blocks) != 1 || blocks[0].Type != "tool_result" || blocks[0].ToolUseID != "tool-1" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}

func TestToCanonical_MetaLineWithoutMessage(t *testing.T) {
	raw := decodeRaw(t, `{"type":"summary","uuid":"s-1","sessionId":"sess-1","timestamp":"2024-01-15T10:00:00Z"}`)

	cm, err := ToCanonical(raw, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	if cm.MessageType != canonical.MessageTypeMeta {
		t.Fatalf("expected meta type, got %q", cm.MessageType)
	}
}

func TestToCanonical_CarriesSidechainAndParentFields(t *testing.T) {
	raw := decodeRaw(t, `{"type":"user","uuid":"u-3","sessionId":"sess-1","parentUuid":"u-1","isSidechain":true,"userType":"external","timestamp":"2024-01-15T10:00:00Z","message":{"role":"user","content":"follow-up"}}`)

	cm, err := ToCanonical(raw, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	if cm.ParentUUID != "u-1" || cm.IsSidechain == nil || !*cm.IsSidechain || cm.UserType != "external" {
		t.Fatalf("unexpected message: %+v", cm)
	}
}

func TestToCanonical_FallsBackToRawSessionID(t *testing.T) {
	raw := decodeRaw(t, `{"type":"user","uuid":"u-4","sessionId":"sess-from-line","timestamp":"2024-01-15T10:00:00Z","message":{"role":"user","content":"hi"}}`)

	cm, err := ToCanonical(raw, "")
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	if cm.SessionID != "sess-from-line" {
		t.Fatalf("got session id %q", cm.SessionID)
	}
}
