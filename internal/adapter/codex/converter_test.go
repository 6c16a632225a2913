package codex

import (
	"encoding/json"
	"testing"
	"time"
)

func rec(typ string, payload any) RawRecord {
	raw, _ := json.Marshal(payload)
	return RawRecord{Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Type: typ, Payload: raw}
}

func TestToCanonical_SessionMeta(t *testing.T) {
	r := rec("session_meta", map[string]any{
		"id":          "sess-1",
		"cwd":         "/home/user/project",
		"cli_version": "1.2.3",
		"git":         map[string]string{"branch": "main"},
	})
	msgs, err := ToCanonical(r, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.MessageType != "meta" || m.CWD != "/home/user/project" || m.GitBranch != "main" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.IsMeta == nil || !*m.IsMeta {
		t.Fatalf("expected IsMeta true")
	}
}

func TestToCanonical_ResponseItemMessage(t *testing.T) {
	r := rec("response_item", map[string]any{
		"type": "message",
		"role": "user",
		"content": []map[string]string{
			{"type": "input_text", "text": "hello there"},
		},
	})
	msgs, err := ToCanonical(r, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageType != "user" {
		t.Fatalf("unexpected: %+v", msgs)
	}
	if msgs[0].Message.Content.Text != "hello there" {
		t.Fatalf("unexpected content: %q", msgs[0].Message.Content.Text)
	}
}

func TestToCanonical_FunctionCallAndOutput(t *testing.T) {
	call := rec("response_item", map[string]any{
		"type":      "function_call",
		"name":      "bash",
		"call_id":   "c1",
		"arguments": `{"command":"ls"}`,
	})
	msgs, err := ToCanonical(call, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical call: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageType != "assistant" {
		t.Fatalf("unexpected call message: %+v", msgs)
	}
	if !msgs[0].Message.Content.IsStructured() {
		t.Fatalf("expected structured content")
	}

	out := rec("response_item", map[string]any{
		"type":    "function_call_output",
		"call_id": "c1",
		"output":  "file1.txt\nfile2.txt",
	})
	msgs, err = ToCanonical(out, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical output: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageType != "user" {
		t.Fatalf("unexpected output message: %+v", msgs)
	}
}

func TestToCanonical_FunctionCallOutputMissingFieldsErrors(t *testing.T) {
	out := rec("response_item", map[string]any{
		"type":    "function_call_output",
		"call_id": "",
		"output":  "",
	})
	if _, err := ToCanonical(out, "sess-1"); err == nil {
		t.Fatalf("expected error for missing call_id/output")
	}
}

func TestToCanonical_EventMsgTokenCount(t *testing.T) {
	r := rec("event_msg", map[string]any{
		"type": "token_count",
		"info": map[string]any{
			"last_token_usage": map[string]int{
				"input_tokens":        100,
				"cached_input_tokens": 20,
				"output_tokens":       50,
			},
		},
	})
	msgs, err := ToCanonical(r, "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Message.Usage == nil {
		t.Fatalf("expected usage populated: %+v", msgs)
	}
	if *msgs[0].Message.Usage.InputTokens != 100 {
		t.Fatalf("unexpected input tokens: %+v", msgs[0].Message.Usage)
	}
}

func TestToCanonical_EventMsgDuplicatesDropped(t *testing.T) {
	for _, typ := range []string{"user_message", "agent_message", "agent_reasoning"} {
		r := rec("event_msg", map[string]any{"type": typ, "text": "x"})
		msgs, err := ToCanonical(r, "sess-1")
		if err != nil {
			t.Fatalf("ToCanonical %s: %v", typ, err)
		}
		if msgs != nil {
			t.Fatalf("expected %s to be dropped, got %+v", typ, msgs)
		}
	}
}
