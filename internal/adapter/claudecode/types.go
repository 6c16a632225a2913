package claudecode

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RawMessage is one decoded line of a Claude Code session JSONL file. Claude
// Code's on-disk format is the format the canonical schema was grounded on,
// so most fields carry the same name and shape as canonical.CanonicalMessage.
type RawMessage struct {
	Type      string      `json:"type"`
	UUID      string      `json:"uuid"`
	SessionID string      `json:"sessionId"`
	Timestamp time.Time   `json:"timestamp"`
	Message   *RawContent `json:"message"`

	CWD        string `json:"cwd"`
	GitBranch  string `json:"gitBranch"`
	Version    string `json:"version"`
	Slug       string `json:"slug"`
	ParentUUID string `json:"parentUuid"`

	IsSidechain *bool  `json:"isSidechain"`
	UserType    string `json:"userType"`
	IsMeta      *bool  `json:"isMeta"`
	RequestID   string `json:"requestId"`

	ToolUseResult json.RawMessage `json:"toolUseResult"`
}

// rawMessageAlias lets UnmarshalJSON reuse the default decoder for every
// field except Timestamp, which Claude Code writes as an RFC3339 string but
// occasionally omits or leaves blank on meta-only lines.
type rawMessageAlias RawMessage

// UnmarshalJSON tolerates a missing or empty timestamp instead of failing
// the whole line - early Claude Code releases omitted it on some meta lines.
func (r *RawMessage) UnmarshalJSON(data []byte) error {
	var probe struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("claudecode: decode line: %w", err)
	}

	aux := (*rawMessageAlias)(r)
	aux.Timestamp = time.Time{}
	if err := json.Unmarshal(data, aux); err == nil {
		return nil
	}

	// The embedded time.Time field rejects "" and other non-RFC3339 values;
	// retry with timestamp stripped out, then parse it ourselves.
	var withoutTimestamp map[string]json.RawMessage
	if err := json.Unmarshal(data, &withoutTimestamp); err != nil {
		return fmt.Errorf("claudecode: decode line: %w", err)
	}
	delete(withoutTimestamp, "timestamp")
	patched, err := json.Marshal(withoutTimestamp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(patched, aux); err != nil {
		return fmt.Errorf("claudecode: decode line: %w", err)
	}
	if ts := strings.TrimSpace(probe.Timestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339Nano, ts)
		}
		if err == nil {
			aux.Timestamp = parsed
		}
	}
	return nil
}

// RawContent is the "message" object of a RawMessage.
type RawContent struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *RawUsage       `json:"usage"`
}

// RawUsage mirrors Claude Code's native snake_case token usage block.
type RawUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}
