package claudecode

import (
	"encoding/json"
	"fmt"

	"github.com/agentsync/agentsync/internal/canonical"
)

const providerName = adapterID

// ToCanonical converts one decoded Claude Code JSONL line into a canonical
// message. Claude Code's own wire format is the one the canonical schema
// was grounded on, so this is close to a field-for-field pass-through
// rather than a reshape - the one exception is message.content, which
// Claude Code and canonical both allow as either a bare string or a block
// array, so it is re-encoded through canonical.ContentValue to normalize
// the two shapes other producers use.
func ToCanonical(raw RawMessage, sessionID string) (canonical.CanonicalMessage, error) {
	if sessionID == "" {
		sessionID = raw.SessionID
	}

	msgType := canonical.MessageTypeMeta
	switch raw.Type {
	case "user":
		msgType = canonical.MessageTypeUser
	case "assistant":
		msgType = canonical.MessageTypeAssistant
	}

	ts := raw.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")

	cm := canonical.CanonicalMessage{
		UUID:        raw.UUID,
		Timestamp:   ts,
		MessageType: msgType,
		SessionID:   sessionID,
		Provider:    providerName,
		CWD:         raw.CWD,
		GitBranch:   raw.GitBranch,
		Version:     raw.Version,
		ParentUUID:  raw.ParentUUID,
		IsSidechain: raw.IsSidechain,
		UserType:    raw.UserType,
		IsMeta:      raw.IsMeta,
		RequestID:   raw.RequestID,
	}
	if raw.ToolUseResult != nil {
		cm.ToolUseResult = raw.ToolUseResult
	}

	if raw.Message == nil {
		cm.Message = canonical.MessageContent{Role: "system", Content: canonical.TextContent("")}
		return cm, nil
	}

	content, err := convertContent(raw.Message.Content)
	if err != nil {
		return canonical.CanonicalMessage{}, fmt.Errorf("claudecode: decode message content: %w", err)
	}

	cm.Message = canonical.MessageContent{
		Role:    raw.Message.Role,
		Content: content,
		Model:   raw.Message.Model,
	}
	if raw.Message.Usage != nil {
		u := raw.Message.Usage
		cm.Message.Usage = &canonical.TokenUsage{
			InputTokens:              intPtr(u.InputTokens),
			OutputTokens:             intPtr(u.OutputTokens),
			CacheReadInputTokens:     intPtr(u.CacheReadInputTokens),
			CacheCreationInputTokens: intPtr(u.CacheCreationInputTokens),
		}
	}
	return cm, nil
}

// convertContent normalizes Claude Code's message.content - either a plain
// string or an array of {type, text|id/name/input|tool_use_id/content} -
// into canonical.ContentValue.
func convertContent(raw json.RawMessage) (canonical.ContentValue, error) {
	if len(raw) == 0 {
		return canonical.TextContent(""), nil
	}

	trimmed := trimLeadingSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return canonical.ContentValue{}, err
		}
		return canonical.TextContent(text), nil
	}

	var blocks []canonical.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return canonical.ContentValue{}, err
	}
	return canonical.StructuredContent(blocks), nil
}

func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\n' || b[0] == '\r') {
		b = b[1:]
	}
	return b
}

func intPtr(i int) *int { return &i }
