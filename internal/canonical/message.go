// Package canonical defines the normalized line-delimited JSON message
// schema shared by every producer adapter. It is purely declarative: no
// I/O, no side effects, just types, constructors, and serialization laws.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType is the kind of a canonical message.
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeMeta      MessageType = "meta"
)

// TokenUsage tracks token counts for a single message. Fields serialize in
// snake_case even though the enclosing message uses camelCase - this mirrors
// the producer-native wire shapes the adapters read from.
type TokenUsage struct {
	InputTokens              *int `json:"input_tokens,omitempty"`
	OutputTokens             *int `json:"output_tokens,omitempty"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty"`
}

// ContentBlock is one element of structured message content.
type ContentBlock struct {
	Type string `json:"type"`

	// Text / Thinking blocks.
	Text string `json:"text,omitempty"`

	// ToolUse blocks.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolResult blocks.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// NewToolUseBlock builds a tool_use content block.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

// NewToolResultBlock builds a tool_result content block. An empty content
// string is rewritten to the literal "(no output)" - canonical content is
// never the empty string (see scenario S2 in the specification).
func NewToolResultBlock(toolUseID string, content string, isError bool) ContentBlock {
	if content == "" {
		content = "(no output)"
	}
	raw, _ := json.Marshal(content)
	return ContentBlock{
		Type:      BlockTypeToolResult,
		ToolUseID: toolUseID,
		Content:   raw,
		IsError:   &isError,
	}
}

// NewTextBlock builds a text block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// NewThinkingBlock builds a thinking block.
func NewThinkingBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeThinking, Text: text}
}

// ContentValue is either a plain string or an ordered list of ContentBlock.
// Producers emit both shapes natively; canonical readers must accept either.
type ContentValue struct {
	Text     string
	Blocks   []ContentBlock
	isBlocks bool
}

// TextContent wraps a plain string as ContentValue.
func TextContent(text string) ContentValue {
	return ContentValue{Text: text}
}

// StructuredContent wraps a block sequence as ContentValue.
func StructuredContent(blocks []ContentBlock) ContentValue {
	return ContentValue{Blocks: blocks, isBlocks: true}
}

// IsStructured reports whether the content is a block sequence.
func (c ContentValue) IsStructured() bool { return c.isBlocks }

func (c ContentValue) MarshalJSON() ([]byte, error) {
	if c.isBlocks {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

func (c *ContentValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("canonical: empty content")
	}
	if trimmed[0] == '[' {
		var blocks []ContentBlock
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return fmt.Errorf("canonical: decode structured content: %w", err)
		}
		*c = StructuredContent(blocks)
		return nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err != nil {
		return fmt.Errorf("canonical: decode text content: %w", err)
	}
	*c = TextContent(text)
	return nil
}

// MessageContent is the role-tagged payload of a canonical message.
type MessageContent struct {
	Role    string       `json:"role"`
	Content ContentValue `json:"content"`
	Model   string       `json:"model,omitempty"`
	Usage   *TokenUsage  `json:"usage,omitempty"`
}

// CanonicalMessage is one line of a canonical session file.
type CanonicalMessage struct {
	UUID       string      `json:"uuid"`
	Timestamp  string      `json:"timestamp"`
	MessageType MessageType `json:"messageType"`
	SessionID  string      `json:"sessionId"`
	Provider   string      `json:"provider"`

	CWD        string `json:"cwd,omitempty"`
	GitBranch  string `json:"gitBranch,omitempty"`
	Version    string `json:"version,omitempty"`
	ParentUUID string `json:"parentUuid,omitempty"`

	IsSidechain *bool  `json:"isSidechain,omitempty"`
	UserType    string `json:"userType,omitempty"`
	IsMeta      *bool  `json:"isMeta,omitempty"`
	RequestID   string `json:"requestId,omitempty"`

	Message MessageContent `json:"message"`

	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
	ToolUseResult    json.RawMessage `json:"toolUseResult,omitempty"`
}

// NewTextMessage builds a minimal canonical message carrying plain text.
func NewTextMessage(uuid, timestamp string, msgType MessageType, sessionID, provider, role, text string) CanonicalMessage {
	return CanonicalMessage{
		UUID:        uuid,
		Timestamp:   timestamp,
		MessageType: msgType,
		SessionID:   sessionID,
		Provider:    provider,
		Message: MessageContent{
			Role:    role,
			Content: TextContent(text),
		},
	}
}

// NewStructuredMessage builds a minimal canonical message carrying a block
// sequence.
func NewStructuredMessage(uuid, timestamp string, msgType MessageType, sessionID, provider, role string, blocks []ContentBlock) CanonicalMessage {
	return CanonicalMessage{
		UUID:        uuid,
		Timestamp:   timestamp,
		MessageType: msgType,
		SessionID:   sessionID,
		Provider:    provider,
		Message: MessageContent{
			Role:    role,
			Content: StructuredContent(blocks),
		},
	}
}
