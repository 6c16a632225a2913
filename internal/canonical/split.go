package canonical

import "fmt"

// Split enforces invariant 2 (tool_result only in user-kind messages,
// tool_use only in assistant-kind messages) on a single native message that
// may pack text, thinking, tool_use, and tool_result blocks together.
//
// Splitting rules:
//   - consecutive text blocks accumulate into one assistant text message
//   - each tool_use terminates the text accumulator and is emitted alone
//   - each tool_result terminates the text accumulator, emitted alone,
//     role forced to "user"
//   - thinking blocks aggregate into a trailing assistant message so they
//     never share a message with a tool operation
//
// Split is idempotent: calling it again on its own output returns the same
// sequence, because every emitted message already contains at most one
// tool_use/tool_result block and no mixed text+thinking+tool content.
func Split(base CanonicalMessage, blocks []ContentBlock, nextTag func() string) []CanonicalMessage {
	var out []CanonicalMessage
	var textAcc []ContentBlock
	var thinkingAcc []ContentBlock

	flushText := func() {
		if len(textAcc) == 0 {
			return
		}
		out = append(out, splitVariant(base, MessageTypeAssistant, "assistant", textAcc, nextTag()))
		textAcc = nil
	}
	flushThinking := func() {
		if len(thinkingAcc) == 0 {
			return
		}
		out = append(out, splitVariant(base, MessageTypeAssistant, "assistant", thinkingAcc, nextTag()))
		thinkingAcc = nil
	}

	for _, b := range blocks {
		switch b.Type {
		case BlockTypeText:
			textAcc = append(textAcc, b)
		case BlockTypeThinking:
			thinkingAcc = append(thinkingAcc, b)
		case BlockTypeToolUse:
			flushText()
			out = append(out, splitVariant(base, MessageTypeAssistant, "assistant", []ContentBlock{b}, nextTag()))
		case BlockTypeToolResult:
			flushText()
			out = append(out, splitVariant(base, MessageTypeUser, "user", []ContentBlock{b}, nextTag()))
		default:
			// Unknown block kinds are preserved verbatim in the text
			// accumulator's position to avoid silently dropping data.
			textAcc = append(textAcc, b)
		}
	}
	flushText()
	flushThinking()

	if len(out) == 0 {
		// Nothing to split; emit the base message unchanged, single block.
		return []CanonicalMessage{base}
	}
	return out
}

func splitVariant(base CanonicalMessage, kind MessageType, role string, blocks []ContentBlock, tag string) CanonicalMessage {
	m := base
	m.UUID = fmt.Sprintf("%s-%s", base.UUID, tag)
	m.MessageType = kind
	m.Message = MessageContent{
		Role:    role,
		Content: StructuredContent(blocks),
		Model:   base.Message.Model,
		Usage:   base.Message.Usage,
	}
	return m
}

// ValidateToolPairing checks universal invariant 1 across an entire session:
// every tool_use's containing message must be assistant-kind, and any
// tool_result referencing it must be in a user-kind message. Orphaned
// tool_use blocks (no matching tool_result) are permitted and are not
// reported as errors - the spec only requires they be flagged in provider
// metadata by the adapter that emits them.
func ValidateToolPairing(messages []CanonicalMessage) error {
	useKind := map[string]MessageType{}
	for _, m := range messages {
		if !m.Message.Content.IsStructured() {
			continue
		}
		for _, b := range m.Message.Content.Blocks {
			if b.Type == BlockTypeToolUse {
				useKind[b.ID] = m.MessageType
			}
		}
	}
	for _, m := range messages {
		if !m.Message.Content.IsStructured() {
			continue
		}
		for _, b := range m.Message.Content.Blocks {
			if b.Type != BlockTypeToolResult {
				continue
			}
			if m.MessageType != MessageTypeUser {
				return fmt.Errorf("canonical: tool_result %s in non-user message %s", b.ToolUseID, m.UUID)
			}
			if kind, ok := useKind[b.ToolUseID]; ok && kind != MessageTypeAssistant {
				return fmt.Errorf("canonical: tool_use %s not in assistant message", b.ToolUseID)
			}
		}
	}
	return nil
}

// MonotonicTimestamps checks universal invariant 2: message timestamps
// within a session must be non-decreasing. Timestamps compare as RFC3339
// strings, which sort correctly when all messages use the same fixed-width
// millisecond format produced by this package.
func MonotonicTimestamps(messages []CanonicalMessage) bool {
	for i := 1; i < len(messages); i++ {
		if messages[i].Timestamp < messages[i-1].Timestamp {
			return false
		}
	}
	return true
}
