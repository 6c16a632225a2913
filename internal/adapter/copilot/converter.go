package copilot

import (
	"encoding/json"

	"github.com/agentsync/agentsync/internal/canonical"
)

const providerName = "copilot"

// ToCanonical converts one Copilot timeline entry into canonical messages.
// Unlike Claude Code and Codex, Copilot's timeline is an event log rather
// than a message log, so most event types map to exactly one canonical
// message; tool.execution_start and tool.execution_complete map to the
// tool_use/tool_result halves of a structured assistant turn.
func ToCanonical(entry TimelineEntry, sessionID, cwd string) (canonical.CanonicalMessage, error) {
	switch entry.eventType() {
	case "session.start":
		return convertSessionStart(entry, sessionID, cwd), nil
	case "user.message":
		return convertUserMessage(entry, sessionID, cwd), nil
	case "assistant.message":
		return convertAssistantMessage(entry, sessionID, cwd), nil
	case "tool.execution_start":
		return convertToolUse(entry, sessionID, cwd), nil
	case "tool.execution_complete":
		return convertToolResult(entry, sessionID, cwd), nil
	case "session.info":
		return convertInfoMessage(entry, sessionID, cwd), nil
	default:
		return convertUnknownMessage(entry, sessionID, cwd), nil
	}
}

func metaTrue() *bool { b := true; return &b }

func convertSessionStart(e TimelineEntry, sessionID, cwd string) canonical.CanonicalMessage {
	cm := canonical.NewTextMessage(e.id(), e.Timestamp, canonical.MessageTypeMeta, sessionID, providerName, "meta", "Session started")
	cm.CWD = cwd
	cm.IsMeta = metaTrue()
	cm.ProviderMetadata = rawData(e)
	return cm
}

func convertUserMessage(e TimelineEntry, sessionID, cwd string) canonical.CanonicalMessage {
	cm := canonical.NewTextMessage(e.id(), e.Timestamp, canonical.MessageTypeUser, sessionID, providerName, "user", e.stringField("content"))
	cm.CWD = cwd
	cm.UserType = "external"
	cm.ProviderMetadata = rawMetadata(map[string]any{"copilot_type": "user"})
	return cm
}

func convertAssistantMessage(e TimelineEntry, sessionID, cwd string) canonical.CanonicalMessage {
	text := extractText(e)
	_, hasIntention := e.Data["intentionSummary"]

	cm := canonical.NewTextMessage(e.id(), e.Timestamp, canonical.MessageTypeAssistant, sessionID, providerName, "assistant", text)
	cm.CWD = cwd
	cm.UserType = "external"
	cm.ProviderMetadata = rawMetadata(map[string]any{
		"copilot_type":  "copilot",
		"has_intention": hasIntention,
	})
	return cm
}

func convertInfoMessage(e TimelineEntry, sessionID, cwd string) canonical.CanonicalMessage {
	cm := canonical.NewTextMessage(e.id(), e.Timestamp, canonical.MessageTypeMeta, sessionID, providerName, "assistant", extractText(e))
	cm.CWD = cwd
	cm.UserType = "external"
	cm.IsMeta = metaTrue()
	cm.ProviderMetadata = rawMetadata(map[string]any{"copilot_type": "info"})
	return cm
}

// convertToolUse maps a tool.execution_start event to an assistant message
// carrying a single tool_use block.
func convertToolUse(e TimelineEntry, sessionID, cwd string) canonical.CanonicalMessage {
	callID := e.stringField("callId")
	if callID == "" {
		callID = e.id()
	}
	toolName := e.stringField("name")
	if toolName == "" {
		toolName = "unknown"
	}

	block := canonical.NewToolUseBlock(callID, toolName, decodeArguments(e.Data["arguments"]))

	_, hasIntention := e.Data["intentionSummary"]
	_, hasTitle := e.Data["toolTitle"]

	cm := canonical.NewStructuredMessage(callID, e.Timestamp, canonical.MessageTypeAssistant, sessionID, providerName, "assistant", []canonical.ContentBlock{block})
	cm.CWD = cwd
	cm.UserType = "external"
	cm.ProviderMetadata = rawMetadata(map[string]any{
		"copilot_type":   "tool_call_requested",
		"has_intention":  hasIntention,
		"has_tool_title": hasTitle,
	})
	return cm
}

// convertToolResult maps a tool.execution_complete event to an assistant
// message carrying a single tool_result block, parented to the originating
// tool_use's call id.
func convertToolResult(e TimelineEntry, sessionID, cwd string) canonical.CanonicalMessage {
	callID := e.stringField("callId")
	if callID == "" {
		callID = e.id()
	}

	result := extractResultText(e.Data["result"])
	block := canonical.NewToolResultBlock(callID, result, false)

	cm := canonical.NewStructuredMessage(e.id()+"_result", e.Timestamp, canonical.MessageTypeAssistant, sessionID, providerName, "assistant", []canonical.ContentBlock{block})
	cm.CWD = cwd
	cm.UserType = "external"
	cm.ParentUUID = callID
	cm.ProviderMetadata = rawMetadata(map[string]any{"copilot_type": "tool_result"})
	return cm
}

func convertUnknownMessage(e TimelineEntry, sessionID, cwd string) canonical.CanonicalMessage {
	cm := canonical.NewTextMessage(e.id(), e.Timestamp, canonical.MessageTypeMeta, sessionID, providerName, "assistant", extractText(e))
	cm.CWD = cwd
	cm.UserType = "external"
	cm.IsMeta = metaTrue()
	cm.ProviderMetadata = rawMetadata(map[string]any{
		"copilot_type": e.eventType(),
		"warning":      "unknown_type",
	})
	return cm
}

// extractText reads "content", falling back to "text" - the two fields
// Copilot uses interchangeably across event types for the displayed body.
func extractText(e TimelineEntry) string {
	if s := e.stringField("content"); s != "" {
		return s
	}
	return e.stringField("text")
}

// extractResultText renders a tool result payload as text: a bare JSON
// string passes through, anything else is re-serialized.
func extractResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// decodeArguments normalizes a tool call's arguments, which Copilot encodes
// as either a JSON object or a JSON-encoded string of one.
func decodeArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		var probe json.RawMessage
		if json.Unmarshal([]byte(asString), &probe) == nil {
			return probe
		}
		reEncoded, _ := json.Marshal(asString)
		return reEncoded
	}
	return raw
}

func rawData(e TimelineEntry) json.RawMessage {
	b, _ := json.Marshal(e.Data)
	return b
}

func rawMetadata(m map[string]any) json.RawMessage {
	b, _ := json.Marshal(m)
	return b
}
