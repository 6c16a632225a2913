package codex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentsync/agentsync/internal/canonical"
)

const providerName = "codex"

// sessionMetaEnvelope and turnContextEnvelope carry just the fields the
// converter needs; RawRecord.Payload is re-decoded into these as needed.
type sessionMetaEnvelope struct {
	ID         string    `json:"id"`
	CWD        string    `json:"cwd"`
	Originator string    `json:"originator"`
	CLIVersion string    `json:"cli_version"`
	Git        *gitInfo  `json:"git"`
}

type gitInfo struct {
	CommitHash   string `json:"commit_hash"`
	Branch       string `json:"branch"`
	RepositoryURL string `json:"repository_url"`
}

type turnContextEnvelope struct {
	CWD   string `json:"cwd"`
	Model string `json:"model"`
}

// ToCanonical converts one Codex JSONL record into zero or more canonical
// messages. sessionID is the session this record belongs to (derived from
// the filename when the file has no session_meta line).
//
// Grounded on the day-bucketed-JSONL producer's response_item/event_msg
// split: user_message, agent_message, and agent_reasoning event_msg
// sub-types are dropped as duplicates of the response_item stream (the
// Open Question resolved in SPEC_FULL.md §9).
func ToCanonical(record RawRecord, sessionID string) ([]canonical.CanonicalMessage, error) {
	ts := record.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	uuid := generateUUID(record.Timestamp.String(), sessionID)

	switch record.Type {
	case "session_meta":
		var meta sessionMetaEnvelope
		if err := json.Unmarshal(record.Payload, &meta); err != nil {
			return nil, fmt.Errorf("codex: decode session_meta: %w", err)
		}
		branch := ""
		if meta.Git != nil {
			branch = meta.Git.Branch
		}
		msg := canonical.NewTextMessage(uuid, ts, canonical.MessageTypeMeta, sessionID, providerName, "assistant", "Session started")
		msg.CWD = meta.CWD
		msg.GitBranch = branch
		msg.Version = meta.CLIVersion
		msg.UserType = "external"
		msg.IsMeta = boolPtr(true)
		msg.ProviderMetadata = record.Payload
		return []canonical.CanonicalMessage{msg}, nil

	case "turn_context":
		var ctx turnContextEnvelope
		if err := json.Unmarshal(record.Payload, &ctx); err != nil {
			return nil, fmt.Errorf("codex: decode turn_context: %w", err)
		}
		msg := canonical.NewTextMessage(uuid, ts, canonical.MessageTypeMeta, sessionID, providerName, "assistant", "")
		msg.CWD = ctx.CWD
		msg.UserType = "external"
		msg.IsMeta = boolPtr(true)
		msg.ProviderMetadata = record.Payload
		return []canonical.CanonicalMessage{msg}, nil

	case "response_item":
		return convertResponseItem(record, uuid, ts, sessionID)

	case "event_msg":
		return convertEventMsg(record, uuid, ts, sessionID)

	default:
		return nil, fmt.Errorf("codex: unknown record type %q", record.Type)
	}
}

func convertResponseItem(record RawRecord, uuid, ts, sessionID string) ([]canonical.CanonicalMessage, error) {
	var base ResponseItemBase
	if err := json.Unmarshal(record.Payload, &base); err != nil {
		return nil, fmt.Errorf("codex: decode response_item: %w", err)
	}

	switch base.Type {
	case "message":
		var msg ResponseMessagePayload
		if err := json.Unmarshal(record.Payload, &msg); err != nil {
			return nil, fmt.Errorf("codex: decode message item: %w", err)
		}
		text := contentFromBlocks(msg.Content)
		kind := canonical.MessageTypeAssistant
		if msg.Role == "user" {
			kind = canonical.MessageTypeUser
		}
		cm := canonical.NewTextMessage(uuid, ts, kind, sessionID, providerName, msg.Role, text)
		cm.UserType = "external"
		cm.ProviderMetadata = mustJSON(map[string]string{"codex_type": "response_item", "item_type": "message"})
		return []canonical.CanonicalMessage{cm}, nil

	case "function_call", "custom_tool_call":
		var call ResponseToolCallPayload
		if err := json.Unmarshal(record.Payload, &call); err != nil {
			return nil, fmt.Errorf("codex: decode function_call: %w", err)
		}
		input := parseToolInput(call.Arguments, call.Input)
		callID := call.CallID
		if callID == "" {
			callID = uuid
		}
		block := canonical.NewToolUseBlock(callID, call.Name, input)
		cm := canonical.NewStructuredMessage(uuid, ts, canonical.MessageTypeAssistant, sessionID, providerName, "assistant", []canonical.ContentBlock{block})
		cm.UserType = "external"
		cm.ProviderMetadata = mustJSON(map[string]string{"codex_type": "response_item", "item_type": "function_call"})
		return []canonical.CanonicalMessage{cm}, nil

	case "function_call_output", "custom_tool_call_output":
		var out ResponseToolOutputPayload
		if err := json.Unmarshal(record.Payload, &out); err != nil {
			return nil, fmt.Errorf("codex: decode function_call_output: %w", err)
		}
		callID := out.CallID
		output := toolOutputString(out.Output)
		if callID == "" || output == "" {
			return nil, fmt.Errorf("codex: tool result missing required fields: call_id=%q, output_len=%d", callID, len(output))
		}
		block := canonical.NewToolResultBlock(callID, output, false)
		cm := canonical.NewStructuredMessage(uuid, ts, canonical.MessageTypeUser, sessionID, providerName, "user", []canonical.ContentBlock{block})
		cm.UserType = "external"
		cm.ProviderMetadata = mustJSON(map[string]string{"codex_type": "response_item", "item_type": "function_call_output"})
		return []canonical.CanonicalMessage{cm}, nil

	case "reasoning":
		var reasoning ResponseReasoningPayload
		if err := json.Unmarshal(record.Payload, &reasoning); err != nil {
			return nil, fmt.Errorf("codex: decode reasoning: %w", err)
		}
		var parts []string
		for _, s := range reasoning.Summary {
			if strings.TrimSpace(s.Text) != "" {
				parts = append(parts, s.Text)
			}
		}
		cm := canonical.NewTextMessage(uuid, ts, canonical.MessageTypeAssistant, sessionID, providerName, "assistant", strings.Join(parts, "\n"))
		cm.UserType = "external"
		cm.ProviderMetadata = mustJSON(map[string]string{"codex_type": "response_item", "item_type": "reasoning"})
		return []canonical.CanonicalMessage{cm}, nil

	default:
		cm := canonical.NewTextMessage(uuid, ts, canonical.MessageTypeAssistant, sessionID, providerName, "assistant", "")
		cm.UserType = "external"
		cm.ProviderMetadata = mustJSON(map[string]string{"codex_type": "response_item", "item_type": base.Type, "warning": "unknown response_item type"})
		return []canonical.CanonicalMessage{cm}, nil
	}
}

func convertEventMsg(record RawRecord, uuid, ts, sessionID string) ([]canonical.CanonicalMessage, error) {
	var event EventMsgPayload
	if err := json.Unmarshal(record.Payload, &event); err != nil {
		return nil, fmt.Errorf("codex: decode event_msg: %w", err)
	}

	switch event.Type {
	case "token_count":
		var usage *canonical.TokenUsage
		if event.Info != nil && event.Info.LastTokenUsage != nil {
			last := event.Info.LastTokenUsage
			usage = &canonical.TokenUsage{
				InputTokens:          intPtr(last.InputTokens),
				OutputTokens:         intPtr(last.OutputTokens),
				CacheReadInputTokens: intPtr(last.CachedInputTokens),
			}
		}
		cm := canonical.NewTextMessage(uuid, ts, canonical.MessageTypeMeta, sessionID, providerName, "assistant", "")
		cm.Message.Usage = usage
		cm.UserType = "external"
		cm.IsMeta = boolPtr(true)
		cm.ProviderMetadata = mustJSON(map[string]string{"codex_type": "event_msg", "event_type": "token_count"})
		return []canonical.CanonicalMessage{cm}, nil

	case "user_message", "agent_message", "agent_reasoning":
		// Duplicates of the response_item stream - dropped (resolved
		// Open Question, SPEC_FULL.md §9).
		return nil, nil

	default:
		cm := canonical.NewTextMessage(uuid, ts, canonical.MessageTypeMeta, sessionID, providerName, "assistant", "")
		cm.UserType = "external"
		cm.IsMeta = boolPtr(true)
		cm.ProviderMetadata = mustJSON(map[string]string{"codex_type": "event_msg", "event_type": event.Type, "warning": "unknown event_msg type"})
		return []canonical.CanonicalMessage{cm}, nil
	}
}

func parseToolInput(arguments, input json.RawMessage) json.RawMessage {
	if len(arguments) > 0 && string(arguments) != "null" {
		if s, ok := asJSONString(arguments); ok {
			var parsed json.RawMessage
			if json.Unmarshal([]byte(s), &parsed) == nil {
				return parsed
			}
		}
		return arguments
	}
	if len(input) > 0 && string(input) != "null" {
		return input
	}
	return nil
}

func asJSONString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func generateUUID(timestamp, sessionID string) string {
	sum := sha256.Sum256([]byte(timestamp + "|" + sessionID))
	return hex.EncodeToString(sum[:])[:32]
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
