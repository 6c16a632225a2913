package opencode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/agentsync/agentsync/internal/canonical"
)

const providerName = adapterID

// aggregatedEntry is one message-or-tool-event OpenCode's storage tree
// aggregates into, produced by walking session -> message -> part files in
// timestamp order. A single message file can fan out into several entries
// (one per tool call plus one for any accompanying text), mirroring the
// way OpenCode itself splits a turn across separate part files.
type aggregatedEntry struct {
	entryType string // "user", "assistant", "tool_use", "tool_result"
	role      string
	timestamp int64 // unix millis
	blocks    []canonical.ContentBlock
}

// ConvertSession reads a session's messages and parts from storageDir and
// returns them as canonical messages in chronological order. storageDir is
// OpenCode's top-level storage directory (the parent of project/, session/,
// message/, part/), not a single file - OpenCode spreads one session
// across many small JSON files rather than a single transcript.
func ConvertSession(storageDir, sessionID string) ([]canonical.CanonicalMessage, error) {
	_, projectID, err := loadSessionByID(storageDir, sessionID)
	if err != nil {
		return nil, err
	}

	cwd := ""
	if projectID != "" {
		if proj, err := loadProjectByID(storageDir, projectID); err == nil {
			cwd = proj.Worktree
		}
	}

	messages, err := loadMessagesForSession(storageDir, sessionID)
	if err != nil {
		return nil, err
	}

	entries, err := aggregateEntries(storageDir, messages)
	if err != nil {
		return nil, err
	}

	out := make([]canonical.CanonicalMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToCanonical(e, sessionID, cwd))
	}
	return out, nil
}

// aggregateEntries turns a session's messages and their parts into a
// timestamp-ordered sequence of aggregated entries: a tool-type part
// becomes one "tool_use" entry plus (once its output lands) one
// "tool_result" entry, while text/file/patch parts accumulate into a
// single entry carrying the message's own role.
func aggregateEntries(storageDir string, messages []Message) ([]aggregatedEntry, error) {
	type timestamped struct {
		ts    int64
		entry aggregatedEntry
	}
	var timed []timestamped

	for _, msg := range messages {
		parts, err := loadPartsForMessage(storageDir, msg.ID)
		if err != nil {
			return nil, err
		}

		baseTS := msg.Time.CreatedTime().UnixMilli()
		var textBlocks []canonical.ContentBlock

		for _, part := range parts {
			partTS := baseTS
			if part.Time != nil && part.Time.Start != 0 {
				partTS = part.Time.Start
			}

			switch part.Type {
			case "text":
				if part.Text != "" {
					textBlocks = append(textBlocks, canonical.NewTextBlock(part.Text))
				}
			case "tool":
				if part.Tool == "" || part.CallID == "" || part.State == nil {
					continue
				}
				timed = append(timed, timestamped{ts: partTS, entry: aggregatedEntry{
					entryType: "tool_use",
					role:      "tool",
					timestamp: partTS,
					blocks:    []canonical.ContentBlock{canonical.NewToolUseBlock(part.CallID, part.Tool, part.State.Input)},
				}})
				if part.State.Output != "" {
					resultTS := partTS
					if part.Time != nil && part.Time.End != 0 {
						resultTS = part.Time.End
					} else {
						resultTS = partTS + 1
					}
					timed = append(timed, timestamped{ts: resultTS, entry: aggregatedEntry{
						entryType: "tool_result",
						role:      "tool",
						timestamp: resultTS,
						blocks:    []canonical.ContentBlock{canonical.NewToolResultBlock(part.CallID, part.State.Output, part.State.Status != "completed")},
					}})
				}
			case "file":
				if part.Filename != "" {
					textBlocks = append(textBlocks, canonical.NewTextBlock(fmt.Sprintf("[File: %s (%s)] URL: %s", part.Filename, part.Mime, part.URL)))
				}
			case "patch":
				if len(part.Files) > 0 {
					textBlocks = append(textBlocks, canonical.NewTextBlock(fmt.Sprintf("[Patch: %d files, hash: %s] Files: %s", len(part.Files), part.Hash, strings.Join(part.Files, ", "))))
				}
			}
			// step-start, step-finish, snapshot: no canonical representation.
		}

		if len(textBlocks) > 0 {
			timed = append(timed, timestamped{ts: baseTS, entry: aggregatedEntry{
				entryType: msg.Role,
				role:      msg.Role,
				timestamp: baseTS,
				blocks:    textBlocks,
			}})
		}
	}

	sort.SliceStable(timed, func(i, j int) bool { return timed[i].ts < timed[j].ts })

	out := make([]aggregatedEntry, 0, len(timed))
	for _, t := range timed {
		out = append(out, t.entry)
	}
	return out, nil
}

// entryToCanonical converts a single aggregated entry to canonical form.
// tool_use/tool_result entries are assistant-kind messages carrying one
// structured block each, matching how the teacher's own split logic
// expects a multi-block assistant turn to be represented before
// canonical.Split later breaks it into individually-timestamped lines.
func entryToCanonical(e aggregatedEntry, sessionID, cwd string) canonical.CanonicalMessage {
	msgType := canonical.MessageTypeMeta
	role := e.role
	switch e.entryType {
	case "user":
		msgType = canonical.MessageTypeUser
	case "assistant", "tool_use":
		msgType = canonical.MessageTypeAssistant
	case "tool_result":
		// Tool results are canonically user-kind turns even though
		// OpenCode's own part role is "tool".
		msgType = canonical.MessageTypeUser
		role = "user"
	}

	ts := msToRFC3339(e.timestamp)
	id := uuid.NewString()

	var cm canonical.CanonicalMessage
	if len(e.blocks) == 1 && e.blocks[0].Type == canonical.BlockTypeText {
		cm = canonical.NewTextMessage(id, ts, msgType, sessionID, providerName, role, e.blocks[0].Text)
	} else {
		cm = canonical.NewStructuredMessage(id, ts, msgType, sessionID, providerName, role, e.blocks)
	}
	cm.CWD = cwd
	cm.UserType = "external"
	cm.ProviderMetadata = rawMetadata(map[string]any{"opencode_type": e.entryType})
	return cm
}

func rawMetadata(m map[string]any) json.RawMessage {
	b, _ := json.Marshal(m)
	return b
}

func msToRFC3339(ms int64) string {
	return fromMillis(ms).Format("2006-01-02T15:04:05.000Z")
}

// loadSessionByID finds a session's JSON file by scanning every project's
// session directory - OpenCode does not expose a direct sessionID ->
// projectID index on disk. The project id is read from the JSON itself
// when present, falling back to the enclosing directory name otherwise.
func loadSessionByID(storageDir, sessionID string) (Session, string, error) {
	sessionBase := filepath.Join(storageDir, "session")
	entries, err := os.ReadDir(sessionBase)
	if err != nil {
		return Session{}, "", fmt.Errorf("opencode: read session dir: %w", err)
	}

	for _, projEntry := range entries {
		if !projEntry.IsDir() {
			continue
		}
		path := filepath.Join(sessionBase, projEntry.Name(), sessionID+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return Session{}, "", fmt.Errorf("opencode: parse session %s: %w", sessionID, err)
		}
		projectID := sess.ProjectID
		if projectID == "" {
			projectID = projEntry.Name()
		}
		return sess, projectID, nil
	}
	return Session{}, "", fmt.Errorf("opencode: session %s not found", sessionID)
}

func loadProjectByID(storageDir, projectID string) (Project, error) {
	path := filepath.Join(storageDir, "project", projectID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Project{}, err
	}
	var proj Project
	if err := json.Unmarshal(data, &proj); err != nil {
		return Project{}, err
	}
	return proj, nil
}

func loadMessagesForSession(storageDir, sessionID string) ([]Message, error) {
	messageDir := filepath.Join(storageDir, "message", sessionID)
	entries, err := os.ReadDir(messageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opencode: read message dir: %w", err)
	}

	messages := make([]Message, 0, len(entries))
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(messageDir, e.Name()))
		if err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Time.CreatedTime().Before(messages[j].Time.CreatedTime())
	})
	return messages, nil
}

func loadPartsForMessage(storageDir, messageID string) ([]Part, error) {
	partDir := filepath.Join(storageDir, "part", messageID)
	entries, err := os.ReadDir(partDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opencode: read part dir: %w", err)
	}

	parts := make([]Part, 0, len(entries))
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(partDir, e.Name()))
		if err != nil {
			continue
		}
		var part Part
		if err := json.Unmarshal(data, &part); err != nil {
			continue
		}
		parts = append(parts, part)
	}

	sort.SliceStable(parts, func(i, j int) bool {
		var ti, tj int64
		if parts[i].Time != nil {
			ti = parts[i].Time.Start
		}
		if parts[j].Time != nil {
			tj = parts[j].Time.Start
		}
		return ti < tj
	})
	return parts, nil
}
