// Package normalize converts a producer's native session file into the
// canonical LDJSON cache file the upload queue and the rest of the system
// read. It is the one place the per-producer ToCanonical converters and
// canonical.Split/ValidateToolPairing/MonotonicTimestamps are actually
// invoked against real session data, rather than only from converter tests.
package normalize

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agentsync/agentsync/internal/adapter/claudecode"
	"github.com/agentsync/agentsync/internal/adapter/codex"
	"github.com/agentsync/agentsync/internal/adapter/copilot"
	"github.com/agentsync/agentsync/internal/adapter/cursor"
	"github.com/agentsync/agentsync/internal/adapter/opencode"
	"github.com/agentsync/agentsync/internal/canonical"
)

// converterFunc reads a producer's native session file and returns its
// messages in canonical form, already split and validated.
type converterFunc func(nativePath, sessionID string) ([]canonical.CanonicalMessage, error)

var converters = map[string]converterFunc{
	"claude-code": convertClaudeCode,
	"codex":       convertCodex,
	"cursor":      convertCursor,
	"copilot":     convertCopilot,
	"opencode":    convertOpenCode,
}

// Supports reports whether a canonical converter exists for producer.
func Supports(producer string) bool {
	_, ok := converters[producer]
	return ok
}

// CachePath returns the on-disk location of a session's canonical file:
// <cacheDir>/<producer>/[<projectName>/]<sessionID>.jsonl, matching the
// keyed-by-(producer, cwd, session-id) layout the upload queue expects.
func CachePath(cacheDir, producer, projectName, sessionID string) string {
	safeSession := sanitizeComponent(sessionID)
	if projectName == "" {
		return filepath.Join(cacheDir, producer, safeSession+".jsonl")
	}
	return filepath.Join(cacheDir, producer, sanitizeComponent(projectName), safeSession+".jsonl")
}

// ToCanonicalFile converts a producer's native session file into canonical
// LDJSON and writes it to CachePath(cacheDir, producer, projectName,
// sessionID), returning the path written. Producers with no registered
// converter return an empty path and a nil error - historical scanning and
// uploads for those producers fall back to their pre-normalization
// behavior until a converter exists.
func ToCanonicalFile(cacheDir, producer, projectName, sessionID, nativePath string) (string, error) {
	convert, ok := converters[producer]
	if !ok {
		return "", nil
	}

	messages, err := convert(nativePath, sessionID)
	if err != nil {
		return "", fmt.Errorf("normalize: convert %s session %s: %w", producer, sessionID, err)
	}

	if err := canonical.ValidateToolPairing(messages); err != nil {
		return "", fmt.Errorf("normalize: %s session %s: %w", producer, sessionID, err)
	}
	if !canonical.MonotonicTimestamps(messages) {
		return "", fmt.Errorf("normalize: %s session %s: timestamps not monotonic", producer, sessionID)
	}

	path := CachePath(cacheDir, producer, projectName, sessionID)
	if err := canonical.WriteFile(path, messages); err != nil {
		return "", fmt.Errorf("normalize: write canonical file %s: %w", path, err)
	}
	return path, nil
}

// splitStructured applies canonical.Split to a converted message only when
// its content is a block sequence belonging to an assistant-kind message.
// Split's flush logic hardcodes "assistant" as the role for accumulated
// text and thinking blocks, which would mislabel a plain multi-block user
// message (e.g. a tool_result-only turn) if applied indiscriminately - user
// messages are passed through unsplit instead, since Claude Code and Codex
// never emit more than one block type per user turn.
func splitStructured(base canonical.CanonicalMessage, tagSeq *int) []canonical.CanonicalMessage {
	if base.MessageType != canonical.MessageTypeAssistant || !base.Message.Content.IsStructured() {
		return []canonical.CanonicalMessage{base}
	}
	blocks := base.Message.Content.Blocks
	if len(blocks) <= 1 {
		return []canonical.CanonicalMessage{base}
	}
	nextTag := func() string {
		*tagSeq++
		return strconv.Itoa(*tagSeq)
	}
	return canonical.Split(base, blocks, nextTag)
}

func convertClaudeCode(nativePath, sessionID string) ([]canonical.CanonicalMessage, error) {
	f, err := os.Open(nativePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", nativePath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []canonical.CanonicalMessage
	tagSeq := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw claudecode.RawMessage
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("decode claude-code line: %w", err)
		}
		cm, err := claudecode.ToCanonical(raw, sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, splitStructured(cm, &tagSeq)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", nativePath, err)
	}
	return out, nil
}

func convertCodex(nativePath, sessionID string) ([]canonical.CanonicalMessage, error) {
	f, err := os.Open(nativePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", nativePath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []canonical.CanonicalMessage
	tagSeq := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record codex.RawRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("decode codex line: %w", err)
		}
		msgs, err := codex.ToCanonical(record, sessionID)
		if err != nil {
			return nil, err
		}
		for _, cm := range msgs {
			out = append(out, splitStructured(cm, &tagSeq)...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", nativePath, err)
	}
	return out, nil
}

// convertCursor reads a Cursor workspace database rather than a native
// on-disk session file - nativePath here is the state.vscdb path the
// scanner recorded for this composer, not a JSONL transcript.
func convertCursor(nativePath, sessionID string) ([]canonical.CanonicalMessage, error) {
	return cursor.ConvertSession(nativePath, sessionID)
}

// convertCopilot reads a Copilot snapshot file - nativePath here is the
// mirrored snapshot's JSONL path the scanner/watcher produced via
// snapshot.Manager.Observe, never Copilot's own live session file, which
// may be rewritten out from under a reader at any time.
func convertCopilot(nativePath, sessionID string) ([]canonical.CanonicalMessage, error) {
	f, err := os.Open(nativePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", nativePath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []canonical.CanonicalMessage
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry copilot.TimelineEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode copilot snapshot line: %w", err)
		}
		cwd := copilot.ExtractCWD(entry)
		cm, err := copilot.ToCanonical(entry, sessionID, cwd)
		if err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", nativePath, err)
	}
	return out, nil
}

// convertOpenCode reads an OpenCode storage tree rather than a single
// native session file - nativePath here is the top-level storage
// directory the scanner recorded (the parent of session/, message/,
// part/), since a single OpenCode session is spread across many small
// JSON files rather than one transcript.
func convertOpenCode(nativePath, sessionID string) ([]canonical.CanonicalMessage, error) {
	return opencode.ConvertSession(nativePath, sessionID)
}

func sanitizeComponent(s string) string {
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	s = strings.ReplaceAll(s, "/", "_")
	if s == "" {
		return "_"
	}
	return s
}
