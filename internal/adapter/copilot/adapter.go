// Package copilot implements the producer adapter for GitHub Copilot CLI
// sessions. Copilot keeps one mutable JSON file per session under
// history-session-state/, rewritten in place as the conversation grows
// rather than appended to - the opposite of every other producer's
// append-only transcript, which is why this producer also owns the
// snapshot manager (internal/snapshot) used to mirror it into a stable,
// truncation-resilient copy before anything downstream reads it.
package copilot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentsync/agentsync/internal/adapter"
)

const (
	adapterID      = "github-copilot"
	adapterName    = "GitHub Copilot"
	sessionDirName = "history-session-state"
	unknownProject = "copilot-sessions"
)

// Adapter implements adapter.Adapter over Copilot's history-session-state
// directory of mutable session files.
type Adapter struct {
	homeDir string

	mu           sync.RWMutex
	sessionCache map[string]string // session id -> session file path
}

// New creates a Copilot adapter rooted at the user's ~/.copilot directory.
func New() *Adapter {
	home, _ := os.UserHomeDir()
	return &Adapter{
		homeDir:      filepath.Join(home, ".copilot"),
		sessionCache: make(map[string]string),
	}
}

func (a *Adapter) ID() string   { return adapterID }
func (a *Adapter) Name() string { return adapterName }
func (a *Adapter) Icon() string { return "●" }

func (a *Adapter) Capabilities() adapter.CapabilitySet {
	return adapter.CapabilitySet{
		adapter.CapSessions: true,
		adapter.CapMessages: true,
		adapter.CapUsage:    true,
		adapter.CapWatch:    true,
	}
}

func (a *Adapter) sessionDir() string {
	return filepath.Join(a.homeDir, sessionDirName)
}

// Detect reports whether any Copilot session resolves to projectRoot, by
// trusted-folder matching if the config names one, or by falling back to
// true whenever the session directory exists at all - Copilot does not
// natively partition sessions by project the way the other producers do.
func (a *Adapter) Detect(projectRoot string) (bool, error) {
	_, err := os.Stat(a.sessionDir())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Sessions lists every Copilot session file, newest first. Sessions whose
// timeline resolves (via trusted-folder matching) to a project other than
// projectRoot's base name are skipped once projectRoot is non-empty.
func (a *Adapter) Sessions(projectRoot string) ([]adapter.Session, error) {
	dir := a.sessionDir()
	files, err := listSessionFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cfg, _ := loadConfig(a.homeDir)
	wantProject := ""
	if projectRoot != "" {
		wantProject = filepath.Base(projectRoot)
	}

	sessions := make([]adapter.Session, 0, len(files))
	a.mu.Lock()
	for _, path := range files {
		sess, info, err := readSessionFile(path)
		if err != nil {
			continue
		}

		project, _, matched := detectProjectAndCWD(sess.Timeline, cfg.TrustedFolders)
		if !matched {
			project = unknownProject
		}
		if wantProject != "" && project != wantProject {
			continue
		}

		sessionID := sessionIDFromFile(path, sess)
		a.sessionCache[sessionID] = path

		name := firstUserText(sess.ChatMessages)
		if name == "" {
			name = sessionID
		}

		start, end := sessionTimespan(sess, info)

		sessions = append(sessions, adapter.Session{
			ID:           sessionID,
			Name:         truncateTitle(name, 120),
			Slug:         shortID(sessionID),
			AdapterID:    adapterID,
			AdapterName:  adapterName,
			AdapterIcon:  a.Icon(),
			CreatedAt:    start,
			UpdatedAt:    end,
			Duration:     end.Sub(start),
			IsActive:     time.Since(end) < 5*time.Minute,
			MessageCount: countRealMessages(sess.ChatMessages),
		})
	}
	a.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// Messages returns every chat turn in a session, in file order.
func (a *Adapter) Messages(sessionID string) ([]adapter.Message, error) {
	a.mu.RLock()
	path, ok := a.sessionCache[sessionID]
	a.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	sess, info, err := readSessionFile(path)
	if err != nil {
		return nil, err
	}

	out := make([]adapter.Message, 0, len(sess.ChatMessages))
	ts := sess.startTimeOrFallback(info)
	for i, cm := range sess.ChatMessages {
		if cm.Content == "" && len(cm.ToolCalls) == 0 {
			continue
		}
		out = append(out, adapter.Message{
			ID:        sessionID + "_" + strconv.Itoa(i),
			Role:      cm.Role,
			Content:   cm.Content,
			Timestamp: ts.Add(time.Duration(i) * time.Second),
		})
	}
	return out, nil
}

// Usage returns only a message count - Copilot's own session file carries
// no token accounting the way Claude Code or Codex do.
func (a *Adapter) Usage(sessionID string) (*adapter.UsageStats, error) {
	messages, err := a.Messages(sessionID)
	if err != nil {
		return nil, err
	}
	return &adapter.UsageStats{MessageCount: len(messages)}, nil
}

// Watch polls the session directory for content changes rather than
// relying solely on fsnotify events: Copilot holds its session file open
// across writes, so the underlying inode's mtime/size lag until the editor
// closes or fsyncs it, defeating event-driven notification on its own (see
// newPollWatcher).
func (a *Adapter) Watch(projectRoot string) (<-chan adapter.Event, error) {
	return newPollWatcher(a), nil
}

func (s Session) startTimeOrFallback(info os.FileInfo) time.Time {
	if t, err := time.Parse(time.RFC3339, s.StartTime); err == nil {
		return t.UTC()
	}
	return info.ModTime().UTC()
}

func listSessionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".json" && strings.HasPrefix(name, "session_") {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out, nil
}

func readSessionFile(path string) (Session, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Session{}, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, nil, err
	}
	return sess, info, nil
}

// sessionIDFromFile strips the "session_" prefix and trailing timestamp
// suffix Copilot adds to its own filenames, falling back to the id recorded
// inside the file.
func sessionIDFromFile(path string, sess Session) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.TrimPrefix(base, "session_")
	if base != "" {
		return base
	}
	return sess.SessionID
}

func sessionTimespan(sess Session, info os.FileInfo) (start, end time.Time) {
	start, end = time.Time{}, time.Time{}
	for _, entry := range sess.Timeline {
		t, err := time.Parse(time.RFC3339, entry.Timestamp)
		if err != nil {
			continue
		}
		t = t.UTC()
		if start.IsZero() || t.Before(start) {
			start = t
		}
		if end.IsZero() || t.After(end) {
			end = t
		}
	}
	if start.IsZero() {
		if t, err := time.Parse(time.RFC3339, sess.StartTime); err == nil {
			start = t.UTC()
		} else {
			start = info.ModTime().UTC()
		}
	}
	if end.IsZero() {
		end = info.ModTime().UTC()
	}
	return start, end
}

func countRealMessages(msgs []ChatMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Content != "" || len(m.ToolCalls) > 0 {
			n++
		}
	}
	return n
}

func firstUserText(msgs []ChatMessage) string {
	for _, m := range msgs {
		if m.Role == "user" && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func truncateTitle(s string, maxLen int) string {
	s = sanitizeTitle(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func sanitizeTitle(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' {
			r = ' '
		}
		out = append(out, r)
	}
	return strings.TrimSpace(string(out))
}
