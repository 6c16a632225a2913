// Package cursor implements the producer adapter for Cursor CLI sessions,
// which Cursor stores as rows in a per-workspace SQLite database rather
// than as files on disk.
package cursor

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentsync/agentsync/internal/adapter"
)

const (
	adapterID   = "cursor-cli"
	adapterName = "Cursor CLI"
)

// Adapter implements adapter.Adapter over Cursor's workspace-scoped
// state.vscdb databases.
type Adapter struct {
	homeDir string

	indexMu      sync.RWMutex
	sessionCache map[string]string // composer id -> state.vscdb path
}

// New creates a Cursor adapter rooted at the user's ~/.cursor directory.
func New() *Adapter {
	home, _ := os.UserHomeDir()
	return &Adapter{
		homeDir:      filepath.Join(home, ".cursor"),
		sessionCache: make(map[string]string),
	}
}

func (a *Adapter) ID() string   { return adapterID }
func (a *Adapter) Name() string { return adapterName }
func (a *Adapter) Icon() string { return "▲" }

// Capabilities reports that usage is unavailable - Cursor's blob rows
// carry no token accounting, unlike the other five producers.
func (a *Adapter) Capabilities() adapter.CapabilitySet {
	return adapter.CapabilitySet{
		adapter.CapSessions: true,
		adapter.CapMessages: true,
		adapter.CapUsage:    false,
		adapter.CapWatch:    true,
	}
}

// Detect reports whether a workspace database exists for projectRoot.
func (a *Adapter) Detect(projectRoot string) (bool, error) {
	_, err := os.Stat(a.dbPath(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// workspacePath derives the on-disk workspace directory for projectRoot,
// matching Cursor's own convention of hashing the absolute project path
// into a stable storage key.
func (a *Adapter) workspacePath(projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	sum := md5.Sum([]byte("file://" + abs))
	return filepath.Join(a.homeDir, "chats", hex.EncodeToString(sum[:]))
}

func (a *Adapter) dbPath(projectRoot string) string {
	return filepath.Join(a.workspacePath(projectRoot), "state.vscdb")
}

// Sessions lists every composer (Cursor's term for a chat thread) found in
// projectRoot's workspace database, newest first.
func (a *Adapter) Sessions(projectRoot string) ([]adapter.Session, error) {
	path := a.dbPath(projectRoot)
	db, err := openReadOnly(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}
	defer db.Close()

	grouped, err := loadComposerMessages(db)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(path)
	var updatedAt time.Time
	if statErr == nil {
		updatedAt = info.ModTime()
	} else {
		updatedAt = time.Now().UTC()
	}
	createdAt := updatedAt

	sessions := make([]adapter.Session, 0, len(grouped))
	a.indexMu.Lock()
	for _, composerID := range composerIDs(grouped) {
		a.sessionCache[composerID] = path

		msgs := grouped[composerID]
		name := firstUserText(msgs)
		if name == "" {
			name = shortID(composerID)
		}

		sessions = append(sessions, adapter.Session{
			ID:           composerID,
			Name:         truncateTitle(name, 50),
			Slug:         shortID(composerID),
			AdapterID:    adapterID,
			AdapterName:  adapterName,
			AdapterIcon:  a.Icon(),
			CreatedAt:    createdAt,
			UpdatedAt:    updatedAt,
			Duration:     updatedAt.Sub(createdAt),
			IsActive:     time.Since(updatedAt) < 5*time.Minute,
			MessageCount: len(msgs),
		})
	}
	a.indexMu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

// Messages returns every message in a composer thread, in database order.
func (a *Adapter) Messages(sessionID string) ([]adapter.Message, error) {
	a.indexMu.RLock()
	path, ok := a.sessionCache[sessionID]
	a.indexMu.RUnlock()
	if !ok {
		return nil, nil
	}

	db, err := openReadOnly(path)
	if err != nil {
		return nil, nil
	}
	defer db.Close()

	grouped, err := loadComposerMessages(db)
	if err != nil {
		return nil, err
	}
	rows := grouped[sessionID]

	info, statErr := os.Stat(path)
	created := time.Now().UTC()
	if statErr == nil {
		created = info.ModTime()
	}

	out := make([]adapter.Message, 0, len(rows))
	for i, row := range rows {
		role := inferRole(row.Blob)
		text := row.Blob.Content
		if text == "" && row.Blob.ComplexMessage != nil {
			var cm complexMessage
			if json.Unmarshal(row.Blob.ComplexMessage, &cm) == nil {
				text = cm.Content
			}
		}
		out = append(out, adapter.Message{
			ID:        row.Blob.UUID,
			Role:      role,
			Content:   text,
			Timestamp: created.Add(time.Duration(i) * time.Second),
		})
	}
	return out, nil
}

// Usage always returns a zero-value stat set - Cursor blobs carry no
// token accounting (see Capabilities).
func (a *Adapter) Usage(sessionID string) (*adapter.UsageStats, error) {
	messages, err := a.Messages(sessionID)
	if err != nil {
		return nil, err
	}
	return &adapter.UsageStats{MessageCount: len(messages)}, nil
}

// Watch polls the workspace database for Cursor sessions rather than
// watching the filesystem: state.vscdb is rewritten wholesale by Cursor on
// every message, which defeats content-diffing, but PRAGMA data_version
// changes on every commit and is cheap to poll.
func (a *Adapter) Watch(projectRoot string) (<-chan adapter.Event, error) {
	return newPollWatcher(a, projectRoot), nil
}

func firstUserText(msgs []composerMessage) string {
	for _, m := range msgs {
		if inferRole(m.Blob) == "user" && m.Blob.Content != "" {
			return m.Blob.Content
		}
	}
	return ""
}

// shortID returns the first 8 characters of an id.
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// truncateTitle truncates text to maxLen, normalizing embedded newlines.
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
