package syncorch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentsync/agentsync/internal/adapter/copilot"
	"github.com/agentsync/agentsync/internal/adapter/cursor"
	"github.com/agentsync/agentsync/internal/adapter/opencode"
)

// Descriptor is a minimal session summary produced by a historical scan -
// enough to upsert into the local store without decoding the entire file
// into canonical messages.
type Descriptor struct {
	Provider         string
	ProjectName      string
	SessionID        string
	FilePath         string
	FileName         string
	FileSize         int64
	CWD              string
	SessionStartTime *time.Time
	SessionEndTime   *time.Time
	DurationMS       *int64
}

// scanFunc discovers every session a producer has ever written, given its
// configured home directory.
type scanFunc func(homeDir string) ([]Descriptor, error)

var scanners = map[string]scanFunc{
	"claude-code": scanClaudeCode,
	"codex":       scanCodex,
	"cursor":      scanCursor,
	"copilot":     scanCopilot,
	"opencode":    scanOpenCode,
}

// scanProducer dispatches to the producer's scan function. Producers with
// no scanner registered (Gemini CLI's checkpoint tree) report an empty
// result rather than an error - callers treat "nothing historical to scan
// yet" and "not supported" identically at this layer.
func scanProducer(producer, homeDir string) ([]Descriptor, error) {
	fn, ok := scanners[producer]
	if !ok {
		return nil, nil
	}
	if _, err := os.Stat(homeDir); err != nil {
		return nil, nil
	}
	return fn(homeDir)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

type claudeLogEntry struct {
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
}

// scanClaudeCode walks <home>/projects/<project>/*.jsonl, reading only the
// first and last non-empty line of each file to recover the session's
// identity and time span without decoding the whole transcript.
func scanClaudeCode(homeDir string) ([]Descriptor, error) {
	root := expandHome(homeDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("syncorch: read claude projects dir: %w", err)
	}

	var out []Descriptor
	for _, projectEntry := range entries {
		if !projectEntry.IsDir() {
			continue
		}
		projectName := projectEntry.Name()
		projectPath := filepath.Join(root, projectName)

		files, err := os.ReadDir(projectPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".jsonl" {
				continue
			}
			path := filepath.Join(projectPath, f.Name())
			d, err := parseClaudeSessionFile(path, projectName)
			if err != nil {
				continue
			}
			out = append(out, d)
		}
	}
	return out, nil
}

func parseClaudeSessionFile(path, projectName string) (Descriptor, error) {
	first, last, size, err := firstAndLastLine(path)
	if err != nil {
		return Descriptor{}, err
	}
	if first == "" {
		return Descriptor{}, fmt.Errorf("syncorch: empty session file %s", path)
	}

	var firstEntry, lastEntry claudeLogEntry
	if err := json.Unmarshal([]byte(first), &firstEntry); err != nil {
		return Descriptor{}, fmt.Errorf("syncorch: parse first line: %w", err)
	}
	_ = json.Unmarshal([]byte(last), &lastEntry)

	sessionID := firstEntry.SessionID
	if sessionID == "" {
		sessionID = lastEntry.SessionID
	}
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	start := parseRFC3339(firstEntry.Timestamp)
	end := parseRFC3339(lastEntry.Timestamp)

	return Descriptor{
		Provider:         "claude-code",
		ProjectName:      projectName,
		SessionID:        sessionID,
		FilePath:         path,
		FileName:         filepath.Base(path),
		FileSize:         size,
		SessionStartTime: start,
		SessionEndTime:   end,
		DurationMS:       durationBetween(start, end),
	}, nil
}

type codexLogEntry struct {
	Timestamp string `json:"timestamp"`
	Payload   struct {
		ID  string `json:"id"`
		CWD string `json:"cwd"`
	} `json:"payload"`
}

// scanCodex recursively walks <home>/YYYY/MM/DD/*.jsonl for rollout files.
func scanCodex(homeDir string) ([]Descriptor, error) {
	root := expandHome(homeDir)
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && filepath.Ext(path) == ".jsonl" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("syncorch: walk codex sessions dir: %w", err)
	}

	var out []Descriptor
	for _, path := range paths {
		d, err := parseCodexSessionFile(path)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func parseCodexSessionFile(path string) (Descriptor, error) {
	first, last, size, err := firstAndLastLine(path)
	if err != nil {
		return Descriptor{}, err
	}
	if first == "" {
		return Descriptor{}, fmt.Errorf("syncorch: empty session file %s", path)
	}

	var firstEntry, lastEntry codexLogEntry
	if err := json.Unmarshal([]byte(first), &firstEntry); err != nil {
		return Descriptor{}, fmt.Errorf("syncorch: parse first line: %w", err)
	}
	_ = json.Unmarshal([]byte(last), &lastEntry)

	if firstEntry.Payload.ID == "" {
		return Descriptor{}, fmt.Errorf("syncorch: no session id in %s", path)
	}

	projectName := "unknown"
	if firstEntry.Payload.CWD != "" {
		projectName = filepath.Base(firstEntry.Payload.CWD)
	}

	start := parseRFC3339(firstEntry.Timestamp)
	end := parseRFC3339(lastEntry.Timestamp)

	return Descriptor{
		Provider:         "codex",
		ProjectName:      projectName,
		SessionID:        firstEntry.Payload.ID,
		FilePath:         path,
		FileName:         filepath.Base(path),
		FileSize:         size,
		CWD:              firstEntry.Payload.CWD,
		SessionStartTime: start,
		SessionEndTime:   end,
		DurationMS:       durationBetween(start, end),
	}, nil
}

// scanCursor walks <home>/chats/<workspace-hash>/state.vscdb, discovering
// every composer (session) thread each workspace database holds without
// decoding message blobs - Discover only needs per-composer message counts
// and the database's modification time to describe a session.
func scanCursor(homeDir string) ([]Descriptor, error) {
	root := filepath.Join(expandHome(homeDir), "chats")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("syncorch: read cursor chats dir: %w", err)
	}

	var out []Descriptor
	for _, workspaceEntry := range entries {
		if !workspaceEntry.IsDir() {
			continue
		}
		dbPath := filepath.Join(root, workspaceEntry.Name(), "state.vscdb")
		info, err := os.Stat(dbPath)
		if err != nil {
			continue
		}

		counts, modTime, err := cursor.Discover(dbPath)
		if err != nil {
			continue
		}

		for composerID, count := range counts {
			if count == 0 {
				continue
			}
			start := modTime
			end := modTime.Add(time.Duration(count-1) * time.Second)
			durationMS := end.Sub(start).Milliseconds()

			out = append(out, Descriptor{
				Provider:         "cursor",
				ProjectName:      "unknown",
				SessionID:        composerID,
				FilePath:         dbPath,
				FileName:         "state.vscdb",
				FileSize:         info.Size(),
				SessionStartTime: &start,
				SessionEndTime:   &end,
				DurationMS:       &durationMS,
			})
		}
	}
	return out, nil
}

// scanCopilot mirrors every Copilot session file under
// <home>/history-session-state into a snapshot and returns a descriptor for
// each - the snapshot path, not the live session file, becomes the
// Descriptor's FilePath, since that is what the canonical converter and the
// uploader actually read.
func scanCopilot(homeDir string) ([]Descriptor, error) {
	sessions, err := copilot.ScanSessions(expandHome(homeDir))
	if err != nil {
		return nil, fmt.Errorf("syncorch: scan copilot sessions: %w", err)
	}

	out := make([]Descriptor, 0, len(sessions))
	for _, s := range sessions {
		start, end := s.StartTime, s.EndTime
		out = append(out, Descriptor{
			Provider:         "copilot",
			ProjectName:      s.ProjectName,
			SessionID:        s.SessionID,
			FilePath:         s.SnapshotPath,
			FileName:         filepath.Base(s.SnapshotPath),
			FileSize:         s.FileSize,
			CWD:              s.CWD,
			SessionStartTime: &start,
			SessionEndTime:   &end,
			DurationMS:       durationBetween(&start, &end),
		})
	}
	return out, nil
}

// scanOpenCode walks <home>/storage/session/<projectID>/*.json, reading
// only each session's own record (never its messages or parts) to recover
// identity, project and time span - homeDir is OpenCode's configured home
// (the parent of the storage tree, not the storage tree itself), matching
// the config default of "~/.local/share/opencode" rather than
// "~/.local/share/opencode/storage".
func scanOpenCode(homeDir string) ([]Descriptor, error) {
	storageDir := filepath.Join(expandHome(homeDir), "storage")
	sessionBase := filepath.Join(storageDir, "session")

	projectDirs, err := os.ReadDir(sessionBase)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("syncorch: read opencode session dir: %w", err)
	}

	projects := make(map[string]opencode.Project)

	var out []Descriptor
	for _, projectEntry := range projectDirs {
		if !projectEntry.IsDir() {
			continue
		}
		projectID := projectEntry.Name()
		sessionDir := filepath.Join(sessionBase, projectID)

		files, err := os.ReadDir(sessionDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			d, err := parseOpenCodeSessionFile(storageDir, filepath.Join(sessionDir, f.Name()), projectID, projects)
			if err != nil {
				continue
			}
			out = append(out, d)
		}
	}
	return out, nil
}

func parseOpenCodeSessionFile(storageDir, path, projectID string, projects map[string]opencode.Project) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("syncorch: read %s: %w", path, err)
	}
	var sess opencode.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Descriptor{}, fmt.Errorf("syncorch: parse opencode session %s: %w", path, err)
	}
	if sess.ID == "" {
		return Descriptor{}, fmt.Errorf("syncorch: no session id in %s", path)
	}
	if sess.ProjectID != "" {
		projectID = sess.ProjectID
	}

	proj, ok := projects[projectID]
	if !ok {
		proj, _ = loadOpenCodeProject(storageDir, projectID)
		projects[projectID] = proj
	}

	projectName := "unknown"
	if proj.Worktree != "" {
		projectName = filepath.Base(proj.Worktree)
	}

	start := sess.Time.CreatedTime()
	end := sess.Time.UpdatedTime()
	info, statErr := os.Stat(path)
	var size int64
	if statErr == nil {
		size = info.Size()
	}

	return Descriptor{
		Provider:         "opencode",
		ProjectName:      projectName,
		SessionID:        sess.ID,
		FilePath:         storageDir,
		FileName:         filepath.Base(path),
		FileSize:         size,
		CWD:              proj.Worktree,
		SessionStartTime: &start,
		SessionEndTime:   &end,
		DurationMS:       durationBetween(&start, &end),
	}, nil
}

func loadOpenCodeProject(storageDir, projectID string) (opencode.Project, error) {
	data, err := os.ReadFile(filepath.Join(storageDir, "project", projectID+".json"))
	if err != nil {
		return opencode.Project{}, err
	}
	var proj opencode.Project
	if err := json.Unmarshal(data, &proj); err != nil {
		return opencode.Project{}, err
	}
	return proj, nil
}

// firstAndLastLine reads only the first and last non-blank lines of a
// (potentially large) JSONL file, along with its size, without loading the
// whole file into memory.
func firstAndLastLine(path string) (first, last string, size int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", 0, fmt.Errorf("syncorch: stat %s: %w", path, err)
	}
	size = info.Size()

	f, err := os.Open(path)
	if err != nil {
		return "", "", 0, fmt.Errorf("syncorch: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		last = line
	}
	return first, last, size, scanner.Err()
}

func parseRFC3339(ts string) *time.Time {
	if ts == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func durationBetween(start, end *time.Time) *int64 {
	if start == nil || end == nil {
		return nil
	}
	d := end.Sub(*start).Milliseconds()
	if d < 0 {
		d = 0
	}
	return &d
}
