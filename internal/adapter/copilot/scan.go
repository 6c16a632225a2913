package copilot

import (
	"os"
	"path/filepath"
	"time"

	"github.com/agentsync/agentsync/internal/snapshot"
)

// ScannedSession is the minimal summary a historical scan needs to
// describe one Copilot session, after it has been mirrored into a
// snapshot - the snapshot file, not the live session file, is what gets
// fed to the canonical converter and eventually uploaded, since the live
// file can be rewritten out from under a reader at any moment.
type ScannedSession struct {
	SessionID    string
	ProjectName  string
	CWD          string
	SnapshotPath string
	FileSize     int64
	StartTime    time.Time
	EndTime      time.Time
}

// ScanSessions walks homeDir's history-session-state directory, mirrors
// every session file it finds into a snapshot (creating one on first
// sight, same as the watcher does on each poll), and returns a summary of
// each. It is the entry point the historical scanner drives.
func ScanSessions(homeDir string) ([]ScannedSession, error) {
	dir := homeDirSessionDir(homeDir)
	files, err := listSessionFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	mgr, err := snapshot.NewManager(homeDir, adapterID)
	if err != nil {
		return nil, err
	}
	cfg, _ := loadConfig(homeDir)

	out := make([]ScannedSession, 0, len(files))
	for _, path := range files {
		sess, info, err := readSessionFile(path)
		if err != nil {
			continue
		}

		project, cwd, matched := detectProjectAndCWD(sess.Timeline, cfg.TrustedFolders)
		if !matched {
			project = unknownProject
		}
		sessionID := sessionIDFromFile(path, sess)

		timeline := make([]snapshot.TimelineEntry, 0, len(sess.Timeline))
		for _, entry := range sess.Timeline {
			flat := make(map[string]any, len(entry.Data))
			for k, v := range entry.Data {
				flat[k] = v
			}
			timeline = append(timeline, snapshot.TimelineEntry{Timestamp: entry.Timestamp, Data: flat})
		}

		res, err := mgr.Observe(snapshot.Observation{
			SourceFile:      path,
			SourceSessionID: sessionID,
			SourceStartTime: sess.StartTime,
			CWD:             cwd,
			Timeline:        timeline,
			FileSize:        info.Size(),
		})
		if err != nil {
			continue
		}

		start, end := sessionTimespan(sess, info)
		snapInfo, err := os.Stat(res.SnapshotPath)
		size := info.Size()
		if err == nil {
			size = snapInfo.Size()
		}

		out = append(out, ScannedSession{
			SessionID:    sessionID,
			ProjectName:  project,
			CWD:          cwd,
			SnapshotPath: res.SnapshotPath,
			FileSize:     size,
			StartTime:    start,
			EndTime:      end,
		})
	}
	return out, nil
}

func homeDirSessionDir(homeDir string) string {
	return filepath.Join(homeDir, sessionDirName)
}
