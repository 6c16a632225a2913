package copilot

import (
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/agentsync/agentsync/internal/adapter"
	"github.com/agentsync/agentsync/internal/snapshot"
)

// pollInterval is how often the session directory is rescanned. Copilot's
// own process keeps each session file open across writes, so fsnotify
// events land late - often only once the file is closed or fsynced - which
// defeats the hot-tier event watching the other producers use; polling the
// directory directly is the only reliable signal.
const pollInterval = 3 * time.Second

// newPollWatcher polls the session directory for content changes, using a
// cheap xxhash of each file's bytes to skip files that have not actually
// changed before doing the more expensive JSON decode and snapshot
// reconciliation.
func newPollWatcher(a *Adapter) <-chan adapter.Event {
	events := make(chan adapter.Event, 16)

	go func() {
		defer close(events)

		home, _ := os.UserHomeDir()
		mgr, err := snapshot.NewManager(home, adapterID)
		if err != nil {
			return
		}

		lastHash := map[string]uint64{}
		knownSessions := map[string]bool{}

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for range ticker.C {
			files, err := listSessionFiles(a.sessionDir())
			if err != nil {
				continue
			}

			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					continue
				}
				h := xxhash.Sum64(data)
				if lastHash[path] == h {
					continue
				}
				lastHash[path] = h

				sess, info, err := readSessionFile(path)
				if err != nil {
					continue
				}

				timeline := make([]snapshot.TimelineEntry, 0, len(sess.Timeline))
				for _, entry := range sess.Timeline {
					flat := make(map[string]any, len(entry.Data))
					for k, v := range entry.Data {
						flat[k] = v
					}
					timeline = append(timeline, snapshot.TimelineEntry{Timestamp: entry.Timestamp, Data: flat})
				}

				cfg, _ := loadConfig(a.homeDir)
				_, cwd, _ := detectProjectAndCWD(sess.Timeline, cfg.TrustedFolders)

				sessionID := sessionIDFromFile(path, sess)
				_, err = mgr.Observe(snapshot.Observation{
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

				evtType := adapter.EventMessageAdded
				if !knownSessions[sessionID] {
					evtType = adapter.EventSessionCreated
					knownSessions[sessionID] = true
				}
				events <- adapter.Event{Type: evtType, SessionID: sessionID, Data: len(sess.Timeline)}
			}
		}
	}()

	return events
}
