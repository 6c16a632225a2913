package cursor

import (
	"time"

	"github.com/agentsync/agentsync/internal/adapter"
)

// pollInterval is how often the Cursor watcher re-checks a workspace's
// data_version counter. Unlike the fsnotify-backed watchers for the other
// producers, Cursor rewrites its whole database on every message, so
// content-diffing the file is pointless; PRAGMA data_version is cheap
// enough to poll directly instead.
const pollInterval = 15 * time.Second

// newPollWatcher polls projectRoot's workspace database for data_version
// changes and re-verifies by counting messages per composer before
// emitting an event, per the spec's Cursor-specific watcher note in §4.4.
func newPollWatcher(a *Adapter, projectRoot string) <-chan adapter.Event {
	events := make(chan adapter.Event, 16)

	go func() {
		defer close(events)

		path := a.dbPath(projectRoot)
		var lastVersion int64 = -1
		lastCounts := map[string]int{}

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for range ticker.C {
			db, err := openReadOnly(path)
			if err != nil {
				continue
			}

			v, err := dataVersion(db)
			if err != nil {
				db.Close()
				continue
			}
			if v == lastVersion {
				db.Close()
				continue
			}
			lastVersion = v

			grouped, err := loadComposerMessages(db)
			db.Close()
			if err != nil {
				continue
			}

			for composerID, msgs := range grouped {
				if len(msgs) == 0 {
					continue
				}
				prevCount, known := lastCounts[composerID]
				if known && prevCount == len(msgs) {
					continue
				}
				lastCounts[composerID] = len(msgs)

				evtType := adapter.EventMessageAdded
				if !known {
					evtType = adapter.EventSessionCreated
				}

				events <- adapter.Event{Type: evtType, SessionID: composerID, Data: len(msgs)}
			}
		}
	}()

	return events
}
