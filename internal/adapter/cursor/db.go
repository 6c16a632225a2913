package cursor

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"time"
)

// composerMessage is one decoded row from a workspace's state.vscdb,
// grouped under its composer (session) id in database order.
type composerMessage struct {
	RowID int64
	Blob  rawBlob
}

// openReadOnly opens path as a read-only connection - the adapter never
// writes to Cursor's own database.
func openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, "file:"+path+"?mode=ro&immutable=0")
	if err != nil {
		return nil, fmt.Errorf("cursor: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cursor: ping %s: %w", path, err)
	}
	return db, nil
}

// loadComposerMessages reads every cursorDiskKV row keyed "bubbleId:<composer>:<message>",
// decodes its blob, and groups the results by composer id, preserving the
// table's row order (the closest available proxy for chronological order -
// Cursor's own message blobs carry no timestamp).
func loadComposerMessages(db *sql.DB) (map[string][]composerMessage, error) {
	rows, err := db.Query(`SELECT rowid, key, value FROM cursorDiskKV WHERE key LIKE 'bubbleId:%' ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("cursor: query cursorDiskKV: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]composerMessage)
	for rows.Next() {
		var rowID int64
		var key string
		var value []byte
		if err := rows.Scan(&rowID, &key, &value); err != nil {
			return nil, fmt.Errorf("cursor: scan row: %w", err)
		}
		composerID := composerIDFromKey(key)
		if composerID == "" {
			continue
		}
		blob, ok, err := decodeBlob(value)
		if err != nil || !ok {
			continue
		}
		out[composerID] = append(out[composerID], composerMessage{RowID: rowID, Blob: blob})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cursor: iterate cursorDiskKV: %w", err)
	}
	return out, nil
}

// composerIDFromKey extracts the composer (session) id from a
// "bubbleId:<composer>:<message>" key.
func composerIDFromKey(key string) string {
	const prefix = "bubbleId:"
	if len(key) <= len(prefix) {
		return ""
	}
	rest := key[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i]
		}
	}
	return rest
}

// composerIDs returns the session ids found, newest-row-first is not
// implied - callers sort as needed.
func composerIDs(grouped map[string][]composerMessage) []string {
	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Discover opens the workspace database at dbPath and returns each
// composer's message count plus the database's own modification time - the
// minimal summary the historical scanner needs to describe a Cursor session
// without converting it to canonical form.
func Discover(dbPath string) (counts map[string]int, modTime time.Time, err error) {
	db, err := openReadOnly(dbPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer db.Close()

	grouped, err := loadComposerMessages(db)
	if err != nil {
		return nil, time.Time{}, err
	}

	info, statErr := os.Stat(dbPath)
	if statErr == nil {
		modTime = info.ModTime()
	} else {
		modTime = time.Now().UTC()
	}

	counts = make(map[string]int, len(grouped))
	for _, composerID := range composerIDs(grouped) {
		counts[composerID] = len(grouped[composerID])
	}
	return counts, modTime, nil
}

// dataVersion reads SQLite's PRAGMA data_version, a cheap counter that
// increments whenever any connection commits a change to the database -
// the Cursor watcher polls this instead of re-reading every row to decide
// whether a workspace's sessions need reprocessing.
func dataVersion(db *sql.DB) (int64, error) {
	var v int64
	if err := db.QueryRow(`PRAGMA data_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("cursor: read data_version: %w", err)
	}
	return v, nil
}
