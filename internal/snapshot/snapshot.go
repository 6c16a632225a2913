// Package snapshot implements the append-only snapshot cache that lets the
// Copilot producer survive its native session file being rewritten in
// place. Copilot's timeline file is not append-only like the other
// producers' transcripts - it gets truncated and rewritten by the editor
// itself - so each observed file is mirrored into an immutable snapshot
// under our own directory, and a new snapshot is started whenever the
// mirrored file looks like it was truncated out from under us.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a single snapshot.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Entry records one snapshot of a source file.
type Entry struct {
	SnapshotID          uuid.UUID `json:"snapshot_id"`
	CreatedAt           time.Time `json:"created_at"`
	LastUpdated         time.Time `json:"last_updated"`
	LastTimelineCount   int       `json:"last_timeline_count"`
	LastSourceFileSize  int64     `json:"last_source_file_size"`
	Status              Status    `json:"status"`
}

// Session tracks every snapshot ever taken of one source file.
type Session struct {
	SourceFile        string    `json:"source_file"`
	SourceSessionID   string    `json:"source_session_id"`
	SourceStartTime   string    `json:"source_start_time"`
	Snapshots         []Entry   `json:"snapshots"`
	ActiveSnapshotID  uuid.UUID `json:"active_snapshot_id"`
}

// ActiveSnapshot returns the currently active entry, if any.
func (s *Session) ActiveSnapshot() (*Entry, bool) {
	for i := range s.Snapshots {
		if s.Snapshots[i].SnapshotID == s.ActiveSnapshotID {
			return &s.Snapshots[i], true
		}
	}
	return nil, false
}

func (s *Session) closeActiveSnapshot() {
	if e, ok := s.ActiveSnapshot(); ok {
		e.Status = StatusClosed
	}
}

func (s *Session) addSnapshot(id uuid.UUID, timelineLen int, fileSize int64) {
	now := time.Now().UTC()
	s.Snapshots = append(s.Snapshots, Entry{
		SnapshotID:         id,
		CreatedAt:          now,
		LastUpdated:        now,
		LastTimelineCount:  timelineLen,
		LastSourceFileSize: fileSize,
		Status:             StatusActive,
	})
	s.ActiveSnapshotID = id
}

// Metadata is the root of metadata.json: source file name -> Session.
type Metadata struct {
	Version  string             `json:"version"`
	Sessions map[string]*Session `json:"sessions"`
}

func newMetadata() *Metadata {
	return &Metadata{Version: "1.0", Sessions: make(map[string]*Session)}
}

// Manager owns a producer's snapshot directory and metadata file.
type Manager struct {
	snapshotDir  string
	metadataPath string
}

// NewManager creates (if necessary) and returns a Manager rooted at
// <home>/.agentsync/providers/<producer>/, with the base directory locked
// down to 0700 since session transcripts may contain sensitive content.
func NewManager(home, producer string) (*Manager, error) {
	base := filepath.Join(home, ".agentsync", "providers", producer)
	snapshotDir := filepath.Join(base, "snapshots")

	if err := os.MkdirAll(snapshotDir, 0o700); err != nil {
		return nil, fmt.Errorf("snapshot: create snapshot dir: %w", err)
	}
	if err := os.Chmod(base, 0o700); err != nil {
		return nil, fmt.Errorf("snapshot: chmod base dir: %w", err)
	}

	return &Manager{
		snapshotDir:  snapshotDir,
		metadataPath: filepath.Join(base, "metadata.json"),
	}, nil
}

// lockedMetadata loads metadata.json under an exclusive file lock. The
// returned release func must be called to unlock, ideally after the
// caller has either written new metadata via save or decided not to.
func (m *Manager) lockedMetadata() (*Metadata, *flock.Flock, error) {
	lock := flock.New(m.metadataPath + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, nil, fmt.Errorf("snapshot: acquire metadata lock: %w", err)
	}

	data, err := os.ReadFile(m.metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return newMetadata(), lock, nil
		}
		lock.Unlock()
		return nil, nil, fmt.Errorf("snapshot: read metadata: %w", err)
	}
	if len(data) == 0 {
		return newMetadata(), lock, nil
	}

	meta := newMetadata()
	if err := json.Unmarshal(data, meta); err != nil {
		lock.Unlock()
		return nil, nil, fmt.Errorf("snapshot: decode metadata: %w", err)
	}
	return meta, lock, nil
}

// save writes metadata atomically (temp file + rename) and releases lock.
func (m *Manager) save(meta *Metadata, lock *flock.Flock) error {
	defer lock.Unlock()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode metadata: %w", err)
	}

	tmp := m.metadataPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("snapshot: write temp metadata: %w", err)
	}
	if err := os.Rename(tmp, m.metadataPath); err != nil {
		return fmt.Errorf("snapshot: rename metadata: %w", err)
	}
	return nil
}

// SnapshotPath returns the on-disk path for a snapshot id's JSONL file.
func (m *Manager) SnapshotPath(id uuid.UUID) string {
	return filepath.Join(m.snapshotDir, id.String()+".jsonl")
}

// TimelineEntry is a producer-agnostic view of one line the snapshot
// writer needs: a timestamp plus arbitrary additional fields to flatten
// into the JSONL line.
type TimelineEntry struct {
	Timestamp string
	Data      map[string]any
}

// writeSnapshotFile rewrites a snapshot's JSONL file from scratch with the
// full current timeline. Rewriting instead of appending lets later
// updates to existing entries (e.g. a tool call gaining its result) land
// in the snapshot, and lets every line carry the session cwd.
func (m *Manager) writeSnapshotFile(id uuid.UUID, timeline []TimelineEntry, cwd string) (string, error) {
	path := m.SnapshotPath(id)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("snapshot: create snapshot file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, entry := range timeline {
		line := make(map[string]any, len(entry.Data)+2)
		if entry.Timestamp != "" {
			line["timestamp"] = entry.Timestamp
		}
		if cwd != "" {
			line["cwd"] = cwd
		}
		for k, v := range entry.Data {
			line[k] = v
		}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("snapshot: write snapshot line: %w", err)
		}
	}

	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("snapshot: sync snapshot file: %w", err)
	}
	return path, nil
}

// isTruncated reports whether the source file looks like it was
// truncated out from under the active snapshot. At least two of three
// signals must hold to avoid false positives from ordinary incremental
// growth: timeline length dropping by more than half, file size dropping
// by more than half (only once it was already over 10KB), or the
// timeline going empty.
func isTruncated(active *Entry, currentTimelineLen int, currentFileSize int64) bool {
	if active.LastTimelineCount == 0 {
		return false
	}

	timelineDropped := currentTimelineLen < active.LastTimelineCount/2
	sizeDropped := active.LastSourceFileSize > 10_000 && currentFileSize < active.LastSourceFileSize/2
	timelineEmpty := currentTimelineLen == 0

	signals := 0
	for _, s := range []bool{timelineDropped, sizeDropped, timelineEmpty} {
		if s {
			signals++
		}
	}
	return signals >= 2
}

// Observation is the input from a producer watcher: the current state of
// a source file and its decoded timeline.
type Observation struct {
	SourceFile      string
	SourceSessionID string
	SourceStartTime string
	CWD             string
	Timeline        []TimelineEntry
	FileSize        int64
}

// Result tells the producer which snapshot file now holds this file's
// timeline, and whether this observation caused a truncation.
type Result struct {
	SnapshotPath string
	IsTruncated  bool
}

// Observe reconciles an observation against stored metadata: creating the
// session and its first snapshot on first sight, detecting and handling
// truncation, and otherwise rewriting the active snapshot with the full
// current timeline. It is safe for concurrent use across processes
// sharing the same metadata file - the whole read-modify-write is done
// under one exclusive file lock.
func (m *Manager) Observe(obs Observation) (Result, error) {
	meta, lock, err := m.lockedMetadata()
	if err != nil {
		return Result{}, err
	}

	name := filepath.Base(obs.SourceFile)
	session, exists := meta.Sessions[name]

	if !exists {
		id := uuid.New()
		path, err := m.writeSnapshotFile(id, obs.Timeline, obs.CWD)
		if err != nil {
			lock.Unlock()
			return Result{}, err
		}

		now := time.Now().UTC()
		meta.Sessions[name] = &Session{
			SourceFile:       name,
			SourceSessionID:  obs.SourceSessionID,
			SourceStartTime:  obs.SourceStartTime,
			ActiveSnapshotID: id,
			Snapshots: []Entry{{
				SnapshotID:         id,
				CreatedAt:          now,
				LastUpdated:        now,
				LastTimelineCount:  len(obs.Timeline),
				LastSourceFileSize: obs.FileSize,
				Status:             StatusActive,
			}},
		}

		if err := m.save(meta, lock); err != nil {
			return Result{}, err
		}
		return Result{SnapshotPath: path}, nil
	}

	active, ok := session.ActiveSnapshot()
	truncated := ok && isTruncated(active, len(obs.Timeline), obs.FileSize)

	var targetID uuid.UUID
	if truncated {
		session.closeActiveSnapshot()
		targetID = uuid.New()
		session.addSnapshot(targetID, len(obs.Timeline), obs.FileSize)
	} else if ok {
		targetID = active.SnapshotID
		active.LastUpdated = time.Now().UTC()
		active.LastTimelineCount = len(obs.Timeline)
		active.LastSourceFileSize = obs.FileSize
	} else {
		targetID = uuid.New()
		session.addSnapshot(targetID, len(obs.Timeline), obs.FileSize)
	}

	path, err := m.writeSnapshotFile(targetID, obs.Timeline, obs.CWD)
	if err != nil {
		lock.Unlock()
		return Result{}, err
	}

	if err := m.save(meta, lock); err != nil {
		return Result{}, err
	}
	return Result{SnapshotPath: path, IsTruncated: truncated}, nil
}
