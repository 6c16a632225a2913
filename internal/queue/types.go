// Package queue implements the upload queue: a bounded, deduplicated FIFO
// of pending session uploads, processed by a semaphore-limited worker pool
// with exponential-backoff retry for transient failures.
package queue

import "time"

// maxUploadedHashes bounds the in-memory dedup set. When exceeded, the
// oldest 99% is pruned in one pass, keeping only the most recent 1%.
const maxUploadedHashes = 10_000

// dbPollInterval is how often the processor re-checks the local store for
// newly-unsynced sessions while idle.
const dbPollInterval = 10 * time.Second

// maxRetries bounds how many times a transient failure is retried before
// the item is moved to the permanently-failed state.
const maxRetries = 5

// Item is one pending or in-flight upload.
type Item struct {
	ID          string
	Provider    string
	ProjectName string
	SessionID   string
	FilePath      string
	CanonicalPath string
	FileName      string
	FileSize      int64
	CWD           string
	FileHash      string

	QueuedAt    time.Time
	RetryCount  int
	NextRetryAt time.Time
	LastError   string
}

// Status is a point-in-time snapshot of queue activity.
type Status struct {
	Pending    int
	Processing int
	Failed     int
}
