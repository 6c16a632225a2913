package queue

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agentsync/agentsync/internal/config"
	"github.com/agentsync/agentsync/internal/eventbus"
	"github.com/agentsync/agentsync/internal/store"
	"github.com/agentsync/agentsync/internal/syncerr"
)

// Processor drains the local store's unsynced sessions through a
// semaphore-bounded pool of upload workers, retrying transient failures
// with exponential backoff before giving up and recording a permanent
// failure in the store.
type Processor struct {
	store  *store.Store
	cfg    *config.Config
	bus    *eventbus.Bus
	log    *slog.Logger
	upload *uploader
	sem    *semaphore.Weighted
	hashes *hashSet

	mu         sync.Mutex
	pending    *list.List // of Item
	processing int
}

// NewProcessor builds a Processor with concurrency upload workers in
// flight at once.
func NewProcessor(st *store.Store, cfg *config.Config, bus *eventbus.Bus, log *slog.Logger, concurrency int64) *Processor {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Processor{
		store:  st,
		cfg:    cfg,
		bus:    bus,
		log:    log,
		upload: newUploader(st, cfg),
		sem:    semaphore.NewWeighted(concurrency),
		hashes: newHashSet(),
		pending: list.New(),
	}
}

// Run polls the store for newly-unsynced sessions and processes them until
// ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(dbPollInterval)
	defer ticker.Stop()

	if err := p.pollStore(); err != nil {
		p.log.Warn("queue: initial poll failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollStore(); err != nil {
				p.log.Warn("queue: poll failed", "error", err)
			}
		default:
		}

		item, ok := p.nextItem()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}
		go p.process(ctx, item)
	}
}

// pollStore pulls newly-eligible sessions out of the store and enqueues
// any not already pending, deferring to the store as the sole source of
// truth for what is unsynced.
func (p *Processor) pollStore() error {
	unsynced, err := p.store.GetUnsyncedSessions(p.cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	queued := make(map[string]bool)
	for e := p.pending.Front(); e != nil; e = e.Next() {
		queued[e.Value.(Item).SessionID] = true
	}

	for _, s := range unsynced {
		if queued[s.SessionID] {
			continue
		}
		p.pending.PushBack(Item{
			ID:            s.ID,
			Provider:      s.Provider,
			ProjectName:   s.ProjectName,
			SessionID:     s.SessionID,
			FilePath:      s.FilePath,
			CanonicalPath: s.CanonicalPath,
			FileName:      s.FileName,
			FileSize:      s.FileSize,
			CWD:           s.CWD,
			QueuedAt:      time.Now().UTC(),
		})
	}
	return nil
}

// nextItem prefers a retry-ready item over FIFO order, mirroring the
// queue's retry-before-dequeue priority.
func (p *Processor) nextItem() (Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for e := p.pending.Front(); e != nil; e = e.Next() {
		item := e.Value.(Item)
		if !item.NextRetryAt.IsZero() && now.After(item.NextRetryAt) {
			p.pending.Remove(e)
			return item, true
		}
	}

	if e := p.pending.Front(); e != nil {
		item := e.Value.(Item)
		if item.NextRetryAt.IsZero() {
			p.pending.Remove(e)
			return item, true
		}
	}
	return Item{}, false
}

func (p *Processor) requeue(item Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.PushBack(item)
}

func (p *Processor) process(ctx context.Context, item Item) {
	defer p.sem.Release(1)

	p.mu.Lock()
	p.processing++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.processing--
		p.mu.Unlock()
	}()

	providerCfg := p.cfg.Providers[config.ProviderID(item.Provider)]
	mode := config.SyncModeTranscriptAndMetrics
	if providerCfg != nil {
		mode = providerCfg.SyncMode
	}

	err := p.upload.upload(ctx, item, mode)
	if err == nil {
		p.onSuccess(item)
		return
	}

	p.onFailure(item, err)
}

func (p *Processor) onSuccess(item Item) {
	if item.FileHash != "" {
		p.hashes.Add(item.FileHash)
	}
	if err := p.store.MarkSessionSynced(item.SessionID, ""); err != nil {
		p.log.Error("queue: mark synced failed", "session", item.SessionID, "error", err)
		return
	}
	p.log.Info("queue: upload succeeded", "session", item.SessionID, "file", item.FileName)
	p.bus.Publish(eventbus.SessionSynced, item.SessionID)
}

func (p *Processor) onFailure(item Item, err error) {
	kind, _ := syncerr.As(err)
	item.LastError = err.Error()

	if shouldRetry(kind, item.RetryCount) {
		item.RetryCount++
		item.NextRetryAt = time.Now().Add(backoff(item.RetryCount))
		p.requeue(item)
		p.log.Warn("queue: upload failed, retrying", "session", item.SessionID, "attempt", item.RetryCount, "error", err)
		return
	}

	if err := p.store.MarkSessionSyncFailed(item.SessionID, item.LastError); err != nil {
		p.log.Error("queue: mark sync failed error", "session", item.SessionID, "error", err)
	}
	p.log.Error("queue: upload failed permanently", "session", item.SessionID, "attempts", item.RetryCount+1, "error", err)
	p.bus.Publish(eventbus.SessionSyncFailed, item.SessionID)
}

// ClearUploadedHashes empties the dedup set so previously-uploaded content
// hashes no longer block a resubmission.
func (p *Processor) ClearUploadedHashes() {
	p.hashes.mu.Lock()
	defer p.hashes.mu.Unlock()
	p.hashes.order = nil
	p.hashes.present = make(map[string]struct{})
}

// Status reports a snapshot of queue activity.
func (p *Processor) Status() (Status, error) {
	failed, err := p.store.GetFailedSessions()
	if err != nil {
		return Status{}, err
	}

	p.mu.Lock()
	pending := p.pending.Len()
	processing := p.processing
	p.mu.Unlock()

	return Status{Pending: pending, Processing: processing, Failed: len(failed)}, nil
}
