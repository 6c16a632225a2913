// Package syncorch implements the long-running control-surface operations
// the application shell drives: scanning a producer's entire history into
// the local store, enqueuing that history for upload, and reporting
// progress back to the caller. It sits above the store and upload queue,
// never decoding transcripts itself beyond the minimal first/last-line read
// needed to identify a session.
package syncorch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentsync/agentsync/internal/config"
	"github.com/agentsync/agentsync/internal/eventbus"
	"github.com/agentsync/agentsync/internal/normalize"
	"github.com/agentsync/agentsync/internal/queue"
	"github.com/agentsync/agentsync/internal/store"
)

// Orchestrator is the command boundary between the application shell /
// cmd/agentsyncd's cobra tree and the store, queue, and config beneath it.
// Every exported method here is a named command from the control surface;
// none are string-dispatched.
type Orchestrator struct {
	store    *store.Store
	queue    *queue.Processor
	bus      *eventbus.Bus
	log      *slog.Logger
	progress *progressState
}

// New builds an Orchestrator over an already-open store and running queue
// processor.
func New(st *store.Store, q *queue.Processor, bus *eventbus.Bus, log *slog.Logger) *Orchestrator {
	return &Orchestrator{store: st, queue: q, bus: bus, log: log, progress: newProgressState()}
}

// LoadConfig reads the on-disk configuration, falling back to defaults.
func (o *Orchestrator) LoadConfig() (*config.Config, error) {
	return config.Load()
}

// SaveConfig persists the configuration.
func (o *Orchestrator) SaveConfig(cfg *config.Config) error {
	return config.Save(cfg)
}

// sessionUser is the shape of GET /auth/session's user object.
type sessionUser struct {
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Login verifies an API key against the server's session endpoint and, on
// success, persists it alongside the server URL and tenant id. There is no
// interactive OAuth flow here - the desktop app's browser-based login is
// explicitly out of scope for this headless daemon, so credentials are
// supplied directly by the CLI caller.
func (o *Orchestrator) Login(ctx context.Context, serverURL, apiKey, tenantID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/auth/session", nil)
	if err != nil {
		return "", fmt.Errorf("syncorch: build login request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("syncorch: login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("syncorch: login failed: server returned status %d", resp.StatusCode)
	}

	var body struct {
		User sessionUser `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("syncorch: decode session response: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("syncorch: load config: %w", err)
	}
	cfg.APIKey = apiKey
	cfg.ServerURL = serverURL
	cfg.TenantID = tenantID
	if err := config.Save(cfg); err != nil {
		return "", fmt.Errorf("syncorch: save config: %w", err)
	}

	return body.User.Username, nil
}

// Logout clears stored credentials.
func (o *Orchestrator) Logout() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("syncorch: load config: %w", err)
	}
	cfg.APIKey = ""
	cfg.ServerURL = ""
	cfg.TenantID = ""
	return config.Save(cfg)
}

// ScanHistoricalSessions walks a producer's entire session history on
// disk, emitting rescan-progress events as it goes, and upserts every
// discovered session into the local store as historical. Sessions the
// store already tracks (e.g. ones a live watcher picked up) are left
// untouched.
func (o *Orchestrator) ScanHistoricalSessions(ctx context.Context, producer string, homeDir string) (int, error) {
	o.progress.set(producer, Progress{Phase: PhaseScanning})

	descriptors, err := scanProducer(producer, homeDir)
	if err != nil {
		o.progress.set(producer, Progress{Phase: PhaseIdle})
		return 0, fmt.Errorf("syncorch: scan %s: %w", producer, err)
	}

	inserted := 0
	for i, d := range descriptors {
		select {
		case <-ctx.Done():
			return inserted, ctx.Err()
		default:
		}

		id, err := o.store.UpsertHistoricalSession(store.Session{
			Provider:         d.Provider,
			ProjectName:      d.ProjectName,
			SessionID:        d.SessionID,
			FileName:         d.FileName,
			FilePath:         d.FilePath,
			FileSize:         d.FileSize,
			CWD:              d.CWD,
			SessionStartTime: d.SessionStartTime,
			SessionEndTime:   d.SessionEndTime,
			DurationMS:       d.DurationMS,
		})
		if err != nil {
			o.log.Warn("syncorch: upsert historical session failed", "producer", producer, "session", d.SessionID, "error", err)
			continue
		}
		if id != "" {
			inserted++

			if normalize.Supports(d.Provider) {
				path, err := normalize.ToCanonicalFile(config.CacheDir(), d.Provider, d.ProjectName, d.SessionID, d.FilePath)
				if err != nil {
					o.log.Warn("syncorch: normalize session failed", "producer", producer, "session", d.SessionID, "error", err)
				} else if path != "" {
					if err := o.store.SetCanonicalPath(d.SessionID, path); err != nil {
						o.log.Warn("syncorch: set canonical path failed", "producer", producer, "session", d.SessionID, "error", err)
					}
				}
			}
		}

		o.bus.Publish(eventbus.RescanProgress, map[string]any{
			"producer": producer,
			"scanned":  i + 1,
			"total":    len(descriptors),
		})
	}

	o.progress.set(producer, Progress{Phase: PhaseScanned, TotalFound: len(descriptors)})
	return inserted, nil
}

// SyncHistoricalSessions enqueues every historical session the last scan
// found, provided the producer's configured sync mode permits uploads.
// Enqueuing itself is implicit: a historical session is just an ordinary
// unsynced row, so once marked eligible here the running upload queue
// processor picks it up on its next poll.
func (o *Orchestrator) SyncHistoricalSessions(ctx context.Context, producer string, cfg *config.Config) error {
	pc, ok := cfg.Providers[config.ProviderID(producer)]
	if !ok || pc.SyncMode == config.SyncModeNothing {
		return fmt.Errorf("syncorch: producer %s sync mode forbids uploads", producer)
	}

	status, err := o.queue.Status()
	if err != nil {
		return fmt.Errorf("syncorch: read queue status: %w", err)
	}

	o.progress.set(producer, Progress{
		Phase:            PhaseSyncing,
		InitialQueueSize: status.Pending + status.Processing,
	})
	return nil
}

// GetSessionSyncProgress reports a producer's current historical-sync
// phase and, while uploads are in flight, how many of the originally
// queued items have drained.
func (o *Orchestrator) GetSessionSyncProgress(producer string) (Progress, error) {
	pr := o.progress.get(producer)
	if pr.Phase != PhaseSyncing {
		return pr, nil
	}

	status, err := o.queue.Status()
	if err != nil {
		return pr, fmt.Errorf("syncorch: read queue status: %w", err)
	}

	remaining := status.Pending + status.Processing
	pr.Completed = pr.InitialQueueSize - remaining
	if pr.Completed < 0 {
		pr.Completed = 0
	}
	if remaining == 0 && pr.InitialQueueSize > 0 {
		pr.Phase = PhaseComplete
		o.progress.set(producer, pr)
	}
	return pr, nil
}

// ResetSessionSyncProgress clears a producer's tracked progress and its
// uploaded-hash dedup set, so previously-synced content can be resynced
// from scratch (e.g. after pointing at a different server).
func (o *Orchestrator) ResetSessionSyncProgress(producer string) {
	o.progress.reset(producer)
	o.queue.ClearUploadedHashes()
}

// GetQueueStatus reports the upload queue's current activity.
func (o *Orchestrator) GetQueueStatus() (queue.Status, error) {
	return o.queue.Status()
}

// ClearAllSessions deletes every tracked session row, local store only.
func (o *Orchestrator) ClearAllSessions() error {
	return o.store.ClearAllSessions()
}

// QuickRateSession records a one-tap assessment rating for a session.
func (o *Orchestrator) QuickRateSession(sessionID, rating string) error {
	return o.store.QuickRateSession(sessionID, rating)
}

// RetryQueueItem clears a single session's failure reason, making it
// eligible for upload again.
func (o *Orchestrator) RetryQueueItem(id string) (bool, error) {
	return o.store.RetrySessionByID(id)
}

// RemoveQueueItem deletes a single session row outright.
func (o *Orchestrator) RemoveQueueItem(id string) (bool, error) {
	return o.store.RemoveSessionByID(id)
}

// RetryFailedUploads clears the failure reason on every failed session.
func (o *Orchestrator) RetryFailedUploads() error {
	return o.store.RetryFailedSessions()
}

// ClearFailedUploads deletes every session with a recorded sync failure.
func (o *Orchestrator) ClearFailedUploads() error {
	return o.store.ClearFailedSessions()
}

// ClearUploadedHashes empties the upload queue's dedup set directly,
// without touching any producer's progress tracking.
func (o *Orchestrator) ClearUploadedHashes() {
	o.queue.ClearUploadedHashes()
}

// GetAllProjects lists every known project with its session count.
func (o *Orchestrator) GetAllProjects() ([]store.ProjectWithCount, error) {
	return o.store.GetAllProjects()
}

// GetProjectByID returns a single project by id.
func (o *Orchestrator) GetProjectByID(id string) (store.ProjectWithCount, bool, error) {
	return o.store.GetProjectByID(id)
}

// AttachSessionToProject links a session to a resolved project.
func (o *Orchestrator) AttachSessionToProject(sessionID, projectID string) error {
	return o.store.AttachSessionToProject(sessionID, projectID)
}
