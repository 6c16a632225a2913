package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/agentsync/agentsync/internal/config"
	"github.com/agentsync/agentsync/internal/store"
	"github.com/agentsync/agentsync/internal/syncerr"
)

// uploader performs the HTTP side of an upload: either the full transcript
// (Transcript and Metrics mode) or session metadata plus computed metrics
// with the transcript omitted (Metrics Only mode).
type uploader struct {
	client *http.Client
	store  *store.Store
	cfg    *config.Config
}

func newUploader(st *store.Store, cfg *config.Config) *uploader {
	return &uploader{client: &http.Client{Timeout: 60 * time.Second}, store: st, cfg: cfg}
}

func (u *uploader) upload(ctx context.Context, item Item, mode config.SyncMode) error {
	if mode == config.SyncModeMetricsOnly {
		return u.uploadMetricsOnly(ctx, item)
	}
	return u.uploadTranscript(ctx, item)
}

// uploadTranscript uploads the normalized canonical LDJSON file, not the
// producer's native session file - the server (and every invariant and
// split-semantics check downstream of it) only ever reads canonical form.
func (u *uploader) uploadTranscript(ctx context.Context, item Item) error {
	if item.CanonicalPath == "" {
		return syncerr.New(syncerr.Permanent, fmt.Errorf("session %s has no canonical file yet", item.SessionID))
	}

	content, err := os.ReadFile(item.CanonicalPath)
	if err != nil {
		return syncerr.New(syncerr.Permanent, fmt.Errorf("read canonical file: %w", err))
	}

	payload := map[string]any{
		"provider":    item.Provider,
		"projectName": item.ProjectName,
		"sessionId":   item.SessionID,
		"fileName":    item.FileName,
		"filePath":    item.CanonicalPath,
		"fileSize":    item.FileSize,
		"content":     string(content),
	}
	return u.post(ctx, "/api/agent-sessions/upload", payload)
}

func (u *uploader) uploadMetricsOnly(ctx context.Context, item Item) error {
	metrics, hasMetrics, err := u.store.GetSessionMetrics(item.SessionID)
	if err != nil {
		return syncerr.New(syncerr.Transient, fmt.Errorf("load metrics: %w", err))
	}

	rating, _, _ := u.store.GetSessionRating(item.SessionID)

	payload := map[string]any{
		"provider":    item.Provider,
		"projectName": item.ProjectName,
		"sessionId":   item.SessionID,
		"fileName":    item.FileName,
		// filePath intentionally omitted: this is what signals metrics-only
		// mode to the server.
		"fileSize":         item.FileSize,
		"assessmentRating": rating,
	}
	if err := u.post(ctx, "/api/agent-sessions/upload", payload); err != nil {
		return err
	}

	if !hasMetrics {
		return nil
	}
	return u.post(ctx, "/api/session-metrics/upload", map[string]any{
		"metrics": []store.SessionMetrics{metrics},
	})
}

func (u *uploader) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return syncerr.New(syncerr.Permanent, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.ServerURL+path, bytes.NewReader(body))
	if err != nil {
		return syncerr.New(syncerr.Permanent, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+u.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	kind := syncerr.ClassifyUpload(resp, err)
	if err != nil {
		return syncerr.New(kind, fmt.Errorf("request %s: %w", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return syncerr.Newf(kind, "upload %s: status %d", path, resp.StatusCode)
	}
	return nil
}
