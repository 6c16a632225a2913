package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentsync/agentsync/internal/config"
)

// Session is a discovered agent session row.
type Session struct {
	ID               string
	Provider         string
	ProjectID        string
	ProjectName      string
	SessionID        string
	FileName         string
	FilePath         string
	FileSize         int64
	CWD              string
	CanonicalPath    string
	Historical       bool
	SessionStartTime *time.Time
	SessionEndTime   *time.Time
	DurationMS       *int64
	ProcessingStatus string
	CoreMetricsStatus string
	SyncedToServer   bool
	SyncedAt         *time.Time
	ServerSessionID  string
	SyncFailedReason string
	CreatedAt        time.Time
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}

// InsertSession records a newly discovered session as pending sync. It
// mirrors the upsert-by-session-id shape of UpdateSession where the row
// already exists, emitting a SessionCompleted signal the caller can
// publish when the new row already carries an end time.
func (s *Store) InsertSession(sess Session) (id string, completed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = uuid.NewString()
	now := time.Now().UTC()
	completed = sess.SessionEndTime != nil

	var durationMS any
	if sess.DurationMS != nil {
		durationMS = *sess.DurationMS
	}

	_, err = s.db.Exec(
		`INSERT INTO agent_sessions (
			id, provider, project_name, session_id, file_name, file_path, file_size,
			session_start_time, session_end_time, duration_ms, cwd, historical,
			processing_status, synced_to_server, created_at, uploaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)`,
		id, sess.Provider, sess.ProjectName, sess.SessionID, sess.FileName, sess.FilePath, sess.FileSize,
		millis(sess.SessionStartTime), millis(sess.SessionEndTime), durationMS, nullableString(sess.CWD), boolToInt(sess.Historical),
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return "", false, fmt.Errorf("store: insert session %s: %w", sess.SessionID, err)
	}
	return id, completed, nil
}

// UpsertHistoricalSession records a session discovered by a full
// filesystem scan (as opposed to a live watcher event). Sessions the
// store already knows about are left untouched - a historical scan must
// never clobber sync state a live watcher has already established.
func (s *Store) UpsertHistoricalSession(sess Session) (id string, err error) {
	exists, err := s.SessionExists(sess.SessionID)
	if err != nil {
		return "", err
	}
	if exists {
		return "", nil
	}
	sess.Historical = true
	id, _, err = s.InsertSession(sess)
	return id, err
}

// UpdateSession applies new activity (size, timestamps, cwd) to an
// existing session keyed by SessionID (not ID - some producers, like
// OpenCode, write several files into one logical session). Start time and
// cwd are coalesced: a previously-recorded non-null value always wins over
// a new one, since producers may re-report a blank value mid-stream.
// Updating always resets processing_status/core_metrics_status to
// "pending" because the underlying file content changed. completed
// reports whether this call is the first time the session gained an end
// time, the signal callers use to publish SessionCompleted exactly once.
func (s *Store) UpdateSession(sess Session) (completed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT session_start_time, session_end_time, cwd FROM agent_sessions WHERE session_id = ?`,
		sess.SessionID,
	)
	var existingStart, existingEnd sql.NullInt64
	var existingCWD sql.NullString
	if err := row.Scan(&existingStart, &existingEnd, &existingCWD); err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("store: read session %s: %w", sess.SessionID, err)
	}

	finalStart := existingStart
	if !finalStart.Valid && sess.SessionStartTime != nil {
		finalStart = sql.NullInt64{Int64: sess.SessionStartTime.UnixMilli(), Valid: true}
	}

	finalCWD := existingCWD
	if !finalCWD.Valid && sess.CWD != "" {
		finalCWD = sql.NullString{String: sess.CWD, Valid: true}
	}

	var durationMS any
	if finalStart.Valid && sess.SessionEndTime != nil {
		d := sess.SessionEndTime.UnixMilli() - finalStart.Int64
		if d < 0 {
			d = 0
		}
		durationMS = d
	}

	completed = !existingEnd.Valid && sess.SessionEndTime != nil
	now := time.Now().UTC().UnixMilli()

	_, err = s.db.Exec(
		`UPDATE agent_sessions
		 SET file_size = ?, session_start_time = ?, session_end_time = ?, duration_ms = ?,
		     cwd = ?, uploaded_at = ?, synced_to_server = 0,
		     core_metrics_status = 'pending', processing_status = 'pending'
		 WHERE session_id = ?`,
		sess.FileSize, nullInt(finalStart), millis(sess.SessionEndTime), durationMS,
		nullString(finalCWD), now, sess.SessionID,
	)
	if err != nil {
		return false, fmt.Errorf("store: update session %s: %w", sess.SessionID, err)
	}
	return completed, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v sql.NullInt64) any {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

func nullString(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	return v.String
}

// SessionExists reports whether a session with the given session_id is
// already tracked.
func (s *Store) SessionExists(sessionID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM agent_sessions WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: session_exists %s: %w", sessionID, err)
	}
	return count > 0, nil
}

// UnsyncedSession is a row eligible for upload consideration.
type UnsyncedSession struct {
	ID                string
	Provider          string
	ProjectName       string
	SessionID         string
	FileName          string
	FilePath          string
	FileSize          int64
	CWD               string
	CanonicalPath     string
	CoreMetricsStatus string
}

// GetUnsyncedSessions returns sessions that have both a start and end time,
// have not failed a previous sync attempt, and whose provider's configured
// sync mode permits upload right now. Metrics-only providers additionally
// require core_metrics_status to be "completed" - they upload twice, once
// with core metrics and again once AI processing finishes. Transcript
// uploads carry the normalized canonical file rather than the native one,
// so transcript-mode rows additionally require canonical_path to already
// be populated - a session whose normalization hasn't run yet just waits
// for the next poll instead of uploading un-normalized content.
func (s *Store) GetUnsyncedSessions(cfg *config.Config) ([]UnsyncedSession, error) {
	rows, err := s.db.Query(
		`SELECT id, provider, project_name, session_id, file_name, file_path, file_size, cwd,
		        COALESCE(canonical_path, ''), COALESCE(core_metrics_status, 'pending')
		 FROM agent_sessions
		 WHERE synced_to_server = 0
		   AND session_start_time IS NOT NULL
		   AND session_end_time IS NOT NULL
		   AND sync_failed_reason IS NULL
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query unsynced sessions: %w", err)
	}
	defer rows.Close()

	var out []UnsyncedSession
	for rows.Next() {
		var u UnsyncedSession
		var cwd sql.NullString
		if err := rows.Scan(&u.ID, &u.Provider, &u.ProjectName, &u.SessionID, &u.FileName, &u.FilePath, &u.FileSize, &cwd, &u.CanonicalPath, &u.CoreMetricsStatus); err != nil {
			return nil, fmt.Errorf("store: scan unsynced session: %w", err)
		}
		u.CWD = cwd.String

		pc, ok := cfg.Providers[config.ProviderID(u.Provider)]
		if !ok {
			continue
		}
		switch pc.SyncMode {
		case config.SyncModeTranscriptAndMetrics:
			if u.CanonicalPath != "" {
				out = append(out, u)
			}
		case config.SyncModeMetricsOnly:
			if u.CoreMetricsStatus == "completed" {
				out = append(out, u)
			}
		default:
			// SyncModeNothing and any other value: don't sync.
		}
	}
	return out, rows.Err()
}

// SetCanonicalPath records where a session's normalized LDJSON cache file
// lives once normalization has produced one. Sessions with no canonical
// file yet (normalization still pending or failed) are withheld from
// GetUnsyncedSessions in transcript mode.
func (s *Store) SetCanonicalPath(sessionID, path string) error {
	_, err := s.db.Exec(
		`UPDATE agent_sessions SET canonical_path = ? WHERE session_id = ?`,
		path, sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: set canonical path %s: %w", sessionID, err)
	}
	return nil
}

// MarkSessionSynced records a successful upload.
func (s *Store) MarkSessionSynced(sessionID, serverSessionID string) error {
	_, err := s.db.Exec(
		`UPDATE agent_sessions SET synced_to_server = 1, synced_at = ?, server_session_id = ?, sync_failed_reason = NULL WHERE session_id = ?`,
		time.Now().UTC().UnixMilli(), nullableString(serverSessionID), sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: mark synced %s: %w", sessionID, err)
	}
	return nil
}

// MarkSessionSyncFailed records an upload failure reason.
func (s *Store) MarkSessionSyncFailed(sessionID, reason string) error {
	_, err := s.db.Exec(
		`UPDATE agent_sessions SET sync_failed_reason = ? WHERE session_id = ?`,
		reason, sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: mark sync failed %s: %w", sessionID, err)
	}
	return nil
}

// FailedSession is a row whose last sync attempt errored.
type FailedSession struct {
	ID               string
	Provider         string
	ProjectName      string
	SessionID        string
	FileName         string
	FilePath         string
	FileSize         int64
	CWD              string
	SyncFailedReason string
}

// GetFailedSessions lists all sessions with a recorded sync failure.
func (s *Store) GetFailedSessions() ([]FailedSession, error) {
	rows, err := s.db.Query(
		`SELECT id, provider, project_name, session_id, file_name, file_path, file_size, cwd, sync_failed_reason
		 FROM agent_sessions WHERE sync_failed_reason IS NOT NULL ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query failed sessions: %w", err)
	}
	defer rows.Close()

	var out []FailedSession
	for rows.Next() {
		var f FailedSession
		var cwd sql.NullString
		if err := rows.Scan(&f.ID, &f.Provider, &f.ProjectName, &f.SessionID, &f.FileName, &f.FilePath, &f.FileSize, &cwd, &f.SyncFailedReason); err != nil {
			return nil, fmt.Errorf("store: scan failed session: %w", err)
		}
		f.CWD = cwd.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// RetryFailedSessions clears every session's failure reason and resets its
// sync flag, making it eligible for GetUnsyncedSessions again.
func (s *Store) RetryFailedSessions() error {
	_, err := s.db.Exec(`UPDATE agent_sessions SET sync_failed_reason = NULL, synced_to_server = 0 WHERE sync_failed_reason IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("store: retry failed sessions: %w", err)
	}
	return nil
}

// ClearFailedSessions deletes every session with a recorded sync failure.
func (s *Store) ClearFailedSessions() error {
	_, err := s.db.Exec(`DELETE FROM agent_sessions WHERE sync_failed_reason IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("store: clear failed sessions: %w", err)
	}
	return nil
}

// RemoveSessionByID deletes a single session row by its primary key,
// reporting whether a row was actually removed.
func (s *Store) RemoveSessionByID(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM agent_sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: remove session %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RetrySessionByID clears the failure reason for a single session,
// reporting whether a row matched.
func (s *Store) RetrySessionByID(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE agent_sessions SET sync_failed_reason = NULL, synced_to_server = 0 WHERE id = ? AND sync_failed_reason IS NOT NULL`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("store: retry session %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearAllSessions deletes every session row, used when the user asks to
// reset local sync state entirely.
func (s *Store) ClearAllSessions() error {
	_, err := s.db.Exec(`DELETE FROM agent_sessions`)
	if err != nil {
		return fmt.Errorf("store: clear all sessions: %w", err)
	}
	return nil
}

// QuickRateSession records a one-tap rating (thumbs up/meh/thumbs down)
// for a session, creating a minimal assessment row if none exists yet.
func (s *Store) QuickRateSession(sessionID, rating string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingID string
	err := s.db.QueryRow(`SELECT id FROM session_assessments WHERE session_id = ?`, sessionID).Scan(&existingID)
	now := time.Now().UTC().UnixMilli()

	switch err {
	case nil:
		if _, err := s.db.Exec(`UPDATE session_assessments SET rating = ? WHERE id = ?`, rating, existingID); err != nil {
			return fmt.Errorf("store: update rating %s: %w", sessionID, err)
		}
	case sql.ErrNoRows:
		var provider string
		if err := s.db.QueryRow(`SELECT provider FROM agent_sessions WHERE session_id = ?`, sessionID).Scan(&provider); err != nil {
			return fmt.Errorf("store: lookup provider for rating %s: %w", sessionID, err)
		}
		assessmentID := uuid.NewString()
		if _, err := s.db.Exec(
			`INSERT INTO session_assessments (id, session_id, provider, responses, rating, completed_at, created_at)
			 VALUES (?, ?, ?, '{}', ?, ?, ?)`,
			assessmentID, sessionID, provider, rating, now, now,
		); err != nil {
			return fmt.Errorf("store: insert rating %s: %w", sessionID, err)
		}
	default:
		return fmt.Errorf("store: check existing rating %s: %w", sessionID, err)
	}

	_, err = s.db.Exec(
		`UPDATE agent_sessions SET assessment_status = 'rating_only', assessment_completed_at = ? WHERE session_id = ?`,
		now, sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: set assessment status %s: %w", sessionID, err)
	}
	return nil
}

// GetSessionRating returns the rating previously recorded for a session,
// if any.
func (s *Store) GetSessionRating(sessionID string) (string, bool, error) {
	var rating string
	err := s.db.QueryRow(`SELECT rating FROM session_assessments WHERE session_id = ?`, sessionID).Scan(&rating)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get rating %s: %w", sessionID, err)
	}
	return rating, true, nil
}
