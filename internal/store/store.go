// Package store persists discovered sessions, projects, and their sync
// state to a local SQLite database. It is the system of record the upload
// queue and sync orchestrator read from and write back to.
package store

import (
	"database/sql"
	"fmt"
	"sync"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	id                     TEXT PRIMARY KEY,
	provider               TEXT NOT NULL,
	project_id             TEXT,
	project_name           TEXT NOT NULL,
	session_id             TEXT NOT NULL UNIQUE,
	file_name              TEXT NOT NULL,
	file_path              TEXT NOT NULL,
	file_size              INTEGER NOT NULL,
	cwd                    TEXT,
	canonical_path         TEXT,
	historical             INTEGER NOT NULL DEFAULT 0,
	session_start_time     INTEGER,
	session_end_time       INTEGER,
	duration_ms            INTEGER,
	processing_status      TEXT NOT NULL DEFAULT 'pending',
	core_metrics_status    TEXT NOT NULL DEFAULT 'pending',
	synced_to_server       INTEGER NOT NULL DEFAULT 0,
	synced_at              INTEGER,
	server_session_id      TEXT,
	sync_failed_reason     TEXT,
	assessment_status      TEXT NOT NULL DEFAULT 'none',
	assessment_completed_at INTEGER,
	ai_model_summary       TEXT,
	ai_model_quality_score INTEGER,
	ai_model_metadata      TEXT,
	ai_model_phase_analysis TEXT,
	queued_at              INTEGER,
	processed_at           INTEGER,
	created_at             INTEGER NOT NULL,
	uploaded_at            INTEGER
);

CREATE INDEX IF NOT EXISTS idx_agent_sessions_session_id ON agent_sessions(session_id);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_project_id ON agent_sessions(project_id);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_synced ON agent_sessions(synced_to_server);

CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	github_repo  TEXT,
	cwd          TEXT NOT NULL UNIQUE,
	type         TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_assessments (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	provider       TEXT NOT NULL,
	responses      TEXT NOT NULL DEFAULT '{}',
	rating         TEXT,
	completed_at   INTEGER,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_assessments_session_id ON session_assessments(session_id);

CREATE TABLE IF NOT EXISTS session_metrics (
	session_id                       TEXT NOT NULL,
	provider                         TEXT NOT NULL,
	response_latency_ms              REAL,
	task_completion_time_ms          REAL,
	performance_total_responses      INTEGER,
	read_write_ratio                 REAL,
	input_clarity_score              REAL,
	read_operations                  INTEGER,
	write_operations                 INTEGER,
	total_user_messages              INTEGER,
	error_count                      INTEGER,
	error_types                      TEXT,
	last_error_message               TEXT,
	recovery_attempts                INTEGER,
	fatal_errors                     INTEGER,
	interruption_rate                REAL,
	session_length_minutes           REAL,
	total_interruptions              INTEGER,
	engagement_total_responses       INTEGER,
	task_success_rate                REAL,
	iteration_count                  INTEGER,
	process_quality_score            REAL,
	used_plan_mode                   INTEGER,
	used_todo_tracking               INTEGER,
	over_top_affirmations            INTEGER,
	successful_operations            INTEGER,
	total_operations                 INTEGER,
	exit_plan_mode_count             INTEGER,
	todo_write_count                 INTEGER,
	over_top_affirmations_phrases    TEXT,
	improvement_tips                 TEXT,
	custom_metrics                   TEXT,
	created_at                       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_metrics_session_id ON session_metrics(session_id);
`

// Store wraps a SQLite connection. Writes are serialized through mu since
// the sqlite3 driver does not allow concurrent writers on one connection;
// reads pass straight through to database/sql's own pooling.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates (if needed) and migrates the database at path, returning a
// ready-to-use Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	// Databases created before canonical_path existed need it added by hand;
	// SQLite has no "ADD COLUMN IF NOT EXISTS", so the duplicate-column error
	// on an already-migrated database is expected and ignored.
	db.Exec(`ALTER TABLE agent_sessions ADD COLUMN canonical_path TEXT`)

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}
