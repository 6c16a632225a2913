package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Project is a discovered codebase, keyed by its CWD.
type Project struct {
	ID          string
	Name        string
	GithubRepo  string
	CWD         string
	ProjectType string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectWithCount adds the number of sessions attached to a project.
type ProjectWithCount struct {
	Project
	SessionCount int64
}

// InsertOrGetProject upserts a project keyed by CWD: a fresh CWD creates a
// new row, a known CWD refreshes name/github_repo/type in place. Both
// paths run inside one transaction to avoid a lost-update race between the
// existence check and the write.
func (s *Store) InsertOrGetProject(name, githubRepo, cwd, projectType string) (id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("store: begin project upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().UnixMilli()

	var existing string
	err = tx.QueryRow(`SELECT id FROM projects WHERE cwd = ?`, cwd).Scan(&existing)
	switch err {
	case nil:
		if _, err := tx.Exec(
			`UPDATE projects SET name = ?, github_repo = ?, type = ?, updated_at = ? WHERE id = ?`,
			name, nullableString(githubRepo), projectType, now, existing,
		); err != nil {
			return "", fmt.Errorf("store: update project %s: %w", cwd, err)
		}
		id = existing
	case sql.ErrNoRows:
		id = uuid.NewString()
		if _, err := tx.Exec(
			`INSERT INTO projects (id, name, github_repo, cwd, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, name, nullableString(githubRepo), cwd, projectType, now, now,
		); err != nil {
			return "", fmt.Errorf("store: insert project %s: %w", cwd, err)
		}
	default:
		return "", fmt.Errorf("store: lookup project %s: %w", cwd, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit project upsert: %w", err)
	}
	return id, nil
}

func scanProjectWithCount(row interface {
	Scan(dest ...any) error
}) (ProjectWithCount, error) {
	var p ProjectWithCount
	var githubRepo sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.Name, &githubRepo, &p.CWD, &p.ProjectType, &createdAt, &updatedAt, &p.SessionCount)
	p.GithubRepo = githubRepo.String
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return p, err
}

// GetAllProjects returns every project with its attached session count,
// most recently updated first.
func (s *Store) GetAllProjects() ([]ProjectWithCount, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.name, p.github_repo, p.cwd, p.type, p.created_at, p.updated_at, COUNT(s.id)
		 FROM projects p LEFT JOIN agent_sessions s ON p.id = s.project_id
		 GROUP BY p.id ORDER BY p.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query projects: %w", err)
	}
	defer rows.Close()

	var out []ProjectWithCount
	for rows.Next() {
		p, err := scanProjectWithCount(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProjectByID returns a single project, or ok=false if none matched.
func (s *Store) GetProjectByID(id string) (ProjectWithCount, bool, error) {
	row := s.db.QueryRow(
		`SELECT p.id, p.name, p.github_repo, p.cwd, p.type, p.created_at, p.updated_at, COUNT(s.id)
		 FROM projects p LEFT JOIN agent_sessions s ON p.id = s.project_id
		 WHERE p.id = ? GROUP BY p.id`,
		id,
	)
	p, err := scanProjectWithCount(row)
	if err == sql.ErrNoRows {
		return ProjectWithCount{}, false, nil
	}
	if err != nil {
		return ProjectWithCount{}, false, fmt.Errorf("store: get project %s: %w", id, err)
	}
	return p, true, nil
}

// AttachSessionToProject links a session to its project once the
// project's identity has been resolved.
func (s *Store) AttachSessionToProject(sessionID, projectID string) error {
	_, err := s.db.Exec(`UPDATE agent_sessions SET project_id = ? WHERE session_id = ?`, projectID, sessionID)
	if err != nil {
		return fmt.Errorf("store: attach session %s to project %s: %w", sessionID, projectID, err)
	}
	return nil
}
