package store

import (
	"database/sql"
	"fmt"
)

// SessionMetrics holds the derived quality/engagement/performance metrics
// computed for one session after its transcript has been fully processed.
// Every numeric field is optional: a metric that could not be computed for
// a given producer (e.g. a producer with no tool-call telemetry) is left
// unset rather than forced to zero.
type SessionMetrics struct {
	SessionID string
	Provider  string

	ResponseLatencyMS         *float64
	TaskCompletionTimeMS      *float64
	PerformanceTotalResponses *int64

	ReadWriteRatio    *float64
	InputClarityScore *float64
	ReadOperations    *int64
	WriteOperations   *int64
	TotalUserMessages *int64

	ErrorCount        *int64
	ErrorTypes        *string
	LastErrorMessage  *string
	RecoveryAttempts  *int64
	FatalErrors       *int64

	InterruptionRate          *float64
	SessionLengthMinutes      *float64
	TotalInterruptions        *int64
	EngagementTotalResponses  *int64

	TaskSuccessRate            *float64
	IterationCount             *int64
	ProcessQualityScore        *float64
	UsedPlanMode               *bool
	UsedTodoTracking           *bool
	OverTopAffirmations        *int64
	SuccessfulOperations       *int64
	TotalOperations            *int64
	ExitPlanModeCount          *int64
	TodoWriteCount             *int64
	OverTopAffirmationsPhrases *string
	ImprovementTips            *string
	CustomMetrics              *string
}

// UpsertSessionMetrics replaces the most recent metrics row for a session.
// Metrics are recomputed wholesale each time a session is (re)processed, so
// this deletes any prior row before inserting rather than doing a
// column-by-column update.
func (s *Store) UpsertSessionMetrics(m SessionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin metrics upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_metrics WHERE session_id = ?`, m.SessionID); err != nil {
		return fmt.Errorf("store: clear prior metrics %s: %w", m.SessionID, err)
	}

	_, err = tx.Exec(
		`INSERT INTO session_metrics (
			session_id, provider,
			response_latency_ms, task_completion_time_ms, performance_total_responses,
			read_write_ratio, input_clarity_score, read_operations, write_operations, total_user_messages,
			error_count, error_types, last_error_message, recovery_attempts, fatal_errors,
			interruption_rate, session_length_minutes, total_interruptions, engagement_total_responses,
			task_success_rate, iteration_count, process_quality_score,
			used_plan_mode, used_todo_tracking, over_top_affirmations,
			successful_operations, total_operations, exit_plan_mode_count, todo_write_count,
			over_top_affirmations_phrases, improvement_tips, custom_metrics, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now') * 1000)`,
		m.SessionID, m.Provider,
		m.ResponseLatencyMS, m.TaskCompletionTimeMS, m.PerformanceTotalResponses,
		m.ReadWriteRatio, m.InputClarityScore, m.ReadOperations, m.WriteOperations, m.TotalUserMessages,
		m.ErrorCount, m.ErrorTypes, m.LastErrorMessage, m.RecoveryAttempts, m.FatalErrors,
		m.InterruptionRate, m.SessionLengthMinutes, m.TotalInterruptions, m.EngagementTotalResponses,
		m.TaskSuccessRate, m.IterationCount, m.ProcessQualityScore,
		boolToNullInt(m.UsedPlanMode), boolToNullInt(m.UsedTodoTracking), m.OverTopAffirmations,
		m.SuccessfulOperations, m.TotalOperations, m.ExitPlanModeCount, m.TodoWriteCount,
		m.OverTopAffirmationsPhrases, m.ImprovementTips, m.CustomMetrics,
	)
	if err != nil {
		return fmt.Errorf("store: insert metrics %s: %w", m.SessionID, err)
	}

	return tx.Commit()
}

func boolToNullInt(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func nullIntToBool(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

// GetSessionMetrics returns the most recently computed metrics row for a
// session, or ok=false if none has been computed yet.
func (s *Store) GetSessionMetrics(sessionID string) (SessionMetrics, bool, error) {
	row := s.db.QueryRow(
		`SELECT session_id, provider,
		        response_latency_ms, task_completion_time_ms, performance_total_responses,
		        read_write_ratio, input_clarity_score, read_operations, write_operations, total_user_messages,
		        error_count, error_types, last_error_message, recovery_attempts, fatal_errors,
		        interruption_rate, session_length_minutes, total_interruptions, engagement_total_responses,
		        task_success_rate, iteration_count, process_quality_score,
		        used_plan_mode, used_todo_tracking, over_top_affirmations,
		        successful_operations, total_operations, exit_plan_mode_count, todo_write_count,
		        over_top_affirmations_phrases, improvement_tips, custom_metrics
		 FROM session_metrics WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`,
		sessionID,
	)

	var m SessionMetrics
	var usedPlanMode, usedTodoTracking sql.NullInt64
	err := row.Scan(
		&m.SessionID, &m.Provider,
		&m.ResponseLatencyMS, &m.TaskCompletionTimeMS, &m.PerformanceTotalResponses,
		&m.ReadWriteRatio, &m.InputClarityScore, &m.ReadOperations, &m.WriteOperations, &m.TotalUserMessages,
		&m.ErrorCount, &m.ErrorTypes, &m.LastErrorMessage, &m.RecoveryAttempts, &m.FatalErrors,
		&m.InterruptionRate, &m.SessionLengthMinutes, &m.TotalInterruptions, &m.EngagementTotalResponses,
		&m.TaskSuccessRate, &m.IterationCount, &m.ProcessQualityScore,
		&usedPlanMode, &usedTodoTracking, &m.OverTopAffirmations,
		&m.SuccessfulOperations, &m.TotalOperations, &m.ExitPlanModeCount, &m.TodoWriteCount,
		&m.OverTopAffirmationsPhrases, &m.ImprovementTips, &m.CustomMetrics,
	)
	if err == sql.ErrNoRows {
		return SessionMetrics{}, false, nil
	}
	if err != nil {
		return SessionMetrics{}, false, fmt.Errorf("store: get metrics %s: %w", sessionID, err)
	}
	m.UsedPlanMode = nullIntToBool(usedPlanMode)
	m.UsedTodoTracking = nullIntToBool(usedTodoTracking)
	return m, true, nil
}
