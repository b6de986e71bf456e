// ABOUTME: RuntimeSession persistence - creation, status transitions, heartbeat and counters
// ABOUTME: At most one non-terminal session per installation, enforced by a partial unique index

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const sessionColumns = `id, installation_id, session_token, status, started_at, last_heartbeat,
	memory_usage_mb, cpu_usage_percent, api_calls_count, error_count, events_processed`

// CreateSession persists a new runtime session. The caller sees
// ErrSessionExists if the installation already has a non-terminal session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *RuntimeSession) error {
	query := `
		INSERT INTO runtime_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.InstallationID,
		sess.SessionToken,
		string(sess.Status),
		formatTime(sess.StartedAt),
		formatTime(sess.LastHeartbeat),
		sess.MemoryUsageMB,
		sess.CPUUsagePercent,
		sess.APICallsCount,
		sess.ErrorCount,
		sess.EventsProcessed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Info("session created",
		"session_id", sess.ID,
		"installation_id", sess.InstallationID,
		"status", sess.Status,
	)
	return nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*RuntimeSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM runtime_sessions WHERE id = ?`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sess, err
}

// GetActiveSessionByInstallation returns the non-terminal session for an
// installation, or ErrNotFound if none exists. Crashed sessions do not count.
func (s *SQLiteStore) GetActiveSessionByInstallation(ctx context.Context, installationID string) (*RuntimeSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM runtime_sessions
		WHERE installation_id = ? AND status IN ('starting', 'running', 'paused', 'stopping')
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, installationID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sess, err
}

// ListSessionsByBusiness returns all sessions belonging to a business's installations
func (s *SQLiteStore) ListSessionsByBusiness(ctx context.Context, businessID string) ([]*RuntimeSession, error) {
	query := `
		SELECT s.id, s.installation_id, s.session_token, s.status, s.started_at, s.last_heartbeat,
		       s.memory_usage_mb, s.cpu_usage_percent, s.api_calls_count, s.error_count, s.events_processed
		FROM runtime_sessions s
		JOIN installed_agents i ON i.id = s.installation_id
		WHERE i.business_id = ?
		ORDER BY s.started_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*RuntimeSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// ListActiveSessions returns every non-terminal session across all
// installations, oldest first. Used at startup to reconcile sessions left
// behind by a previous process.
func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]*RuntimeSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM runtime_sessions
		WHERE status IN ('starting', 'running', 'paused', 'stopping')
		ORDER BY started_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*RuntimeSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating active sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionStatus transitions a session's lifecycle status
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runtime_sessions SET status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("session status updated", "session_id", id, "status", status)
	return nil
}

// TouchHeartbeat refreshes a session's last heartbeat timestamp
func (s *SQLiteStore) TouchHeartbeat(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runtime_sessions SET last_heartbeat = ? WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("touching heartbeat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordEventProcessed increments the session's processed-event counter and
// refreshes its heartbeat in one statement.
func (s *SQLiteStore) RecordEventProcessed(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runtime_sessions
		 SET events_processed = events_processed + 1, last_heartbeat = ?
		 WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("recording processed event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session row. Stopping is terminal, so the row is
// deleted rather than archived.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runtime_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	s.logger.Info("session deleted", "session_id", id)
	return nil
}

// scanSession scans a row into a RuntimeSession
func scanSession(scanner interface{ Scan(dest ...any) error }) (*RuntimeSession, error) {
	sess := &RuntimeSession{}
	var status, startedStr, heartbeatStr string

	err := scanner.Scan(
		&sess.ID,
		&sess.InstallationID,
		&sess.SessionToken,
		&status,
		&startedStr,
		&heartbeatStr,
		&sess.MemoryUsageMB,
		&sess.CPUUsagePercent,
		&sess.APICallsCount,
		&sess.ErrorCount,
		&sess.EventsProcessed,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.Status = SessionStatus(status)
	if sess.StartedAt, err = parseTime(startedStr); err != nil {
		return nil, err
	}
	if sess.LastHeartbeat, err = parseTime(heartbeatStr); err != nil {
		return nil, err
	}
	return sess, nil
}
