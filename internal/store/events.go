// ABOUTME: AgentEvent persistence - dispatch records with retry tracking
// ABOUTME: Completed events are immutable; failure increments retry_count atomically

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const eventColumns = `id, business_id, installation_id, event_type, direction, event_data,
	correlation_id, status, error_message, retry_count, processing_time_ms, created_at, updated_at`

// CreateEvent persists a new agent event in its initial status
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *AgentEvent) error {
	query := `
		INSERT INTO agent_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.BusinessID,
		event.InstallationID,
		event.EventType,
		string(event.Direction),
		nullableJSON(event.EventData),
		event.CorrelationID,
		string(event.Status),
		event.ErrorMessage,
		event.RetryCount,
		event.ProcessingTimeMs,
		formatTime(event.CreatedAt),
		formatTime(event.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("event created",
		"event_id", event.ID,
		"installation_id", event.InstallationID,
		"event_type", event.EventType,
		"direction", event.Direction,
	)
	return nil
}

// GetEvent retrieves a single event by ID
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*AgentEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM agent_events WHERE id = ?`
	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return event, err
}

// ListEventsByInstallation returns recent events for an installation, newest first
func (s *SQLiteStore) ListEventsByInstallation(ctx context.Context, installationID string, limit int) ([]*AgentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT ` + eventColumns + `
		FROM agent_events
		WHERE installation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, installationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*AgentEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// MarkEventProcessing transitions an event to processing
func (s *SQLiteStore) MarkEventProcessing(ctx context.Context, id string) error {
	return s.updateEventStatus(ctx, id, EventProcessing)
}

// MarkEventRetry transitions a failed event back to retry, indicating a
// re-enqueued delivery attempt.
func (s *SQLiteStore) MarkEventRetry(ctx context.Context, id string) error {
	return s.updateEventStatus(ctx, id, EventRetry)
}

// updateEventStatus sets an event's status; completed events are never touched
func (s *SQLiteStore) updateEventStatus(ctx context.Context, id string, status EventStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agent_events SET status = ?, updated_at = ? WHERE id = ? AND status != 'completed'`,
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
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

// CompleteEvent marks an event completed with its measured processing time.
// Completion is terminal.
func (s *SQLiteStore) CompleteEvent(ctx context.Context, id string, processingTimeMs int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agent_events
		 SET status = 'completed', error_message = '', processing_time_ms = ?, updated_at = ?
		 WHERE id = ? AND status != 'completed'`,
		processingTimeMs, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("completing event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("event completed", "event_id", id, "processing_time_ms", processingTimeMs)
	return nil
}

// FailEvent marks an event failed with the error message and increments its
// retry count atomically. The post-increment retry count is returned so the
// dispatcher can decide whether another attempt is allowed.
func (s *SQLiteStore) FailEvent(ctx context.Context, id string, errMsg string) (int, error) {
	var retryCount int
	err := s.db.QueryRowContext(ctx,
		`UPDATE agent_events
		 SET status = 'failed', error_message = ?, retry_count = retry_count + 1, updated_at = ?
		 WHERE id = ? AND status != 'completed'
		 RETURNING retry_count`,
		errMsg, formatTime(time.Now()), id,
	).Scan(&retryCount)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failing event: %w", err)
	}

	s.logger.Debug("event failed", "event_id", id, "retry_count", retryCount, "error", errMsg)
	return retryCount, nil
}

// ListOrphanPendingEvents returns outbound pending events that have no queue
// envelope. A crash between the durable write and the enqueue leaves exactly
// this state behind.
func (s *SQLiteStore) ListOrphanPendingEvents(ctx context.Context) ([]*AgentEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM agent_events
		WHERE status = 'pending' AND direction = 'to_agent'
		  AND id NOT IN (SELECT event_id FROM event_queue)
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying orphan events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*AgentEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orphan events: %w", err)
	}
	return events, nil
}

// scanEvent scans a row into an AgentEvent
func scanEvent(scanner interface{ Scan(dest ...any) error }) (*AgentEvent, error) {
	event := &AgentEvent{}
	var dataJSON sql.NullString
	var direction, status, createdStr, updatedStr string

	err := scanner.Scan(
		&event.ID,
		&event.BusinessID,
		&event.InstallationID,
		&event.EventType,
		&direction,
		&dataJSON,
		&event.CorrelationID,
		&status,
		&event.ErrorMessage,
		&event.RetryCount,
		&event.ProcessingTimeMs,
		&createdStr,
		&updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning event: %w", err)
	}

	event.Direction = EventDirection(direction)
	event.Status = EventStatus(status)
	if dataJSON.Valid {
		event.EventData = []byte(dataJSON.String)
	}
	if event.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if event.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return event, nil
}
