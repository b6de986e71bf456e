// ABOUTME: Durable FIFO work queue for event delivery envelopes
// ABOUTME: Delayed visibility makes retry backoff survive process restarts

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Enqueue appends an envelope to the queue. VisibleAt in the future delays
// delivery, which is how retry backoff is persisted.
func (s *SQLiteStore) Enqueue(ctx context.Context, env *Envelope) error {
	query := `
		INSERT INTO event_queue (id, event_id, session_token, payload, correlation_id, enqueued_at, visible_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		env.ID,
		env.EventID,
		env.SessionToken,
		nullableJSON(env.Payload),
		env.CorrelationID,
		formatTime(env.EnqueuedAt),
		formatTime(env.VisibleAt),
	)
	if err != nil {
		return fmt.Errorf("enqueueing envelope: %w", err)
	}

	s.logger.Debug("envelope enqueued",
		"envelope_id", env.ID,
		"event_id", env.EventID,
		"visible_at", env.VisibleAt,
	)
	return nil
}

// Dequeue claims the oldest visible unclaimed envelope, or returns nil if
// none is ready. Claiming is a single UPDATE so concurrent consumers never
// receive the same envelope.
func (s *SQLiteStore) Dequeue(ctx context.Context, now time.Time) (*Envelope, error) {
	query := `
		UPDATE event_queue
		SET claimed_at = ?
		WHERE id = (
			SELECT id FROM event_queue
			WHERE claimed_at IS NULL AND visible_at <= ?
			ORDER BY enqueued_at ASC, id ASC
			LIMIT 1
		)
		RETURNING id, event_id, session_token, payload, correlation_id, enqueued_at, visible_at
	`

	env := &Envelope{}
	var payloadJSON sql.NullString
	var enqueuedStr, visibleStr string

	err := s.db.QueryRowContext(ctx, query, formatTime(now), formatTime(now)).Scan(
		&env.ID,
		&env.EventID,
		&env.SessionToken,
		&payloadJSON,
		&env.CorrelationID,
		&enqueuedStr,
		&visibleStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeueing envelope: %w", err)
	}

	if payloadJSON.Valid {
		env.Payload = []byte(payloadJSON.String)
	}
	if env.EnqueuedAt, err = parseTime(enqueuedStr); err != nil {
		return nil, err
	}
	if env.VisibleAt, err = parseTime(visibleStr); err != nil {
		return nil, err
	}
	return env, nil
}

// Ack removes a claimed envelope permanently after processing.
func (s *SQLiteStore) Ack(ctx context.Context, envelopeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM event_queue WHERE id = ?`, envelopeID)
	if err != nil {
		return fmt.Errorf("acking envelope: %w", err)
	}
	return nil
}

// ReleaseStaleClaims clears claims older than the cutoff so envelopes
// abandoned by a crashed consumer become deliverable again. Returns the
// number of envelopes released.
func (s *SQLiteStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE event_queue SET claimed_at = NULL WHERE claimed_at IS NOT NULL AND claimed_at < ?`,
		formatTime(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("releasing stale claims: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Info("released stale queue claims", "count", n)
	}
	return int(n), nil
}
