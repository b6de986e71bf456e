// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides supervisor persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS installed_agents (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			instance_name TEXT NOT NULL,
			config_json TEXT,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (business_id, agent_id)
		);

		CREATE TABLE IF NOT EXISTS agent_permissions (
			installation_id TEXT NOT NULL REFERENCES installed_agents(id) ON DELETE CASCADE,
			permission TEXT NOT NULL,
			PRIMARY KEY (installation_id, permission)
		);

		CREATE TABLE IF NOT EXISTS runtime_sessions (
			id TEXT PRIMARY KEY,
			installation_id TEXT NOT NULL REFERENCES installed_agents(id) ON DELETE CASCADE,
			session_token TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			last_heartbeat TEXT NOT NULL,
			memory_usage_mb REAL NOT NULL DEFAULT 0,
			cpu_usage_percent REAL NOT NULL DEFAULT 0,
			api_calls_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			events_processed INTEGER NOT NULL DEFAULT 0
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
			ON runtime_sessions(installation_id)
			WHERE status IN ('starting', 'running', 'paused', 'stopping');

		CREATE TABLE IF NOT EXISTS agent_events (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			installation_id TEXT NOT NULL REFERENCES installed_agents(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			direction TEXT NOT NULL,
			event_data TEXT,
			correlation_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			processing_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_installation
			ON agent_events(installation_id, created_at);

		CREATE TABLE IF NOT EXISTS resource_usage_periods (
			installation_id TEXT NOT NULL,
			period_day TEXT NOT NULL,
			cpu_seconds_used REAL NOT NULL DEFAULT 0,
			memory_mb_hours REAL NOT NULL DEFAULT 0,
			api_calls_made INTEGER NOT NULL DEFAULT 0,
			events_processed INTEGER NOT NULL DEFAULT 0,
			data_in_bytes INTEGER NOT NULL DEFAULT 0,
			data_out_bytes INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (installation_id, period_day)
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			ts TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_business ON audit_log(business_id, ts);

		CREATE TABLE IF NOT EXISTS event_queue (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			session_token TEXT NOT NULL,
			payload TEXT,
			correlation_id TEXT NOT NULL DEFAULT '',
			enqueued_at TEXT NOT NULL,
			visible_at TEXT NOT NULL,
			claimed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_queue_visible
			ON event_queue(visible_at) WHERE claimed_at IS NULL;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a single transaction, committing on success and
// rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// formatTime renders a timestamp in the canonical storage format.
// Nanosecond precision is kept so heartbeat staleness math survives the
// round-trip through the database.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a timestamp stored by formatTime.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements the Store interface.
var _ Store = (*SQLiteStore)(nil)
