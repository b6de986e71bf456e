// ABOUTME: SQLite implementation for per-day resource usage accounting
// ABOUTME: Upsert-with-increment so concurrent samples accumulate, never overwrite

package store

import (
	"context"
	"fmt"
	"time"
)

// AddResourceUsage folds a usage sample into the row for the given UTC
// calendar day. The whole merge is a single atomic statement, so concurrent
// writers for the same day accumulate correctly.
func (s *SQLiteStore) AddResourceUsage(ctx context.Context, installationID, periodDay string, sample UsageSample) error {
	query := `
		INSERT INTO resource_usage_periods (
			installation_id, period_day,
			cpu_seconds_used, memory_mb_hours, api_calls_made,
			events_processed, data_in_bytes, data_out_bytes
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(installation_id, period_day) DO UPDATE SET
			cpu_seconds_used = cpu_seconds_used + excluded.cpu_seconds_used,
			memory_mb_hours  = memory_mb_hours + excluded.memory_mb_hours,
			api_calls_made   = api_calls_made + excluded.api_calls_made,
			events_processed = events_processed + excluded.events_processed,
			data_in_bytes    = data_in_bytes + excluded.data_in_bytes,
			data_out_bytes   = data_out_bytes + excluded.data_out_bytes
	`
	_, err := s.db.ExecContext(ctx, query,
		installationID,
		periodDay,
		sample.CPUSecondsUsed,
		sample.MemoryMBHours,
		sample.APICallsMade,
		sample.EventsProcessed,
		sample.DataInBytes,
		sample.DataOutBytes,
	)
	if err != nil {
		return fmt.Errorf("upserting resource usage: %w", err)
	}

	s.logger.Debug("resource usage recorded",
		"installation_id", installationID,
		"period_day", periodDay,
		"api_calls", sample.APICallsMade,
		"events", sample.EventsProcessed,
	)
	return nil
}

// GetResourceUsage returns the per-day usage rows for the last N days,
// oldest first.
func (s *SQLiteStore) GetResourceUsage(ctx context.Context, installationID string, days int) ([]*ResourceUsagePeriod, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	query := `
		SELECT installation_id, period_day,
		       cpu_seconds_used, memory_mb_hours, api_calls_made,
		       events_processed, data_in_bytes, data_out_bytes
		FROM resource_usage_periods
		WHERE installation_id = ? AND period_day > ?
		ORDER BY period_day ASC
	`
	rows, err := s.db.QueryContext(ctx, query, installationID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying resource usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var periods []*ResourceUsagePeriod
	for rows.Next() {
		p := &ResourceUsagePeriod{}
		if err := rows.Scan(
			&p.InstallationID,
			&p.PeriodDay,
			&p.CPUSecondsUsed,
			&p.MemoryMBHours,
			&p.APICallsMade,
			&p.EventsProcessed,
			&p.DataInBytes,
			&p.DataOutBytes,
		); err != nil {
			return nil, fmt.Errorf("scanning usage period: %w", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage periods: %w", err)
	}
	return periods, nil
}
