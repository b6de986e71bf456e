// ABOUTME: Audit log entity and store methods for privileged supervisor actions
// ABOUTME: Append-only record of who did what to which installation, with outcome

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable supervisor action.
type AuditAction string

const (
	AuditInstallAgent   AuditAction = "install_agent"
	AuditUninstallAgent AuditAction = "uninstall_agent"
	AuditStartAgent     AuditAction = "start_agent"
	AuditStopAgent      AuditAction = "stop_agent"
	AuditSendEvent      AuditAction = "send_event"
)

// AuditOutcome is the result of an audited action.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditEntry represents a single audit log entry. Entries are write-once;
// the store exposes no update or delete path for them.
type AuditEntry struct {
	ID         string         `json:"id"`
	BusinessID string         `json:"business_id"`
	Actor      string         `json:"actor"`
	Action     AuditAction    `json:"action"`
	TargetType string         `json:"target_type"` // "installation", "session", "event"
	TargetID   string         `json:"target_id"`
	Outcome    AuditOutcome   `json:"outcome"`
	Timestamp  time.Time      `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	BusinessID *string
	Actor      *string
	Action     *AuditAction
	Since      *time.Time
	Until      *time.Time
	Limit      int // max results (default 100, max 1000)
}

// AppendAuditEntry appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditEntry(ctx context.Context, e *AuditEntry) error {
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertAuditEntry(ctx, tx, e)
	}); err != nil {
		return err
	}

	s.logger.Debug("appended audit entry",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"outcome", e.Outcome,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// insertAuditEntry writes an audit entry inside the caller's transaction so
// the entry commits or rolls back together with the action it documents.
func insertAuditEntry(ctx context.Context, tx *sql.Tx, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (id, business_id, actor, action, target_type, target_id, outcome, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		e.ID,
		e.BusinessID,
		e.Actor,
		string(e.Action),
		e.TargetType,
		e.TargetID,
		string(e.Outcome),
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const auditLogQuery = `
	SELECT id, business_id, actor, action, target_type, target_id, outcome, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR business_id = ?)
	  AND (? IS NULL OR actor = ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditEntries returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var actionStr, sinceStr, untilStr *string
	if f.Action != nil {
		a := string(*f.Action)
		actionStr = &a
	}
	if f.Since != nil {
		t := formatTime(*f.Since)
		sinceStr = &t
	}
	if f.Until != nil {
		t := formatTime(*f.Until)
		untilStr = &t
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		f.BusinessID, f.BusinessID,
		f.Actor, f.Actor,
		actionStr, actionStr,
		sinceStr, sinceStr,
		untilStr, untilStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, outcomeStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.BusinessID,
		&e.Actor,
		&actionStr,
		&e.TargetType,
		&e.TargetID,
		&outcomeStr,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	e.Outcome = AuditOutcome(outcomeStr)
	var err error
	if e.Timestamp, err = parseTime(tsStr); err != nil {
		return e, err
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}
