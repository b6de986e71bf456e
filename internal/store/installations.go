// ABOUTME: Installation persistence - creation with permission grants, status transitions, removal
// ABOUTME: Install record, grant rows and audit entry are written in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateInstallation writes the installation row, one permission-grant row
// per granted permission, and the audit entry in a single transaction. The
// caller sees ErrInstallationExists if the (business, agent) pair is taken.
func (s *SQLiteStore) CreateInstallation(ctx context.Context, inst *Installation, entry *AuditEntry) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO installed_agents (id, business_id, agent_id, instance_name, config_json, status, error_message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			inst.ID,
			inst.BusinessID,
			inst.AgentID,
			inst.InstanceName,
			nullableJSON(inst.Config),
			string(inst.Status),
			inst.ErrorMessage,
			formatTime(inst.CreatedAt),
			formatTime(inst.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrInstallationExists
			}
			return fmt.Errorf("inserting installation: %w", err)
		}

		for _, perm := range inst.Permissions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO agent_permissions (installation_id, permission) VALUES (?, ?)`,
				inst.ID, perm,
			); err != nil {
				return fmt.Errorf("inserting permission grant %q: %w", perm, err)
			}
		}

		if entry != nil {
			if err := insertAuditEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("installation created",
		"installation_id", inst.ID,
		"business_id", inst.BusinessID,
		"agent_id", inst.AgentID,
		"permissions", len(inst.Permissions),
	)
	return nil
}

// GetInstallation retrieves a single installation with its permission grants
func (s *SQLiteStore) GetInstallation(ctx context.Context, id string) (*Installation, error) {
	query := `
		SELECT id, business_id, agent_id, instance_name, config_json, status, error_message, created_at, updated_at
		FROM installed_agents
		WHERE id = ?
	`
	inst, err := scanInstallation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadPermissions(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// ListInstallations returns all installations for a business, newest first
func (s *SQLiteStore) ListInstallations(ctx context.Context, businessID string) ([]*Installation, error) {
	query := `
		SELECT id, business_id, agent_id, instance_name, config_json, status, error_message, created_at, updated_at
		FROM installed_agents
		WHERE business_id = ?
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("querying installations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var insts []*Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating installations: %w", err)
	}

	for _, inst := range insts {
		if err := s.loadPermissions(ctx, inst); err != nil {
			return nil, err
		}
	}
	return insts, nil
}

// UpdateInstallationStatus transitions an installation's status. The error
// message is stored alongside so failed background initialization stays
// debuggable instead of silently retried.
func (s *SQLiteStore) UpdateInstallationStatus(ctx context.Context, id string, status InstallationStatus, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE installed_agents SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating installation status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("installation status updated",
		"installation_id", id,
		"status", status,
	)
	return nil
}

// MarkUninstalling sets the uninstalling status and writes the audit entry
// in the same transaction.
func (s *SQLiteStore) MarkUninstalling(ctx context.Context, id string, entry *AuditEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE installed_agents SET status = ?, updated_at = ? WHERE id = ?`,
			string(InstallationUninstalling), formatTime(time.Now()), id,
		)
		if err != nil {
			return fmt.Errorf("marking uninstalling: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}

		if entry != nil {
			if err := insertAuditEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteInstallation physically removes an installation. Permission grants,
// sessions and events cascade via foreign keys.
func (s *SQLiteStore) DeleteInstallation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM installed_agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting installation: %w", err)
	}

	s.logger.Info("installation deleted", "installation_id", id)
	return nil
}

// loadPermissions fills the Permissions slice of an installation
func (s *SQLiteStore) loadPermissions(ctx context.Context, inst *Installation) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT permission FROM agent_permissions WHERE installation_id = ? ORDER BY permission`,
		inst.ID,
	)
	if err != nil {
		return fmt.Errorf("querying permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			return fmt.Errorf("scanning permission: %w", err)
		}
		inst.Permissions = append(inst.Permissions, perm)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating permissions: %w", err)
	}
	return nil
}

// scanInstallation scans a row into an Installation (without permissions)
func scanInstallation(scanner interface{ Scan(dest ...any) error }) (*Installation, error) {
	inst := &Installation{}
	var configJSON sql.NullString
	var status, createdStr, updatedStr string

	err := scanner.Scan(
		&inst.ID,
		&inst.BusinessID,
		&inst.AgentID,
		&inst.InstanceName,
		&configJSON,
		&status,
		&inst.ErrorMessage,
		&createdStr,
		&updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning installation: %w", err)
	}

	inst.Status = InstallationStatus(status)
	if configJSON.Valid {
		inst.Config = []byte(configJSON.String)
	}
	if inst.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if inst.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return inst, nil
}

// nullableJSON converts an optional raw JSON blob to a driver-friendly value
func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
