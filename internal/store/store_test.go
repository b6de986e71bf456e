// ABOUTME: Shared test helpers for the store package
// ABOUTME: Spins up a temporary SQLite store and seeds installation fixtures

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// seedInstallation creates an installation row so rows with foreign keys to
// installed_agents can be inserted.
func seedInstallation(t *testing.T, store *SQLiteStore, id, businessID, agentID string) *Installation {
	t.Helper()
	now := time.Now().UTC()
	inst := &Installation{
		ID:           id,
		BusinessID:   businessID,
		AgentID:      agentID,
		InstanceName: "test instance",
		Status:       InstallationActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.CreateInstallation(context.Background(), inst, nil))
	return inst
}

// seedSession creates a running session for an installation.
func seedSession(t *testing.T, store *SQLiteStore, id, installationID string) *RuntimeSession {
	t.Helper()
	now := time.Now().UTC()
	sess := &RuntimeSession{
		ID:             id,
		InstallationID: installationID,
		SessionToken:   "token-" + id,
		Status:         SessionRunning,
		StartedAt:      now,
		LastHeartbeat:  now,
	}
	require.NoError(t, store.CreateSession(context.Background(), sess))
	return sess
}

// generateTestID builds deterministic IDs for loop-seeded fixtures.
func generateTestID(prefix string, i int) string {
	return fmt.Sprintf("%s-%03d", prefix, i)
}
