// ABOUTME: Tests for runtime session persistence
// ABOUTME: Covers the one-active-session invariant, heartbeat updates and counters

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedInstallation(t, store, "inst-1", "biz-1", "support-triage")
	sess := seedSession(t, store, "sess-1", "inst-1")

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", got.InstallationID)
	assert.Equal(t, sess.SessionToken, got.SessionToken)
	assert.Equal(t, SessionRunning, got.Status)
	assert.WithinDuration(t, sess.LastHeartbeat, got.LastHeartbeat, time.Millisecond)
}

func TestCreateSession_SecondActiveRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedInstallation(t, store, "inst-1", "biz-1", "support-triage")
	seedSession(t, store, "sess-1", "inst-1")

	now := time.Now().UTC()
	second := &RuntimeSession{
		ID:             "sess-2",
		InstallationID: "inst-1",
		SessionToken:   "token-sess-2",
		Status:         SessionStarting,
		StartedAt:      now,
		LastHeartbeat:  now,
	}
	// Partial unique index allows at most one non-terminal session
	assert.ErrorIs(t, store.CreateSession(ctx, second), ErrSessionExists)
}

func TestListActiveSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedInstallation(t, store, "inst-1", "biz-1", "support-triage")
	seedInstallation(t, store, "inst-2", "biz-2", "support-triage")
	running := seedSession(t, store, "sess-1", "inst-1")
	crashed := seedSession(t, store, "sess-2", "inst-2")
	require.NoError(t, store.UpdateSessionStatus(ctx, crashed.ID, SessionCrashed))

	sessions, err := store.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, running.ID, sessions[0].ID)

	// Paused sessions are non-terminal and still listed
	require.NoError(t, store.UpdateSessionStatus(ctx, running.ID, SessionPaused))
	sessions, err = store.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, SessionPaused, sessions[0].Status)
}

func TestGetActiveSessionByInstallation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedInstallation(t, store, "inst-1", "biz-1", "support-triage")

	_, err := store.GetActiveSessionByInstallation(ctx, "inst-1")
	assert.ErrorIs(t, err, ErrNotFound)

	seedSession(t, store, "sess-1", "inst-1")

	got, err := store.GetActiveSessionByInstallation(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)

	// Crashed sessions are terminal and do not count as active
	require.NoError(t, store.UpdateSessionStatus(ctx, "sess-1", SessionCrashed))
	_, err = store.GetActiveSessionByInstallation(ctx, "inst-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsByBusiness(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedInstallation(t, store, "inst-1", "biz-1", "support-triage")
	seedInstallation(t, store, "inst-2", "biz-1", "invoice-reconciler")
	seedInstallation(t, store, "inst-3", "biz-2", "support-triage")
	seedSession(t, store, "sess-1", "inst-1")
	seedSession(t, store, "sess-2", "inst-2")
	seedSession(t, store, "sess-3", "inst-3")

	sessions, err := store.ListSessionsByBusiness(ctx, "biz-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	sessions, err = store.ListSessionsByBusiness(ctx, "biz-2")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-3", sessions[0].ID)
}

func TestTouchHeartbeat(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedInstallation(t, store, "inst-1", "biz-1", "support-triage")
	seedSession(t, store, "sess-1", "inst-1")

	later := time.Now().UTC().Add(42 * time.Second)
	require.NoError(t, store.TouchHeartbeat(ctx, "sess-1", later))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.WithinDuration(t, later, got.LastHeartbeat, time.Millisecond)

	assert.ErrorIs(t, store.TouchHeartbeat(ctx, "missing", later), ErrNotFound)
}

func TestRecordEventProcessed(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedInstallation(t, store, "inst-1", "biz-1", "support-triage")
	seedSession(t, store, "sess-1", "inst-1")

	at := time.Now().UTC().Add(time.Second)
	require.NoError(t, store.RecordEventProcessed(ctx, "sess-1", at))
	require.NoError(t, store.RecordEventProcessed(ctx, "sess-1", at.Add(time.Second)))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.EventsProcessed)
	// Counter bump and heartbeat refresh happen together
	assert.WithinDuration(t, at.Add(time.Second), got.LastHeartbeat, time.Millisecond)
}

func TestDeleteSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedInstallation(t, store, "inst-1", "biz-1", "support-triage")
	seedSession(t, store, "sess-1", "inst-1")

	require.NoError(t, store.DeleteSession(ctx, "sess-1"))

	_, err := store.GetSession(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op
	assert.NoError(t, store.DeleteSession(ctx, "sess-1"))
}
