// ABOUTME: Tests for the session lifecycle state machine
// ABOUTME: Covers idempotent start, stop, pause/resume transitions and invalid states

package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreyanshjain7174/agent-runtime/internal/store"
)

func TestStartAgent(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	inst := env.installAgent(t, "biz-1")
	sess, err := env.sup.StartAgent(ctx, inst.ID)
	require.NoError(t, err)

	assert.Equal(t, store.SessionRunning, sess.Status)
	assert.NotEmpty(t, sess.SessionToken)
	assert.Equal(t, 1, env.sup.LiveSessionCount())

	got, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionRunning, got.Status)
}

func TestStartAgent_ConcurrentStartsShareOneSession(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	inst := env.installAgent(t, "biz-1")

	const starters = 8
	var wg sync.WaitGroup
	sessions := make([]*store.RuntimeSession, starters)
	errs := make([]error, starters)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = env.sup.StartAgent(ctx, inst.ID)
		}(i)
	}
	wg.Wait()

	// Losers of the create race fold onto the winner's session instead of
	// surfacing a constraint error
	for i := 0; i < starters; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, sessions[i])
		assert.Equal(t, sessions[0].ID, sessions[i].ID)
	}
	assert.Equal(t, 1, env.sup.LiveSessionCount())
}

func TestRun_TearsDownLeftoverSessions(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	inst := env.installAgent(t, "biz-1")

	// A running row from a previous process: no live adapter holds its token
	now := time.Now().UTC()
	stale := &store.RuntimeSession{
		ID:             "sess-leftover",
		InstallationID: inst.ID,
		SessionToken:   "token-from-previous-run",
		Status:         store.SessionRunning,
		StartedAt:      now,
		LastHeartbeat:  now,
	}
	require.NoError(t, env.store.CreateSession(ctx, stale))

	env.run(t)

	_, err := env.store.GetSession(ctx, stale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, env.sup.LiveSessionCount())

	// The installation is startable again immediately
	fresh, err := env.sup.StartAgent(ctx, inst.ID)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, fresh.ID)
	assert.Equal(t, store.SessionRunning, fresh.Status)
}

func TestStartAgent_Idempotent(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	inst := env.installAgent(t, "biz-1")
	first, err := env.sup.StartAgent(ctx, inst.ID)
	require.NoError(t, err)

	second, err := env.sup.StartAgent(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, env.sup.LiveSessionCount())
}

func TestStartAgent_NotFound(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.sup.StartAgent(context.Background(), "missing")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStartAgent_NotActive(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	inst := env.installAgent(t, "biz-1")
	require.NoError(t, env.store.UpdateInstallationStatus(ctx, inst.ID, store.InstallationError, "init failed"))

	_, err := env.sup.StartAgent(ctx, inst.ID)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, string(store.InstallationError), invalid.Status)
}

func TestStopAgent(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	inst := env.installAgent(t, "biz-1")
	sess, err := env.sup.StartAgent(ctx, inst.ID)
	require.NoError(t, err)

	require.NoError(t, env.sup.StopAgent(ctx, inst.ID))
	assert.Zero(t, env.sup.LiveSessionCount())

	// Stopping is terminal: the session row is gone
	_, err = env.store.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Stop with nothing running is a no-op
	assert.NoError(t, env.sup.StopAgent(ctx, inst.ID))
}

func TestStopThenStartAgain(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	inst := env.installAgent(t, "biz-1")
	first, err := env.sup.StartAgent(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, env.sup.StopAgent(ctx, inst.ID))

	second, err := env.sup.StartAgent(ctx, inst.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, env.sup.LiveSessionCount())
}

func TestPauseAndResumeAgent(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	inst := env.installAgent(t, "biz-1")
	sess, err := env.sup.StartAgent(ctx, inst.ID)
	require.NoError(t, err)

	require.NoError(t, env.sup.PauseAgent(ctx, inst.ID))
	got, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionPaused, got.Status)
	// The adapter stays connected while paused
	assert.Equal(t, 1, env.sup.LiveSessionCount())

	// Pause is only valid from running
	var invalid *InvalidStateError
	require.ErrorAs(t, env.sup.PauseAgent(ctx, inst.ID), &invalid)
	assert.Equal(t, string(store.SessionPaused), invalid.Status)

	require.NoError(t, env.sup.ResumeAgent(ctx, inst.ID))
	got, err = env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionRunning, got.Status)

	// Resume is only valid from paused
	assert.ErrorAs(t, env.sup.ResumeAgent(ctx, inst.ID), &invalid)
}

func TestPauseAgent_NoSession(t *testing.T) {
	env := newTestEnv(t, Config{})

	inst := env.installAgent(t, "biz-1")
	var notFound *NotFoundError
	assert.ErrorAs(t, env.sup.PauseAgent(context.Background(), inst.ID), &notFound)
	assert.ErrorAs(t, env.sup.ResumeAgent(context.Background(), inst.ID), &notFound)
}
