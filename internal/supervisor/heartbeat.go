// ABOUTME: Per-session heartbeat monitor - demotes sessions that go silent
// ABOUTME: One timer per running session, so detection latency stays bounded

package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/shreyanshjain7174/agent-runtime/internal/store"
)

// startMonitor launches the heartbeat monitor for a session, replacing any
// previous one.
func (s *Supervisor) startMonitor(sessionID string) {
	s.monMu.Lock()
	if old, ok := s.monitors[sessionID]; ok {
		close(old)
	}
	stop := make(chan struct{})
	s.monitors[sessionID] = stop
	s.monMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorSession(sessionID, stop)
	}()
}

// stopMonitor cancels the heartbeat monitor for a session. Idempotent.
func (s *Supervisor) stopMonitor(sessionID string) {
	s.monMu.Lock()
	defer s.monMu.Unlock()

	if stop, ok := s.monitors[sessionID]; ok {
		close(stop)
		delete(s.monitors, sessionID)
	}
}

// monitorSession ticks at the configured interval for one session. A session
// whose heartbeat is older than the staleness threshold is torn down through
// the same path as StopAgent. If the session has left running status between
// ticks, the monitor terminates itself without action.
func (s *Supervisor) monitorSession(sessionID string, stop <-chan struct{}) {
	logger := s.logger.With("session_id", sessionID)
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
		}

		ctx := context.Background()
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.Error("heartbeat check failed", "error", err)
			}
			return
		}
		if sess.Status != store.SessionRunning {
			logger.Debug("session no longer running, monitor exiting", "status", sess.Status)
			return
		}

		// The heartbeat itself is advanced by agent activity (event
		// processing, RecordHeartbeat); the monitor only observes it.
		staleness := time.Now().UTC().Sub(sess.LastHeartbeat)
		if staleness > s.cfg.HeartbeatTimeout {
			logger.Warn("session heartbeat stale, tearing down",
				"staleness", staleness,
				"threshold", s.cfg.HeartbeatTimeout,
			)
			if err := s.teardownSession(ctx, sess); err != nil {
				logger.Error("stale session teardown failed", "error", err)
			}
			return
		}
	}
}

// RecordHeartbeat refreshes a session's liveness on behalf of its agent.
// Remote and browser agents call this through the API layer; in-process
// agents are covered by event processing alone.
func (s *Supervisor) RecordHeartbeat(ctx context.Context, installationID string) error {
	sess, err := s.store.GetActiveSessionByInstallation(ctx, installationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Kind: "session", ID: installationID}
		}
		return err
	}
	return s.store.TouchHeartbeat(ctx, sess.ID, time.Now().UTC())
}
