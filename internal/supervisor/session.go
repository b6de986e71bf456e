// ABOUTME: Session lifecycle state machine - start, stop, pause, resume, crash handling
// ABOUTME: Sessions are addressed by signed tokens and torn down unconditionally on stop

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/shreyanshjain7174/agent-runtime/internal/store"
)

// StartAgent launches a session for an active installation. Starting is
// idempotent: if a non-terminal session already exists it is returned
// unchanged and no second adapter is created.
func (s *Supervisor) StartAgent(ctx context.Context, installationID string) (*store.RuntimeSession, error) {
	inst, err := s.store.GetInstallation(ctx, installationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "installation", ID: installationID}
		}
		return nil, err
	}
	if inst.Status != store.InstallationActive {
		return nil, &InvalidStateError{Op: "start agent", Status: string(inst.Status)}
	}

	if existing, err := s.store.GetActiveSessionByInstallation(ctx, installationID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	def, err := s.defs.Get(inst.AgentID)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	token, err := s.mintSessionToken(sessionID, installationID)
	if err != nil {
		return nil, fmt.Errorf("minting session token: %w", err)
	}

	now := time.Now().UTC()
	sess := &store.RuntimeSession{
		ID:             sessionID,
		InstallationID: installationID,
		SessionToken:   token,
		Status:         store.SessionStarting,
		StartedAt:      now,
		LastHeartbeat:  now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrSessionExists) {
			// A concurrent start won the race past the active-session check.
			// Fold onto the idempotent path and return the winner's session.
			return s.store.GetActiveSessionByInstallation(ctx, installationID)
		}
		return nil, err
	}

	ad, err := s.adapters.Adapter(def.Runtime)
	if err != nil {
		s.crashSession(ctx, sessionID)
		return nil, err
	}

	if err := ad.Connect(ctx, token); err != nil {
		// A failed start is not silently swallowed: the adapter is
		// discarded, the session row is cleaned up, and the error
		// propagates to the caller.
		s.crashSession(ctx, sessionID)
		s.audit(ctx, inst.BusinessID, "system", store.AuditStartAgent, "session", sessionID, store.OutcomeFailure,
			map[string]any{"error": err.Error()})
		return nil, &AdapterError{Op: "connect", Err: err}
	}

	if err := s.store.UpdateSessionStatus(ctx, sessionID, store.SessionRunning); err != nil {
		return nil, err
	}
	sess.Status = store.SessionRunning

	s.live.register(&liveSession{
		SessionID:      sessionID,
		InstallationID: installationID,
		Token:          token,
		Adapter:        ad,
	})
	s.startMonitor(sessionID)
	s.audit(ctx, inst.BusinessID, "system", store.AuditStartAgent, "session", sessionID, store.OutcomeSuccess,
		map[string]any{"agent_id": inst.AgentID})

	s.logger.Info("agent started",
		"session_id", sessionID,
		"installation_id", installationID,
		"runtime", def.Runtime,
	)
	return sess, nil
}

// StopAgent tears down the installation's session. No-op if none is active.
// The session is removed locally even when the adapter misbehaves on
// disconnect; supervisor bookkeeping must not get stuck on a bad adapter.
func (s *Supervisor) StopAgent(ctx context.Context, installationID string) error {
	sess, err := s.store.GetActiveSessionByInstallation(ctx, installationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.teardownSession(ctx, sess); err != nil {
		return err
	}

	inst, err := s.store.GetInstallation(ctx, installationID)
	if err == nil {
		s.audit(ctx, inst.BusinessID, "system", store.AuditStopAgent, "session", sess.ID, store.OutcomeSuccess, nil)
	}
	return nil
}

// PauseAgent suspends event heartbeat supervision for a running session.
// Pure status transition; the adapter is not contacted.
func (s *Supervisor) PauseAgent(ctx context.Context, installationID string) error {
	sess, err := s.store.GetActiveSessionByInstallation(ctx, installationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Kind: "session", ID: installationID}
		}
		return err
	}
	if sess.Status != store.SessionRunning {
		return &InvalidStateError{Op: "pause agent", Status: string(sess.Status)}
	}

	if err := s.store.UpdateSessionStatus(ctx, sess.ID, store.SessionPaused); err != nil {
		return err
	}
	s.stopMonitor(sess.ID)

	s.logger.Info("agent paused", "session_id", sess.ID, "installation_id", installationID)
	return nil
}

// ResumeAgent resumes a paused session. The heartbeat is refreshed first so
// the monitor does not immediately observe a stale session.
func (s *Supervisor) ResumeAgent(ctx context.Context, installationID string) error {
	sess, err := s.store.GetActiveSessionByInstallation(ctx, installationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Kind: "session", ID: installationID}
		}
		return err
	}
	if sess.Status != store.SessionPaused {
		return &InvalidStateError{Op: "resume agent", Status: string(sess.Status)}
	}

	if err := s.store.TouchHeartbeat(ctx, sess.ID, time.Now().UTC()); err != nil {
		return err
	}
	if err := s.store.UpdateSessionStatus(ctx, sess.ID, store.SessionRunning); err != nil {
		return err
	}
	s.startMonitor(sess.ID)

	s.logger.Info("agent resumed", "session_id", sess.ID, "installation_id", installationID)
	return nil
}

// teardownSession is the shared stop path used by StopAgent and the
// heartbeat monitor: mark stopping, disconnect, then unconditionally remove
// the local and durable session state.
func (s *Supervisor) teardownSession(ctx context.Context, sess *store.RuntimeSession) error {
	if err := s.store.UpdateSessionStatus(ctx, sess.ID, store.SessionStopping); err != nil {
		return err
	}
	s.stopMonitor(sess.ID)

	if ls, ok := s.live.byTokenLookup(sess.SessionToken); ok {
		if err := ls.Adapter.Disconnect(ctx, sess.SessionToken); err != nil {
			// Logged, not propagated: local teardown proceeds regardless
			s.logger.Warn("adapter disconnect failed",
				"session_id", sess.ID,
				"error", err,
			)
		}
		s.live.unregister(sess.SessionToken)
	}

	if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}

	s.logger.Info("session torn down", "session_id", sess.ID, "installation_id", sess.InstallationID)
	return nil
}

// reconcileSessions tears down non-terminal session rows whose token has no
// live adapter. They predate this process: no adapter exists to deliver to
// and no monitor will ever observe a heartbeat, so leaving them would block
// restarts and fail every dispatched event until an operator stopped them.
func (s *Supervisor) reconcileSessions(ctx context.Context) error {
	sessions, err := s.store.ListActiveSessions(ctx)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if _, ok := s.live.byTokenLookup(sess.SessionToken); ok {
			continue
		}
		s.logger.Warn("tearing down session left over from previous run",
			"session_id", sess.ID,
			"installation_id", sess.InstallationID,
			"status", sess.Status,
		)
		if err := s.teardownSession(ctx, sess); err != nil {
			s.logger.Error("reconciling leftover session failed",
				"session_id", sess.ID,
				"error", err,
			)
		}
	}
	return nil
}

// crashSession records a failed start and removes the session row. Crashed
// sessions are not retried here; retry policy lives above the supervisor.
func (s *Supervisor) crashSession(ctx context.Context, sessionID string) {
	if err := s.store.UpdateSessionStatus(ctx, sessionID, store.SessionCrashed); err != nil {
		s.logger.Error("marking session crashed failed", "session_id", sessionID, "error", err)
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		s.logger.Error("removing crashed session failed", "session_id", sessionID, "error", err)
	}
}

// sessionClaims is the payload of a signed session token.
type sessionClaims struct {
	InstallationID string `json:"iid"`
	jwt.RegisteredClaims
}

// mintSessionToken signs an unguessable capability addressing one session.
func (s *Supervisor) mintSessionToken(sessionID, installationID string) (string, error) {
	claims := sessionClaims{
		InstallationID: installationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sessionID,
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
			ID:       uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.TokenSecret))
}

// audit appends an audit entry for a privileged action, logging rather than
// propagating append failures.
func (s *Supervisor) audit(ctx context.Context, businessID, actor string, action store.AuditAction, targetType, targetID string, outcome store.AuditOutcome, detail map[string]any) {
	entry := &store.AuditEntry{
		BusinessID: businessID,
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Outcome:    outcome,
		Detail:     detail,
	}
	if err := s.store.AppendAuditEntry(ctx, entry); err != nil {
		s.logger.Error("appending audit entry failed", "action", action, "error", err)
	}
}
