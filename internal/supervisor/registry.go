// ABOUTME: Live registry of running sessions and their adapter instances
// ABOUTME: Concurrency-guarded maps read by the dispatcher, written by session lifecycle

package supervisor

import (
	"log/slog"
	"sync"

	"github.com/shreyanshjain7174/agent-runtime/internal/adapter"
)

// liveSession is the in-memory snapshot of one running session, pairing the
// durable row with its process-local adapter instance.
type liveSession struct {
	SessionID      string
	InstallationID string
	Token          string
	Adapter        adapter.Adapter
}

// liveRegistry holds all process-local session state. It is owned by one
// Supervisor instance, never ambient, so supervisors under test do not share
// hidden state.
type liveRegistry struct {
	mu             sync.RWMutex
	byToken        map[string]*liveSession
	byInstallation map[string]*liveSession
	logger         *slog.Logger
}

func newLiveRegistry(logger *slog.Logger) *liveRegistry {
	return &liveRegistry{
		byToken:        make(map[string]*liveSession),
		byInstallation: make(map[string]*liveSession),
		logger:         logger,
	}
}

// register adds a session to the live maps.
func (r *liveRegistry) register(ls *liveSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byToken[ls.Token] = ls
	r.byInstallation[ls.InstallationID] = ls
	r.logger.Info("session registered",
		"session_id", ls.SessionID,
		"installation_id", ls.InstallationID,
		"live_sessions", len(r.byToken),
	)
}

// unregister removes a session from the live maps. Idempotent.
func (r *liveRegistry) unregister(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	delete(r.byInstallation, ls.InstallationID)
	r.logger.Info("session unregistered",
		"session_id", ls.SessionID,
		"installation_id", ls.InstallationID,
		"live_sessions", len(r.byToken),
	)
}

// byTokenLookup returns the live session for a token, if any.
func (r *liveRegistry) byTokenLookup(token string) (*liveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ls, ok := r.byToken[token]
	return ls, ok
}

// byInstallationLookup returns the live session for an installation, if any.
func (r *liveRegistry) byInstallationLookup(installationID string) (*liveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ls, ok := r.byInstallation[installationID]
	return ls, ok
}

// count returns the number of live sessions.
func (r *liveRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}
