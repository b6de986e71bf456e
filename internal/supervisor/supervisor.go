// ABOUTME: Supervisor wiring - owns the store, queue consumers, live registry and monitors
// ABOUTME: Entry points for lifecycle operations live in install.go, session.go, dispatch.go

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shreyanshjain7174/agent-runtime/internal/adapter"
	"github.com/shreyanshjain7174/agent-runtime/internal/registry"
	"github.com/shreyanshjain7174/agent-runtime/internal/store"
)

// MaxEventRetries is the fixed ceiling on delivery attempts after the first.
const MaxEventRetries = 3

// Config tunes the supervisor's background machinery.
type Config struct {
	// TokenSecret signs session tokens. Required.
	TokenSecret string
	// Consumers is the number of dispatcher loops. Defaults to 1.
	Consumers int
	// QueuePollInterval is how long a consumer sleeps when the queue is
	// empty. Defaults to 500ms.
	QueuePollInterval time.Duration
	// HeartbeatInterval is the per-session monitor tick. Defaults to 30s.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the staleness threshold after which a silent
	// session is torn down. Defaults to 5m.
	HeartbeatTimeout time.Duration
	// RetryBackoffBase scales the 2^n retry delay. Defaults to 1s.
	RetryBackoffBase time.Duration
	// UninstallGracePeriod delays physical deletion after uninstall so
	// in-flight event processing can drain. Defaults to 5s.
	UninstallGracePeriod time.Duration
	// ClaimTimeout is how long a queue claim may be held before a restart
	// releases it. Defaults to 1m.
	ClaimTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Consumers <= 0 {
		c.Consumers = 1
	}
	if c.QueuePollInterval <= 0 {
		c.QueuePollInterval = 500 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Minute
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = time.Second
	}
	if c.UninstallGracePeriod <= 0 {
		c.UninstallGracePeriod = 5 * time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = time.Minute
	}
}

// InstallHook runs after an install transaction commits, provisioning any
// backing resources the agent needs. A hook failure moves the installation
// to error status; it never rolls back the committed install record.
type InstallHook func(ctx context.Context, inst *store.Installation) error

// Supervisor installs, starts, stops and supervises agent processes on
// behalf of businesses and routes asynchronous events to them.
type Supervisor struct {
	store    store.Store
	defs     *registry.Registry
	adapters *adapter.Factory
	live     *liveRegistry
	cfg      Config
	logger   *slog.Logger

	installHook InstallHook

	// monitors maps session ID to its heartbeat monitor's stop channel
	monMu    sync.Mutex
	monitors map[string]chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Supervisor. Run must be called before events are dispatched.
func New(st store.Store, defs *registry.Registry, adapters *adapter.Factory, cfg Config, logger *slog.Logger) *Supervisor {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		store:    st,
		defs:     defs,
		adapters: adapters,
		live:     newLiveRegistry(logger.With("component", "live-registry")),
		cfg:      cfg,
		logger:   logger,
		monitors: make(map[string]chan struct{}),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// SetInstallHook installs the post-commit initialization hook.
func (s *Supervisor) SetInstallHook(h InstallHook) {
	s.installHook = h
}

// Run reconciles leftover queue and session state, then starts the
// dispatcher consumers.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.reconcileSessions(ctx); err != nil {
		return fmt.Errorf("reconciling sessions: %w", err)
	}
	if _, err := s.store.ReleaseStaleClaims(ctx, time.Now().Add(-s.cfg.ClaimTimeout)); err != nil {
		return fmt.Errorf("releasing stale claims: %w", err)
	}
	if err := s.requeueOrphans(ctx); err != nil {
		return fmt.Errorf("requeueing orphan events: %w", err)
	}

	for i := 0; i < s.cfg.Consumers; i++ {
		s.wg.Add(1)
		go func(consumer int) {
			defer s.wg.Done()
			s.consumeLoop(consumer)
		}(i)
	}

	s.logger.Info("supervisor running",
		"consumers", s.cfg.Consumers,
		"heartbeat_interval", s.cfg.HeartbeatInterval,
		"heartbeat_timeout", s.cfg.HeartbeatTimeout,
	)
	return nil
}

// Close signals all background work to stop and waits for it to drain.
func (s *Supervisor) Close() {
	s.cancel()

	s.monMu.Lock()
	for id, stop := range s.monitors {
		close(stop)
		delete(s.monitors, id)
	}
	s.monMu.Unlock()

	s.wg.Wait()
	s.logger.Info("supervisor stopped")
}

// GetInstalledAgents returns a business's installations.
func (s *Supervisor) GetInstalledAgents(ctx context.Context, businessID string) ([]*store.Installation, error) {
	return s.store.ListInstallations(ctx, businessID)
}

// GetAgentSessions returns all sessions for a business's installations.
func (s *Supervisor) GetAgentSessions(ctx context.Context, businessID string) ([]*store.RuntimeSession, error) {
	return s.store.ListSessionsByBusiness(ctx, businessID)
}

// GetAgentEvents returns recent events for an installation, newest first.
func (s *Supervisor) GetAgentEvents(ctx context.Context, installationID string, limit int) ([]*store.AgentEvent, error) {
	return s.store.ListEventsByInstallation(ctx, installationID, limit)
}

// GetResourceUsage returns the per-day usage rows for the last N days.
func (s *Supervisor) GetResourceUsage(ctx context.Context, installationID string, days int) ([]*store.ResourceUsagePeriod, error) {
	return s.store.GetResourceUsage(ctx, installationID, days)
}

// GetAuditLog returns audit entries matching the filter.
func (s *Supervisor) GetAuditLog(ctx context.Context, f store.AuditFilter) ([]store.AuditEntry, error) {
	return s.store.ListAuditEntries(ctx, f)
}

// LiveSessionCount reports how many sessions hold a live adapter.
func (s *Supervisor) LiveSessionCount() int {
	return s.live.count()
}
