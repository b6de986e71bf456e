// ABOUTME: Adapter interface for talking to agent processes across runtime kinds
// ABOUTME: Factory selects an implementation keyed by an installation's declared runtime

package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnknownRuntime indicates no adapter builder is registered for a runtime kind.
var ErrUnknownRuntime = errors.New("unknown runtime kind")

// ErrNotConnected indicates an operation on a token with no live connection.
var ErrNotConnected = errors.New("session not connected")

// Runtime identifies the execution environment an agent runs in.
type Runtime string

const (
	RuntimeInProcess Runtime = "in_process"
	RuntimeRemote    Runtime = "remote"
	RuntimeBrowser   Runtime = "browser"
)

// Valid reports whether r is a known runtime kind.
func (r Runtime) Valid() bool {
	switch r {
	case RuntimeInProcess, RuntimeRemote, RuntimeBrowser:
		return true
	}
	return false
}

// Adapter is the capability through which the supervisor talks to an actual
// agent process. Implementations are addressed by opaque session tokens and
// must tolerate concurrent calls for distinct tokens.
type Adapter interface {
	// Connect establishes the agent-side of a session for the token.
	Connect(ctx context.Context, token string) error
	// Disconnect tears down the session for the token.
	Disconnect(ctx context.Context, token string) error
	// SendToAgent delivers one event payload to the agent.
	SendToAgent(ctx context.Context, token string, payload []byte) error
	// ReceiveFromAgent returns the next payload the agent produced.
	ReceiveFromAgent(ctx context.Context, token string) ([]byte, error)
}

// Builder constructs a fresh adapter instance for one session.
type Builder func() (Adapter, error)

// Factory maps runtime kinds to adapter builders.
type Factory struct {
	mu       sync.RWMutex
	builders map[Runtime]Builder
	logger   *slog.Logger
}

// NewFactory creates an empty adapter factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{
		builders: make(map[Runtime]Builder),
		logger:   logger,
	}
}

// Register installs the builder for a runtime kind, replacing any previous one.
func (f *Factory) Register(runtime Runtime, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.builders[runtime] = b
	f.logger.Debug("adapter builder registered", "runtime", runtime)
}

// Adapter builds an adapter instance for the given runtime kind.
func (f *Factory) Adapter(runtime Runtime) (Adapter, error) {
	f.mu.RLock()
	b, ok := f.builders[runtime]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuntime, runtime)
	}
	return b()
}
