// ABOUTME: In-process adapter hosting agent logic as a Go handler function
// ABOUTME: Handler outputs are buffered per token for the receive path

package adapter

import (
	"context"
	"fmt"
	"sync"
)

// Handler is the entrypoint of an in-process agent. It receives one event
// payload and may return an outbound payload (nil for none).
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// inboxSize bounds how many unread agent outputs are kept per session.
const inboxSize = 64

// inbox holds a session's undelivered handler outputs. The payload channel
// is never closed; done signals teardown so blocked receivers unwind and
// in-flight sends cannot hit a closed channel.
type inbox struct {
	ch   chan []byte
	done chan struct{}
}

// InProcess runs agent logic inside the supervisor process.
type InProcess struct {
	handler Handler

	mu      sync.Mutex
	inboxes map[string]*inbox
}

// NewInProcess creates an in-process adapter around the given handler.
func NewInProcess(handler Handler) *InProcess {
	return &InProcess{
		handler: handler,
		inboxes: make(map[string]*inbox),
	}
}

// Connect registers the token and allocates its inbox.
func (a *InProcess) Connect(ctx context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.inboxes[token]; ok {
		return fmt.Errorf("token already connected")
	}
	a.inboxes[token] = &inbox{
		ch:   make(chan []byte, inboxSize),
		done: make(chan struct{}),
	}
	return nil
}

// Disconnect drops the token's inbox and wakes blocked receivers. Idempotent.
func (a *InProcess) Disconnect(ctx context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if in, ok := a.inboxes[token]; ok {
		close(in.done)
		delete(a.inboxes, token)
	}
	return nil
}

// SendToAgent invokes the handler with the payload. A non-nil handler result
// is queued on the token's inbox for ReceiveFromAgent. If the token is
// disconnected while the handler runs, the delivery still counts as complete
// and the output is dropped.
func (a *InProcess) SendToAgent(ctx context.Context, token string, payload []byte) error {
	a.mu.Lock()
	_, ok := a.inboxes[token]
	a.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	out, err := a.handler(ctx, payload)
	if err != nil {
		return fmt.Errorf("agent handler: %w", err)
	}
	if out == nil {
		return nil
	}

	// Re-check under the lock: Disconnect may have raced the handler call
	a.mu.Lock()
	defer a.mu.Unlock()
	in, ok := a.inboxes[token]
	if !ok {
		return nil
	}

	// Drop on overflow rather than block the dispatcher
	select {
	case in.ch <- out:
	default:
	}
	return nil
}

// ReceiveFromAgent blocks until the agent produces a payload, the token is
// disconnected, or the context is cancelled.
func (a *InProcess) ReceiveFromAgent(ctx context.Context, token string) ([]byte, error) {
	a.mu.Lock()
	in, ok := a.inboxes[token]
	a.mu.Unlock()
	if !ok {
		return nil, ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-in.done:
		return nil, ErrNotConnected
	case out := <-in.ch:
		return out, nil
	}
}
