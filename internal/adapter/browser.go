// ABOUTME: Browser adapter relaying events through a per-token outbox
// ABOUTME: The browser client drains the outbox; nothing is pushed over a socket

package adapter

import (
	"context"
	"errors"
	"sync"
)

// ErrOutboxFull indicates the browser client is not draining its outbox.
var ErrOutboxFull = errors.New("browser outbox full")

// outboxSize bounds undelivered events per browser session.
const outboxSize = 128

// outbox holds a session's undelivered payloads. The payload channel is
// never closed; done signals teardown so blocked receivers unwind and
// in-flight sends cannot hit a closed channel.
type outbox struct {
	ch   chan []byte
	done chan struct{}
}

// Browser relays events to a browser-hosted agent. Deliveries are queued in
// an outbox the client drains via ReceiveFromAgent (long-poll from the
// surrounding API layer).
type Browser struct {
	mu       sync.Mutex
	outboxes map[string]*outbox
}

// NewBrowser creates a browser relay adapter.
func NewBrowser() *Browser {
	return &Browser{
		outboxes: make(map[string]*outbox),
	}
}

// Connect allocates the outbox for a token.
func (a *Browser) Connect(ctx context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.outboxes[token]; ok {
		return errors.New("token already connected")
	}
	a.outboxes[token] = &outbox{
		ch:   make(chan []byte, outboxSize),
		done: make(chan struct{}),
	}
	return nil
}

// Disconnect drops the outbox and any undelivered events, waking blocked
// receivers. Idempotent.
func (a *Browser) Disconnect(ctx context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ob, ok := a.outboxes[token]; ok {
		close(ob.done)
		delete(a.outboxes, token)
	}
	return nil
}

// SendToAgent queues one payload on the token's outbox. The membership check
// and the send happen under the same lock so a concurrent Disconnect fails
// the send instead of racing it.
func (a *Browser) SendToAgent(ctx context.Context, token string, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ob, ok := a.outboxes[token]
	if !ok {
		return ErrNotConnected
	}

	select {
	case ob.ch <- payload:
		return nil
	default:
		return ErrOutboxFull
	}
}

// ReceiveFromAgent blocks until a queued payload is available, the token is
// disconnected, or the context is cancelled.
func (a *Browser) ReceiveFromAgent(ctx context.Context, token string) ([]byte, error) {
	a.mu.Lock()
	ob, ok := a.outboxes[token]
	a.mu.Unlock()
	if !ok {
		return nil, ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ob.done:
		return nil, ErrNotConnected
	case payload := <-ob.ch:
		return payload, nil
	}
}
