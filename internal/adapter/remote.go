// ABOUTME: Remote adapter speaking JSON frames to an external agent over websocket
// ABOUTME: One websocket connection per session token, guarded for concurrent sends

package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is the wire format exchanged with a remote agent process.
type Frame struct {
	Type    string `json:"type"` // "event", "hello", "bye"
	Token   string `json:"token,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// Remote connects to an external agent process over websocket.
type Remote struct {
	endpoint     string
	writeTimeout time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewRemote creates a remote adapter dialing the given websocket endpoint.
func NewRemote(endpoint string, writeTimeout time.Duration, logger *slog.Logger) *Remote {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Remote{
		endpoint:     endpoint,
		writeTimeout: writeTimeout,
		logger:       logger,
		conns:        make(map[string]*websocket.Conn),
	}
}

// Connect dials the agent endpoint and announces the session token.
func (a *Remote) Connect(ctx context.Context, token string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing agent endpoint %s: %w", a.endpoint, err)
	}

	if err := a.writeFrame(conn, Frame{Type: "hello", Token: token}); err != nil {
		conn.Close()
		return fmt.Errorf("sending hello: %w", err)
	}

	a.mu.Lock()
	a.conns[token] = conn
	a.mu.Unlock()

	a.logger.Info("remote agent connected", "endpoint", a.endpoint)
	return nil
}

// Disconnect says goodbye and closes the connection. Idempotent.
func (a *Remote) Disconnect(ctx context.Context, token string) error {
	a.mu.Lock()
	conn, ok := a.conns[token]
	delete(a.conns, token)
	a.mu.Unlock()
	if !ok {
		return nil
	}

	// Best effort; the close below is what matters
	_ = a.writeFrame(conn, Frame{Type: "bye", Token: token})
	if err := conn.Close(); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}

// SendToAgent delivers one event payload as a JSON frame.
func (a *Remote) SendToAgent(ctx context.Context, token string, payload []byte) error {
	conn, err := a.conn(token)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := conn.WriteJSON(Frame{Type: "event", Token: token, Payload: payload}); err != nil {
		return fmt.Errorf("writing event frame: %w", err)
	}
	return nil
}

// ReceiveFromAgent reads the next frame the agent sent.
func (a *Remote) ReceiveFromAgent(ctx context.Context, token string) ([]byte, error) {
	conn, err := a.conn(token)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("setting read deadline: %w", err)
		}
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	return frame.Payload, nil
}

// writeFrame writes a control frame with the configured deadline.
func (a *Remote) writeFrame(conn *websocket.Conn, f Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(f)
}

func (a *Remote) conn(token string) (*websocket.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	conn, ok := a.conns[token]
	if !ok {
		return nil, ErrNotConnected
	}
	return conn, nil
}
