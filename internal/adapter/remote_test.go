// ABOUTME: Tests for the remote websocket adapter against an in-process test server
// ABOUTME: Covers the hello/bye handshake, event frames and the receive path

package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testAgentServer is a minimal remote agent: it records frames and echoes
// every event payload back.
type testAgentServer struct {
	server *httptest.Server
	frames chan Frame
}

func newTestAgentServer(t *testing.T) *testAgentServer {
	t.Helper()
	s := &testAgentServer{frames: make(chan Frame, 16)}

	upgrader := websocket.Upgrader{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var frame Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			s.frames <- frame
			if frame.Type == "event" {
				if err := conn.WriteJSON(Frame{Type: "event", Token: frame.Token, Payload: frame.Payload}); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *testAgentServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *testAgentServer) nextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestRemote_ConnectSendsHello(t *testing.T) {
	srv := newTestAgentServer(t)
	a := NewRemote(srv.wsURL(), time.Second, testLogger())
	ctx := context.Background()

	require.NoError(t, a.Connect(ctx, "tok-1"))
	t.Cleanup(func() { _ = a.Disconnect(ctx, "tok-1") })

	hello := srv.nextFrame(t)
	assert.Equal(t, "hello", hello.Type)
	assert.Equal(t, "tok-1", hello.Token)
}

func TestRemote_SendAndReceive(t *testing.T) {
	srv := newTestAgentServer(t)
	a := NewRemote(srv.wsURL(), time.Second, testLogger())
	ctx := context.Background()

	require.NoError(t, a.Connect(ctx, "tok-1"))
	t.Cleanup(func() { _ = a.Disconnect(ctx, "tok-1") })
	srv.nextFrame(t) // hello

	require.NoError(t, a.SendToAgent(ctx, "tok-1", []byte(`{"ticket":17}`)))

	event := srv.nextFrame(t)
	assert.Equal(t, "event", event.Type)
	assert.JSONEq(t, `{"ticket":17}`, string(event.Payload))

	// The test agent echoes the event back
	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	payload, err := a.ReceiveFromAgent(recvCtx, "tok-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ticket":17}`, string(payload))
}

func TestRemote_DisconnectSendsBye(t *testing.T) {
	srv := newTestAgentServer(t)
	a := NewRemote(srv.wsURL(), time.Second, testLogger())
	ctx := context.Background()

	require.NoError(t, a.Connect(ctx, "tok-1"))
	srv.nextFrame(t) // hello

	require.NoError(t, a.Disconnect(ctx, "tok-1"))
	bye := srv.nextFrame(t)
	assert.Equal(t, "bye", bye.Type)

	// Idempotent once the token is gone
	assert.NoError(t, a.Disconnect(ctx, "tok-1"))
	assert.ErrorIs(t, a.SendToAgent(ctx, "tok-1", nil), ErrNotConnected)
}

func TestRemote_ConnectRefused(t *testing.T) {
	a := NewRemote("ws://127.0.0.1:1/agent", time.Second, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, a.Connect(ctx, "tok-1"))
}

func TestRemote_NotConnected(t *testing.T) {
	a := NewRemote("ws://localhost:0", time.Second, testLogger())
	ctx := context.Background()

	assert.ErrorIs(t, a.SendToAgent(ctx, "tok", nil), ErrNotConnected)
	_, err := a.ReceiveFromAgent(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotConnected)
}
