// ABOUTME: Tests for the in-process adapter
// ABOUTME: Covers connect/disconnect semantics, handler invocation and the receive inbox

package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcess_SendInvokesHandler(t *testing.T) {
	ctx := context.Background()
	var received []byte
	a := NewInProcess(func(_ context.Context, payload []byte) ([]byte, error) {
		received = payload
		return []byte(`{"ack":true}`), nil
	})

	require.NoError(t, a.Connect(ctx, "tok"))
	require.NoError(t, a.SendToAgent(ctx, "tok", []byte(`{"n":1}`)))
	assert.JSONEq(t, `{"n":1}`, string(received))

	out, err := a.ReceiveFromAgent(ctx, "tok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ack":true}`, string(out))
}

func TestInProcess_NilHandlerOutputNotQueued(t *testing.T) {
	ctx := context.Background()
	a := NewInProcess(func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, nil
	})

	require.NoError(t, a.Connect(ctx, "tok"))
	require.NoError(t, a.SendToAgent(ctx, "tok", []byte(`{}`)))

	recvCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := a.ReceiveFromAgent(recvCtx, "tok")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInProcess_HandlerError(t *testing.T) {
	ctx := context.Background()
	a := NewInProcess(func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, errors.New("agent exploded")
	})

	require.NoError(t, a.Connect(ctx, "tok"))
	err := a.SendToAgent(ctx, "tok", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent exploded")
}

func TestInProcess_NotConnected(t *testing.T) {
	ctx := context.Background()
	a := NewInProcess(func(_ context.Context, _ []byte) ([]byte, error) { return nil, nil })

	assert.ErrorIs(t, a.SendToAgent(ctx, "tok", nil), ErrNotConnected)
	_, err := a.ReceiveFromAgent(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInProcess_ConnectTwice(t *testing.T) {
	ctx := context.Background()
	a := NewInProcess(func(_ context.Context, _ []byte) ([]byte, error) { return nil, nil })

	require.NoError(t, a.Connect(ctx, "tok"))
	assert.Error(t, a.Connect(ctx, "tok"))
}

func TestInProcess_DisconnectDuringSend(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	gate := make(chan struct{})
	a := NewInProcess(func(_ context.Context, payload []byte) ([]byte, error) {
		close(entered)
		<-gate
		return payload, nil
	})

	require.NoError(t, a.Connect(ctx, "tok"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.SendToAgent(ctx, "tok", []byte(`{"n":1}`))
	}()

	// Tear the session down while the handler is mid-flight, then let the
	// handler finish. The send must complete, not panic.
	<-entered
	require.NoError(t, a.Disconnect(ctx, "tok"))
	close(gate)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return")
	}

	// The output had nowhere to go
	_, err := a.ReceiveFromAgent(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInProcess_DisconnectUnblocksReceive(t *testing.T) {
	ctx := context.Background()
	a := NewInProcess(func(_ context.Context, _ []byte) ([]byte, error) { return nil, nil })

	require.NoError(t, a.Connect(ctx, "tok"))

	errCh := make(chan error, 1)
	go func() {
		_, err := a.ReceiveFromAgent(context.Background(), "tok")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Disconnect(ctx, "tok"))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not unblock on disconnect")
	}
}

func TestInProcess_DisconnectIdempotent(t *testing.T) {
	ctx := context.Background()
	a := NewInProcess(func(_ context.Context, _ []byte) ([]byte, error) { return nil, nil })

	require.NoError(t, a.Connect(ctx, "tok"))
	require.NoError(t, a.Disconnect(ctx, "tok"))
	require.NoError(t, a.Disconnect(ctx, "tok"))

	assert.ErrorIs(t, a.SendToAgent(ctx, "tok", nil), ErrNotConnected)
}
