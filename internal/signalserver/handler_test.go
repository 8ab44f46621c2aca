package signalserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/signalqueue/internal/signal"
)

// eventObserver records handler outcomes for assertions
type eventObserver struct {
	NopObserver

	mu              sync.Mutex
	handshakeFailed []error
	disconnected    chan error
}

func newEventObserver() *eventObserver {
	return &eventObserver{disconnected: make(chan error, 16)}
}

func (o *eventObserver) HandshakeFailed(_ int, _ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handshakeFailed = append(o.handshakeFailed, err)
}

func (o *eventObserver) Disconnected(_ int, _ string, err error) {
	o.disconnected <- err
}

func (o *eventObserver) handshakeFailures() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.handshakeFailed...)
}

func (o *eventObserver) waitDisconnect(t *testing.T) error {
	t.Helper()
	select {
	case err := <-o.disconnected:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not close the connection")
		return nil
	}
}

type handlerFixture struct {
	pool     *Pool
	recorder *signal.Recorder
	observer *eventObserver
	cancel   context.CancelFunc
}

func startHandlers(t *testing.T, size int, idleTimeout time.Duration) *handlerFixture {
	t.Helper()

	f := &handlerFixture{
		pool:     NewPool(size),
		recorder: &signal.Recorder{},
		observer: newEventObserver(),
	}
	h := &handler{
		pool:        f.pool,
		actuator:    f.recorder,
		observer:    f.observer,
		idleTimeout: idleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	require.NoError(t, f.pool.Start(ctx, h.run))
	t.Cleanup(func() {
		cancel()
		f.pool.Wait()
	})
	return f
}

// connect assigns a fresh pipe to slot 0 and returns the client end
func (f *handlerFixture) connect(t *testing.T) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	require.NoError(t, f.pool.Assign(0, server, "test-session"))
	return client
}

func TestHandlerWriterRoundTrip(t *testing.T) {
	f := startHandlers(t, 1, 0)
	client := f.connect(t)

	_, err := client.Write([]byte{'W'})
	require.NoError(t, err)
	_, err = client.Write([]byte{0b00000011})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	assert.ErrorIs(t, f.observer.waitDisconnect(t), ErrPeerDisconnected)
	assert.Equal(t, []signal.Command{0b00000011}, f.recorder.Commands())
	assert.Equal(t, 0, f.pool.Busy())
	assert.Empty(t, f.observer.handshakeFailures())
}

func TestHandlerAcceptsLowercaseRole(t *testing.T) {
	f := startHandlers(t, 1, 0)
	client := f.connect(t)

	_, err := client.Write([]byte{'w'})
	require.NoError(t, err)
	_, err = client.Write([]byte{0b11000010})
	require.NoError(t, err)
	client.Close()

	f.observer.waitDisconnect(t)
	cmds := f.recorder.Commands()
	require.Len(t, cmds, 1)
	assert.True(t, signal.Decode(cmds[0]).Red)
	assert.Equal(t, signal.Red, cmds[0].Known())
}

func TestHandlerRejectsUnknownRole(t *testing.T) {
	f := startHandlers(t, 1, 0)
	client := f.connect(t)

	_, err := client.Write([]byte{'X'})
	require.NoError(t, err)

	assert.ErrorIs(t, f.observer.waitDisconnect(t), ErrHandshakeInvalid)

	// server side is closed without reading further
	_ = client.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = client.Write([]byte{byte(signal.Red)})
	assert.Error(t, err)

	assert.Equal(t, 0, f.recorder.Len())
	assert.Equal(t, 0, f.pool.Busy())
	require.Len(t, f.observer.handshakeFailures(), 1)
}

func TestHandlerDisconnectBeforeHandshake(t *testing.T) {
	f := startHandlers(t, 1, 0)
	client := f.connect(t)
	client.Close()

	assert.ErrorIs(t, f.observer.waitDisconnect(t), ErrPeerDisconnected)
	assert.Equal(t, 0, f.recorder.Len())
	assert.Len(t, f.observer.handshakeFailures(), 1)
	assert.Equal(t, 0, f.pool.Busy())
}

func TestHandlerChunking(t *testing.T) {
	f := startHandlers(t, 1, 0)
	client := f.connect(t)

	_, err := client.Write([]byte{'W'})
	require.NoError(t, err)

	// one delivery of three bytes: only the leading byte counts
	_, err = client.Write([]byte{byte(signal.Red), byte(signal.Green), byte(signal.Yellow)})
	require.NoError(t, err)
	// five bytes arrive as two receives of at most three bytes
	_, err = client.Write([]byte{byte(signal.Blink), 0xFF, 0xFF, byte(signal.LampOff), 0xFF})
	require.NoError(t, err)
	client.Close()

	f.observer.waitDisconnect(t)
	assert.Equal(t, []signal.Command{signal.Red, signal.Blink, signal.LampOff}, f.recorder.Commands())
}

func TestHandlerSlotReusable(t *testing.T) {
	f := startHandlers(t, 1, 0)

	for i := 0; i < 3; i++ {
		client := f.connect(t)
		_, err := client.Write([]byte{'W'})
		require.NoError(t, err)
		client.Close()
		f.observer.waitDisconnect(t)

		idx, ok := f.pool.FindIdle()
		require.True(t, ok)
		assert.Equal(t, 0, idx)
	}
}

func TestHandlerIdleTimeout(t *testing.T) {
	f := startHandlers(t, 1, 50*time.Millisecond)
	client := f.connect(t)

	_, err := client.Write([]byte{'W'})
	require.NoError(t, err)

	assert.ErrorIs(t, f.observer.waitDisconnect(t), ErrIdleTimeout)
	assert.Equal(t, 0, f.pool.Busy())
}

func TestHandlerShutdownWhileReading(t *testing.T) {
	f := startHandlers(t, 2, 0)
	client := f.connect(t)

	_, err := client.Write([]byte{'W'})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.pool.Snapshot()[0].State == StateReading.String()
	}, time.Second, 5*time.Millisecond)

	f.cancel()

	assert.ErrorIs(t, f.observer.waitDisconnect(t), context.Canceled)

	done := make(chan struct{})
	go func() {
		f.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not exit on shutdown")
	}
}

func TestHandlerStateString(t *testing.T) {
	assert.Equal(t, "waiting", StateWaiting.String())
	assert.Equal(t, "handshake", StateHandshake.String())
	assert.Equal(t, "reading", StateReading.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "unknown", HandlerState(9).String())
}
