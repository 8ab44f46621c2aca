package signalserver

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/signalqueue/internal/config"
	"github.com/codefionn/signalqueue/internal/protocol"
	"github.com/codefionn/signalqueue/internal/signal"
)

type serverFixture struct {
	srv      *Server
	recorder *signal.Recorder
	addr     string
	cancel   context.CancelFunc
	done     chan error
}

func startServer(t *testing.T, poolSize int) *serverFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.PoolSize = poolSize

	f := &serverFixture{
		recorder: &signal.Recorder{},
		done:     make(chan error, 1),
	}
	f.srv = NewServer(cfg, f.recorder)
	require.NoError(t, f.srv.Listen())
	f.addr = f.srv.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.srv.Serve(ctx) }()
	require.Eventually(t, f.srv.IsRunning, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return f
}

func (f *serverFixture) stop(t *testing.T) error {
	t.Helper()
	f.cancel()
	select {
	case err := <-f.done:
		f.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

// dial connects and reads the admission frame including the terminator
func dial(t *testing.T, addr string) (net.Conn, string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := bufio.NewReader(conn).ReadString(protocol.Terminator)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Time{}))
	return conn, frame
}

func waitEOF(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServerAcceptsWriter(t *testing.T) {
	f := startServer(t, 1)

	conn, frame := dial(t, f.addr)
	assert.Equal(t, string(protocol.AcceptFrame()), frame)

	_, err := conn.Write([]byte{'W'})
	require.NoError(t, err)
	_, err = conn.Write([]byte{0b00000011})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.recorder.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []signal.Command{0b00000011}, f.recorder.Commands())

	conn.Close()
	require.Eventually(t, func() bool { return f.srv.Pool().Busy() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServerRejectsWhenPoolFull(t *testing.T) {
	f := startServer(t, 2)

	first, frame1 := dial(t, f.addr)
	_, frame2 := dial(t, f.addr)
	third, frame3 := dial(t, f.addr)

	assert.Equal(t, string(protocol.AcceptFrame()), frame1)
	assert.Equal(t, string(protocol.AcceptFrame()), frame2)
	assert.Equal(t, "{\"error\":true,\"code\":1,\"message\":\"No available connections.\"}\x00", frame3)

	// the rejected connection is closed by the server
	waitEOF(t, third)

	// admitted clients send W and disconnect
	_, err := first.Write([]byte{'W'})
	require.NoError(t, err)
	first.Close()

	require.Eventually(t, func() bool { return f.srv.Stats().Rejected == 1 }, 2*time.Second, 5*time.Millisecond)
	stats := f.srv.Stats()
	assert.Equal(t, uint64(3), stats.Accepted)
	assert.Equal(t, uint64(2), stats.Admitted)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func TestServerZeroPoolAlwaysRejects(t *testing.T) {
	f := startServer(t, 0)

	for i := 0; i < 3; i++ {
		conn, frame := dial(t, f.addr)
		assert.Equal(t, string(protocol.RejectFrame()), frame)
		waitEOF(t, conn)
	}
	assert.Equal(t, uint64(0), f.srv.Stats().Admitted)
}

func TestServerHandshakeInvalid(t *testing.T) {
	f := startServer(t, 1)

	conn, frame := dial(t, f.addr)
	require.Equal(t, string(protocol.AcceptFrame()), frame)

	_, err := conn.Write([]byte{'X'})
	require.NoError(t, err)
	waitEOF(t, conn)

	require.Eventually(t, func() bool { return f.srv.Pool().Busy() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.recorder.Len())
	assert.Equal(t, uint64(1), f.srv.Stats().HandshakeFailed)
}

func TestServerSlotFreedAfterDisconnect(t *testing.T) {
	f := startServer(t, 1)

	conn, frame := dial(t, f.addr)
	require.Equal(t, string(protocol.AcceptFrame()), frame)
	_, err := conn.Write([]byte{'W'})
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool { return f.srv.Pool().Busy() == 0 }, 2*time.Second, 5*time.Millisecond)

	_, frame = dial(t, f.addr)
	assert.Equal(t, string(protocol.AcceptFrame()), frame)
}

func TestServerShutdownWithIdleHandlers(t *testing.T) {
	f := startServer(t, 3)

	assert.NoError(t, f.stop(t))
	assert.False(t, f.srv.IsRunning())

	_, err := net.DialTimeout("tcp", f.addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServerShutdownWithActiveWriter(t *testing.T) {
	f := startServer(t, 1)

	conn, _ := dial(t, f.addr)
	_, err := conn.Write([]byte{'W'})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.srv.Pool().Snapshot()[0].State == StateReading.String()
	}, 2*time.Second, 5*time.Millisecond)

	assert.NoError(t, f.stop(t))
	waitEOF(t, conn)
}

func TestServerServeTwice(t *testing.T) {
	f := startServer(t, 1)
	assert.ErrorIs(t, f.srv.Serve(context.Background()), ErrServerRunning)
}

func TestServerListenFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1"
	cfg.Server.Port = occupied.Addr().(*net.TCPAddr).Port

	srv := NewServer(cfg, nil)
	err = srv.ListenAndServe(context.Background())
	assert.ErrorContains(t, err, "failed to listen")
	assert.Nil(t, srv.Addr())
}

func TestServerIsSingleUse(t *testing.T) {
	f := startServer(t, 1)
	require.NoError(t, f.stop(t))

	err := f.srv.ListenAndServe(context.Background())
	assert.ErrorIs(t, err, ErrPoolStarted)
	assert.False(t, f.srv.IsRunning())
	assert.Nil(t, f.srv.Addr())
}
