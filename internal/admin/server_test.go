package admin

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/signalqueue/internal/signal"
	"github.com/codefionn/signalqueue/internal/signalserver"
)

type fakeDispatcher struct {
	running bool
	slots   []signalserver.SlotInfo
	stats   signalserver.StatsSnapshot
}

func (f *fakeDispatcher) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19100}
}
func (f *fakeDispatcher) IsRunning() bool                   { return f.running }
func (f *fakeDispatcher) Slots() []signalserver.SlotInfo    { return f.slots }
func (f *fakeDispatcher) Stats() signalserver.StatsSnapshot { return f.stats }

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		running: true,
		slots: []signalserver.SlotInfo{
			{ID: 0, Busy: true, State: "reading", Session: "abc", Remote: "10.0.0.2:4000", Commands: 4},
			{ID: 1, State: "waiting"},
			{ID: 2, State: "waiting"},
		},
		stats: signalserver.StatsSnapshot{Accepted: 5, Admitted: 4, Rejected: 1, Commands: 4},
	}
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	dispatcher := newFakeDispatcher()
	ts := httptest.NewServer(NewServer("", dispatcher, nil, nil).Handler())
	defer ts.Close()

	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &body))
	assert.Equal(t, "ok", body["status"])

	dispatcher.running = false
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/health", &body))
	assert.Equal(t, "stopped", body["status"])
}

func TestStatus(t *testing.T) {
	board := signal.NewBoard()
	board.ApplySignal(signal.Red | signal.LampOn)

	ts := httptest.NewServer(NewServer("", newFakeDispatcher(), board, nil).Handler())
	defer ts.Close()

	var status Status
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/status", &status))

	assert.True(t, status.Running)
	assert.Equal(t, "127.0.0.1:19100", status.Address)
	assert.Equal(t, 3, status.PoolSize)
	assert.Equal(t, 1, status.Busy)
	require.Len(t, status.Slots, 3)
	assert.Equal(t, "abc", status.Slots[0].Session)
	assert.Equal(t, uint64(1), status.Stats.Rejected)
	require.NotNil(t, status.Signal)
	assert.Equal(t, signal.Red|signal.LampOn, status.Signal.Command)
	assert.Equal(t, "red lamp-on", status.Signal.Text)
}

func TestStatusWithoutSignal(t *testing.T) {
	ts := httptest.NewServer(NewServer("", newFakeDispatcher(), signal.NewBoard(), nil).Handler())
	defer ts.Close()

	var raw map[string]json.RawMessage
	getJSON(t, ts.URL+"/status", &raw)
	assert.NotContains(t, raw, "signal")
}

func TestOptionalRoutes(t *testing.T) {
	ts := httptest.NewServer(NewServer("", newFakeDispatcher(), nil, nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/signal")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/shutdown", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShutdown(t *testing.T) {
	requested := make(chan struct{})
	s := NewServer("", newFakeDispatcher(), nil, func() { close(requested) })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/shutdown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/shutdown", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-requested:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestCurrentSignal(t *testing.T) {
	board := signal.NewBoard()
	board.ApplySignal(signal.Yellow | signal.Blink)
	ts := httptest.NewServer(NewServer("", newFakeDispatcher(), board, nil).Handler())
	defer ts.Close()

	var update signal.Update
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/signal", &update))
	assert.Equal(t, uint64(1), update.Seq)
	assert.True(t, update.State.Yellow)
	assert.True(t, update.State.Blink)
}

func wsURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/signal/ws"
}

func readUpdate(t *testing.T, conn *websocket.Conn) signal.Update {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update signal.Update
	require.NoError(t, conn.ReadJSON(&update))
	return update
}

func TestSignalWebSocket(t *testing.T) {
	board := signal.NewBoard()
	board.ApplySignal(signal.Red)

	ts := httptest.NewServer(NewServer("", newFakeDispatcher(), board, nil).Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return board.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	first := readUpdate(t, conn)
	assert.Equal(t, signal.Red, first.Command)

	board.ApplySignal(signal.Green | signal.LampOn)
	second := readUpdate(t, conn)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, "green lamp-on", second.Text)

	conn.Close()
	require.Eventually(t, func() bool { return board.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServeLifecycle(t *testing.T) {
	board := signal.NewBoard()
	s := NewServer("127.0.0.1:0", newFakeDispatcher(), board, nil)
	require.NoError(t, s.Listen())
	base := "http://" + s.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	var body map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, base+"/health", &body))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return board.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()

	// the feed says goodbye instead of hanging
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not stop")
	}
}

func TestListenFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	s := NewServer(occupied.Addr().String(), newFakeDispatcher(), nil, nil)
	err = s.ListenAndServe(context.Background())
	assert.ErrorContains(t, err, "failed to listen")
}

func TestProfiling(t *testing.T) {
	s := NewServer("", newFakeDispatcher(), nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.EnableProfiling()

	resp, err = http.Get(ts.URL + "/debug/pprof/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "goroutine")

	resp, err = http.Get(ts.URL + "/debug/pprof/goroutine?debug=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/debug/pprof/cmdline")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
