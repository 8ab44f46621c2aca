package signalserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/codefionn/signalqueue/internal/protocol"
	"github.com/codefionn/signalqueue/internal/signal"
)

// HandlerState is a connection handler's position in its state machine
type HandlerState int

const (
	StateWaiting HandlerState = iota
	StateHandshake
	StateReading
	StateClosing
)

// String returns string representation of the state
func (s HandlerState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateHandshake:
		return "handshake"
	case StateReading:
		return "reading"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// handler runs the per-slot state machine:
// WAITING -> HANDSHAKE -> READING -> CLOSING -> WAITING.
type handler struct {
	pool        *Pool
	actuator    signal.Actuator
	observer    Observer
	idleTimeout time.Duration
}

// run serves assignments on slot until ctx is done
func (h *handler) run(ctx context.Context, slot *Slot) {
	for {
		h.pool.setState(slot.id, StateWaiting)
		var a assignment
		select {
		case <-ctx.Done():
			return
		case a = <-slot.gate:
		}
		h.serve(ctx, slot, a)
	}
}

func (h *handler) serve(ctx context.Context, slot *Slot, a assignment) {
	// Shutdown closes the connection so a blocked receive returns.
	stop := context.AfterFunc(ctx, func() { a.conn.Close() })
	defer stop()

	err := h.converse(ctx, slot, a)

	h.pool.setState(slot.id, StateClosing)
	a.conn.Close()
	h.pool.Release(slot.id)
	h.observer.Disconnected(slot.id, a.session, err)
}

// converse performs the handshake and the read loop. The returned error
// says why the conversation ended.
func (h *handler) converse(ctx context.Context, slot *Slot, a assignment) error {
	h.pool.setState(slot.id, StateHandshake)
	var role [1]byte
	n, err := h.receive(a.conn, role[:])
	if n == 0 {
		err = h.classify(ctx, err)
		h.observer.HandshakeFailed(slot.id, a.session, err)
		return err
	}
	if !protocol.IsWriterRole(role[0]) {
		err := fmt.Errorf("%w: %q", ErrHandshakeInvalid, role[0])
		h.observer.HandshakeFailed(slot.id, a.session, err)
		return err
	}

	h.pool.setState(slot.id, StateReading)
	var chunk [protocol.ChunkSize]byte
	for {
		n, err := h.receive(a.conn, chunk[:])
		if n > 0 {
			cmd := signal.Command(chunk[0])
			h.pool.recordCommand(slot.id)
			h.actuator.ApplySignal(cmd)
			h.observer.CommandApplied(slot.id, a.session, cmd)
		}
		if err != nil || n == 0 {
			return h.classify(ctx, err)
		}
	}
}

func (h *handler) receive(conn net.Conn, buf []byte) (int, error) {
	if h.idleTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
			return 0, err
		}
	}
	return conn.Read(buf)
}

// classify maps a receive error onto the handler's error taxonomy
func (h *handler) classify(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return context.Cause(ctx)
	case err == nil, errors.Is(err, io.EOF):
		return ErrPeerDisconnected
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrIdleTimeout
	default:
		return fmt.Errorf("receive: %w", err)
	}
}
