package signalserver

import "errors"

var (
	// ErrPoolExhausted means every worker slot was busy at accept time
	ErrPoolExhausted = errors.New("no available connections")
	// ErrHandshakeInvalid means the first byte was not a supported role
	ErrHandshakeInvalid = errors.New("invalid handshake role")
	// ErrPeerDisconnected means the client closed its side of the connection
	ErrPeerDisconnected = errors.New("peer disconnected")
	// ErrIdleTimeout means the client sent nothing within the idle timeout
	ErrIdleTimeout = errors.New("idle timeout")
	// ErrServerRunning is returned by Serve when the server is already serving
	ErrServerRunning = errors.New("server is already running")
	// ErrSlotBusy is returned by Assign for a slot that already holds a connection
	ErrSlotBusy = errors.New("worker slot is busy")
	// ErrNoSuchSlot is returned for an index outside the pool
	ErrNoSuchSlot = errors.New("no such worker slot")
	// ErrPoolStarted is returned when Start is called twice
	ErrPoolStarted = errors.New("worker pool already started")
)
