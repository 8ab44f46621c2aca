// Package signalserver implements the TCP dispatcher for signal commands.
//
// # Architecture
//
//   - Server: owns the listener and runs the accept loop on a single goroutine
//   - Pool: a fixed arena of worker slots with stable indices
//   - handler: one goroutine per slot running the connection state machine
//
// For every accepted connection the dispatcher asks the pool for the lowest
// idle slot. If none is idle the client receives a rejection and the
// connection is closed. Otherwise the client receives an acceptance and the
// connection is handed to the slot through its gate, a channel of capacity
// one. The dispatcher finishes one admission before accepting the next
// connection, so two clients can never be routed to the same slot.
//
// # Handler states
//
//	WAITING   blocked on the gate
//	HANDSHAKE one role byte; only 'W' or 'w' (writer) is accepted
//	READING   receives of up to three bytes, the first byte of each is a command
//	CLOSING   close the connection, release the slot, back to WAITING
//
// # Shutdown
//
// Cancelling the context passed to Serve closes the listener, wakes every
// waiting handler, closes every active connection so blocked receives
// return, and waits for all handler goroutines before Serve returns.
//
// Usage
//
//	srv := signalserver.NewServer(cfg, signal.NewLogActuator(nil))
//	if err := srv.Listen(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
package signalserver
