package signalserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/codefionn/signalqueue/internal/config"
	"github.com/codefionn/signalqueue/internal/consts"
	"github.com/codefionn/signalqueue/internal/logger"
	"github.com/codefionn/signalqueue/internal/protocol"
	"github.com/codefionn/signalqueue/internal/signal"
)

// admissionWriteTimeout bounds the single admission write per connection
const admissionWriteTimeout = 5 * time.Second

// Server is the TCP dispatcher. It owns the listener and the worker pool.
type Server struct {
	cfg      *config.Config
	pool     *Pool
	actuator signal.Actuator
	stats    *Stats
	observer Observer
	log      *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
}

// NewServer creates a dispatcher for cfg. Commands are delivered to
// actuator; every event goes to the built-in stats, a log observer, and
// any extra observers.
func NewServer(cfg *config.Config, actuator signal.Actuator, observers ...Observer) *Server {
	if actuator == nil {
		actuator = signal.Nop{}
	}

	log := logger.Global().WithPrefix("dispatcher")
	stats := &Stats{}
	all := Observers{stats, NewLogObserver(log)}
	all = append(all, observers...)

	return &Server{
		cfg:      cfg,
		pool:     NewPool(cfg.Server.PoolSize),
		actuator: actuator,
		stats:    stats,
		observer: all,
		log:      log,
	}
}

// Listen binds the listening socket. A failure here is fatal for the process.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	addr := s.cfg.Server.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.log.Info("Listening on %s (pool size: %d, backlog: %d)", listener.Addr(), s.pool.Size(), s.cfg.Server.Backlog)
	return nil
}

// ListenAndServe binds and then serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop until ctx is done. On return the listener is
// closed and every handler goroutine has exited.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.running = true
	listener := s.listener
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := &handler{
		pool:        s.pool,
		actuator:    s.actuator,
		observer:    s.observer,
		idleTimeout: s.cfg.Server.IdleTimeout(),
	}
	if err := s.pool.Start(ctx, h.run); err != nil {
		listener.Close()
		s.mu.Lock()
		s.running = false
		s.listener = nil
		s.mu.Unlock()
		return err
	}

	stopListener := context.AfterFunc(ctx, func() { listener.Close() })
	defer stopListener()

	s.acceptLoop(ctx, listener)

	s.observer.ShuttingDown()
	cancel()
	listener.Close()
	s.pool.Wait()

	s.mu.Lock()
	s.running = false
	s.listener = nil
	s.mu.Unlock()

	s.log.Info("Dispatcher stopped")
	return nil
}

// acceptLoop accepts connections one at a time until the listener closes
func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = consts.AcceptBackoffInitial
	retry.MaxInterval = consts.AcceptBackoffMax
	retry.MaxElapsedTime = 0
	retry.Reset()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			delay := retry.NextBackOff()
			s.observer.AcceptFailed(err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		retry.Reset()

		s.dispatch(conn)
	}
}

// dispatch admits conn to an idle slot or rejects it. FindIdle and Assign
// run back to back on the accept goroutine, so no two connections can be
// routed to the same slot.
func (s *Server) dispatch(conn net.Conn) {
	remote := conn.RemoteAddr()
	s.observer.Accepted(remote)

	index, ok := s.pool.FindIdle()
	if !ok {
		if err := writeAdmission(conn, protocol.RejectFrame()); err != nil {
			s.log.Debug("Failed to send rejection to %s: %v", remote, err)
		}
		conn.Close()
		s.observer.Rejected(remote, ErrPoolExhausted)
		return
	}

	if err := writeAdmission(conn, protocol.AcceptFrame()); err != nil {
		conn.Close()
		s.observer.Rejected(remote, fmt.Errorf("send acceptance: %w", err))
		return
	}

	session := uuid.NewString()
	s.observer.Admitted(index, session, remote)
	if err := s.pool.Assign(index, conn, session); err != nil {
		conn.Close()
		s.log.Error("Failed to assign %s to slot %d: %v", remote, index, err)
	}
}

func writeAdmission(conn net.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(admissionWriteTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return err
	}
	return conn.SetWriteDeadline(time.Time{})
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Pool returns the worker pool
func (s *Server) Pool() *Pool {
	return s.pool
}

// Slots returns a snapshot of every worker slot
func (s *Server) Slots() []SlotInfo {
	return s.pool.Snapshot()
}

// Stats returns the event counters
func (s *Server) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// IsRunning returns whether the accept loop is active
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
