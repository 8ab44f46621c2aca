package signalserver

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/codefionn/signalqueue/internal/logger"
	"github.com/codefionn/signalqueue/internal/signal"
)

// Observer is notified at each dispatch and handler transition.
// Methods are called from the dispatcher and from handler goroutines
// concurrently and must not block.
type Observer interface {
	Accepted(remote net.Addr)
	AcceptFailed(err error, retryIn time.Duration)
	Admitted(slot int, session string, remote net.Addr)
	Rejected(remote net.Addr, reason error)
	HandshakeFailed(slot int, session string, err error)
	CommandApplied(slot int, session string, cmd signal.Command)
	Disconnected(slot int, session string, err error)
	ShuttingDown()
}

// NopObserver ignores every event. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) Accepted(net.Addr)                          {}
func (NopObserver) AcceptFailed(error, time.Duration)          {}
func (NopObserver) Admitted(int, string, net.Addr)             {}
func (NopObserver) Rejected(net.Addr, error)                   {}
func (NopObserver) HandshakeFailed(int, string, error)         {}
func (NopObserver) CommandApplied(int, string, signal.Command) {}
func (NopObserver) Disconnected(int, string, error)            {}
func (NopObserver) ShuttingDown()                              {}

// Observers fans every event out in order
type Observers []Observer

func (o Observers) Accepted(remote net.Addr) {
	for _, ob := range o {
		ob.Accepted(remote)
	}
}

func (o Observers) AcceptFailed(err error, retryIn time.Duration) {
	for _, ob := range o {
		ob.AcceptFailed(err, retryIn)
	}
}

func (o Observers) Admitted(slot int, session string, remote net.Addr) {
	for _, ob := range o {
		ob.Admitted(slot, session, remote)
	}
}

func (o Observers) Rejected(remote net.Addr, reason error) {
	for _, ob := range o {
		ob.Rejected(remote, reason)
	}
}

func (o Observers) HandshakeFailed(slot int, session string, err error) {
	for _, ob := range o {
		ob.HandshakeFailed(slot, session, err)
	}
}

func (o Observers) CommandApplied(slot int, session string, cmd signal.Command) {
	for _, ob := range o {
		ob.CommandApplied(slot, session, cmd)
	}
}

func (o Observers) Disconnected(slot int, session string, err error) {
	for _, ob := range o {
		ob.Disconnected(slot, session, err)
	}
}

func (o Observers) ShuttingDown() {
	for _, ob := range o {
		ob.ShuttingDown()
	}
}

// LogObserver writes events to a logger
type LogObserver struct {
	log *logger.Logger
}

// NewLogObserver logs to l, or to the global logger if l is nil
func NewLogObserver(l *logger.Logger) *LogObserver {
	if l == nil {
		l = logger.Global()
	}
	return &LogObserver{log: l}
}

func (o *LogObserver) Accepted(remote net.Addr) {
	o.log.Debug("Connection accepted from %s", remote)
}

func (o *LogObserver) AcceptFailed(err error, retryIn time.Duration) {
	o.log.Error("Error accepting connection: %v (retrying in %s)", err, retryIn)
}

func (o *LogObserver) Admitted(slot int, session string, remote net.Addr) {
	o.log.Info("Client %s admitted to slot %d (session %s)", remote, slot, session)
}

func (o *LogObserver) Rejected(remote net.Addr, reason error) {
	if errors.Is(reason, ErrPoolExhausted) {
		o.log.Warn("Pool exhausted, rejecting connection from %s", remote)
		return
	}
	o.log.Warn("Rejecting connection from %s: %v", remote, reason)
}

func (o *LogObserver) HandshakeFailed(slot int, session string, err error) {
	o.log.Info("Handshake failed on slot %d (session %s): %v", slot, session, err)
}

func (o *LogObserver) CommandApplied(slot int, session string, cmd signal.Command) {
	o.log.Debug("Slot %d applied 0x%02x (%s)", slot, byte(cmd), cmd)
}

func (o *LogObserver) Disconnected(slot int, session string, err error) {
	switch {
	case err == nil, errors.Is(err, ErrPeerDisconnected):
		o.log.Info("Client on slot %d disconnected (session %s)", slot, session)
	default:
		o.log.Info("Client on slot %d closed (session %s): %v", slot, session, err)
	}
}

func (o *LogObserver) ShuttingDown() {
	o.log.Info("Dispatcher shutting down")
}

// StatsSnapshot is a copy of the counters kept by Stats
type StatsSnapshot struct {
	Accepted        uint64 `json:"accepted"`
	AcceptFailures  uint64 `json:"accept_failures"`
	Admitted        uint64 `json:"admitted"`
	Rejected        uint64 `json:"rejected"`
	HandshakeFailed uint64 `json:"handshake_failed"`
	Commands        uint64 `json:"commands"`
	Disconnected    uint64 `json:"disconnected"`
}

// Stats counts events
type Stats struct {
	NopObserver

	accepted        atomic.Uint64
	acceptFailures  atomic.Uint64
	admitted        atomic.Uint64
	rejected        atomic.Uint64
	handshakeFailed atomic.Uint64
	commands        atomic.Uint64
	disconnected    atomic.Uint64
}

func (s *Stats) Accepted(net.Addr)                          { s.accepted.Add(1) }
func (s *Stats) AcceptFailed(error, time.Duration)          { s.acceptFailures.Add(1) }
func (s *Stats) Admitted(int, string, net.Addr)             { s.admitted.Add(1) }
func (s *Stats) Rejected(net.Addr, error)                   { s.rejected.Add(1) }
func (s *Stats) HandshakeFailed(int, string, error)         { s.handshakeFailed.Add(1) }
func (s *Stats) CommandApplied(int, string, signal.Command) { s.commands.Add(1) }
func (s *Stats) Disconnected(int, string, error)            { s.disconnected.Add(1) }

// Snapshot returns the current counter values
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:        s.accepted.Load(),
		AcceptFailures:  s.acceptFailures.Load(),
		Admitted:        s.admitted.Load(),
		Rejected:        s.rejected.Load(),
		HandshakeFailed: s.handshakeFailed.Load(),
		Commands:        s.commands.Load(),
		Disconnected:    s.disconnected.Load(),
	}
}
