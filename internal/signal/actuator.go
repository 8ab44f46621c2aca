package signal

import (
	"sync"

	"github.com/codefionn/signalqueue/internal/logger"
)

// Actuator turns a command into physical or simulated output.
// ApplySignal is called from handler goroutines and must be safe for
// concurrent use.
type Actuator interface {
	ApplySignal(cmd Command)
}

// ActuatorFunc adapts a function to the Actuator interface
type ActuatorFunc func(cmd Command)

// ApplySignal calls f(cmd)
func (f ActuatorFunc) ApplySignal(cmd Command) {
	f(cmd)
}

// Nop discards every command
type Nop struct{}

// ApplySignal does nothing
func (Nop) ApplySignal(Command) {}

// Multi fans a command out to several actuators in order
type Multi []Actuator

// ApplySignal forwards cmd to every actuator
func (m Multi) ApplySignal(cmd Command) {
	for _, a := range m {
		if a != nil {
			a.ApplySignal(cmd)
		}
	}
}

// LogActuator records each command in the log
type LogActuator struct {
	log *logger.Logger
}

// NewLogActuator creates an actuator that logs to l, or the global logger if l is nil
func NewLogActuator(l *logger.Logger) *LogActuator {
	if l == nil {
		l = logger.Global()
	}
	return &LogActuator{log: l.WithPrefix("actuator")}
}

// ApplySignal logs the decoded command
func (a *LogActuator) ApplySignal(cmd Command) {
	a.log.Info("signal 0x%02x: %s", byte(cmd), cmd)
}

// Recorder keeps every command it receives
type Recorder struct {
	mu       sync.Mutex
	commands []Command
}

// ApplySignal appends cmd
func (r *Recorder) ApplySignal(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

// Commands returns a copy of the recorded commands
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Len returns the number of recorded commands
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}
