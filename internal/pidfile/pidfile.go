// Package pidfile keeps a single dispatcher instance per PID file
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrRunning is returned by Acquire when a live process owns the PID file
var ErrRunning = errors.New("dispatcher is already running")

// Pidfile represents a PID file
type Pidfile struct {
	path string
	held bool
}

// New creates a new PID file instance
func New(path string) *Pidfile {
	return &Pidfile{
		path: path,
	}
}

// Acquire creates the PID file with the current PID. A file left behind by a
// process that no longer runs is replaced.
func (p *Pidfile) Acquire() error {
	if p.held {
		return nil
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create pidfile directory: %w", err)
	}

	err := p.create()
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("failed to create pidfile: %w", err)
	}

	pid, readErr := p.Read()
	if readErr == nil {
		if running, _ := isProcessRunning(pid); running {
			return fmt.Errorf("%w: PID %d (%s)", ErrRunning, pid, p.path)
		}
	}

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale pidfile: %w", err)
	}
	if err := p.create(); err != nil {
		return fmt.Errorf("failed to create pidfile after removing stale one: %w", err)
	}
	return nil
}

func (p *Pidfile) create() error {
	file, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		os.Remove(p.path)
		return err
	}
	p.held = true
	return nil
}

// Read reads the PID from the PID file
func (p *Pidfile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in pidfile: %w", err)
	}

	return pid, nil
}

// Release removes the PID file if this instance created it
func (p *Pidfile) Release() error {
	if !p.held {
		return nil
	}
	p.held = false
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

// Held reports whether this instance owns the PID file
func (p *Pidfile) Held() bool {
	return p.held
}

// Path returns the PID file path
func (p *Pidfile) Path() string {
	return p.path
}
