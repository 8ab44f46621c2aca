//go:build !windows

package pidfile

import (
	"errors"
	"os"
	"syscall"
)

// isProcessRunning sends signal 0 to pid
func isProcessRunning(pid int) (bool, string) {
	if pid <= 0 {
		return false, "invalid PID"
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, "process not found"
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true, ""
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false, "process has finished"
	}
	// EPERM: the process exists but belongs to someone else
	if errors.Is(err, syscall.EPERM) {
		return true, ""
	}
	return false, "cannot signal process"
}
