//go:build !windows

package processstate

import (
	"errors"
	"os"
	"syscall"
)

// IsProcessRunning probes pid with signal 0. EPERM means the process exists
// but belongs to someone else.
func IsProcessRunning(pid int) (bool, error) {
	if err := validatePID(pid); err != nil {
		return false, err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false, nil
	case errors.Is(err, syscall.EPERM):
		return true, nil
	default:
		return false, err
	}
}
