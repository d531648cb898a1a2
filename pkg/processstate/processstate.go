// Package processstate answers questions about operating system processes:
// whether a pid is alive and which process instance it currently names.
package processstate

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessNotFound is returned when no live process has the pid.
	ErrProcessNotFound = errors.New("process not found")

	// ErrUnsupported is returned on platforms without an inspection backend.
	ErrUnsupported = errors.New("process inspection is not supported on this platform")
)

// ProcessInfo is a point-in-time snapshot of a live process.
type ProcessInfo struct {
	PID        int
	PPID       int
	StartToken string // platform start time, see pkg/pidfile for the format contract
	Executable string
}

// Identity is the pair that names one process instance. A pid alone is not
// enough because the operating system recycles pids.
type Identity struct {
	PID        int
	StartToken string
}

func (i Identity) String() string {
	return fmt.Sprintf("pid %d (start %s)", i.PID, i.StartToken)
}

// Matches reports whether info describes the same process instance.
func (i Identity) Matches(info *ProcessInfo) bool {
	if info == nil || i.StartToken == "" {
		return false
	}
	return info.PID == i.PID && info.StartToken == i.StartToken
}

// Identity returns the identity of the inspected process instance.
func (p *ProcessInfo) Identity() Identity {
	return Identity{PID: p.PID, StartToken: p.StartToken}
}

// LookupEnv returns the value of name in an environment block.
func LookupEnv(environ []string, name string) (string, bool) {
	prefix := name + "="
	for _, kv := range environ {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

func validatePID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	return nil
}
