package runaway

import (
	"github.com/core-tools/hsu-service-wrapper/pkg/process"
	"github.com/core-tools/hsu-service-wrapper/pkg/processstate"
)

// ProcessTable is the view of the operating system the killer acts on.
type ProcessTable interface {
	// Inspect returns processstate.ErrProcessNotFound for a dead pid.
	Inspect(pid int) (*processstate.ProcessInfo, error)
	Environ(pid int) ([]string, error)
	// Terminate requests a cooperative shutdown of pid alone. Other members
	// of its process group are left untouched.
	Terminate(pid int) error
	// Kill ends the process forcefully.
	Kill(pid int) error
}

type systemTable struct{}

// SystemTable returns the table backed by the running operating system.
func SystemTable() ProcessTable {
	return systemTable{}
}

func (systemTable) Inspect(pid int) (*processstate.ProcessInfo, error) {
	return processstate.Inspect(pid)
}

func (systemTable) Environ(pid int) ([]string, error) {
	return processstate.Environ(pid)
}

func (systemTable) Terminate(pid int) error {
	return process.SendTerminationSignal(pid, process.ScopeProcess)
}

func (systemTable) Kill(pid int) error {
	return process.Kill(pid)
}
