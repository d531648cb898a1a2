//go:build !windows

package process

import (
	"errors"
	"syscall"

	domainErrors "github.com/core-tools/hsu-service-wrapper/pkg/errors"
)

// SendTerminationSignal sends SIGTERM to pid, or to its process group.
func SendTerminationSignal(pid int, scope Scope) error {
	return send(pid, scope, syscall.SIGTERM, "termination")
}

// KillGroup sends SIGKILL to the process group led by pid, or to pid alone
// when it leads no group.
func KillGroup(pid int) error {
	return send(pid, ScopeGroup, syscall.SIGKILL, "kill")
}

func send(pid int, scope Scope, sig syscall.Signal, what string) error {
	if pid <= 0 {
		return domainErrors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	target := pid
	if scope == ScopeGroup {
		target = -pid
	}
	err := syscall.Kill(target, sig)
	if err != nil && scope == ScopeGroup && errors.Is(err, syscall.ESRCH) {
		// pid does not lead a group
		err = syscall.Kill(pid, sig)
	}
	return classifySignalError(pid, what, err)
}

// Kill sends SIGKILL to pid.
func Kill(pid int) error {
	if pid <= 0 {
		return domainErrors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	return classifySignalError(pid, "kill", syscall.Kill(pid, syscall.SIGKILL))
}

func classifySignalError(pid int, what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.ESRCH):
		return domainErrors.NewNotFoundError("process already exited", err).WithContext("pid", pid)
	case errors.Is(err, syscall.EPERM):
		return domainErrors.NewPermissionError("not permitted to send "+what+" signal", err).WithContext("pid", pid)
	default:
		return domainErrors.NewProcessError("failed to send "+what+" signal", err).WithContext("pid", pid)
	}
}
