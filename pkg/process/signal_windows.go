//go:build windows

package process

import (
	"errors"
	"sync"

	"golang.org/x/sys/windows"

	domainErrors "github.com/core-tools/hsu-service-wrapper/pkg/errors"
)

// Windows console operation lock to prevent racing console events
var consoleOperationLock sync.Mutex

// SendTerminationSignal delivers Ctrl+Break to the process group led by pid.
// Windows has no per-process graceful signal, so both scopes behave the same;
// a process that does not lead a group reports an error and the caller
// escalates.
func SendTerminationSignal(pid int, scope Scope) error {
	if pid <= 0 {
		return domainErrors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	consoleOperationLock.Lock()
	defer consoleOperationLock.Unlock()

	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid)); err != nil {
		return classifySignalError(pid, "termination", err)
	}
	return nil
}

// Kill terminates pid with TerminateProcess.
func Kill(pid int) error {
	if pid <= 0 {
		return domainErrors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	handle, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return classifySignalError(pid, "kill", err)
	}
	defer windows.CloseHandle(handle)

	return classifySignalError(pid, "kill", windows.TerminateProcess(handle, 1))
}

// KillGroup terminates pid. Console process groups cannot be killed as a
// unit, so descendants are not reached.
func KillGroup(pid int) error {
	return Kill(pid)
}

func classifySignalError(pid int, what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
		return domainErrors.NewNotFoundError("process already exited", err).WithContext("pid", pid)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return domainErrors.NewPermissionError("not permitted to send "+what+" signal", err).WithContext("pid", pid)
	default:
		return domainErrors.NewProcessError("failed to send "+what+" signal", err).WithContext("pid", pid)
	}
}
