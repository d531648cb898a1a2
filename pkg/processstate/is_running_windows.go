//go:build windows

package processstate

import (
	"errors"

	"golang.org/x/sys/windows"
)

const stillActive = 259

// IsProcessRunning opens pid with query rights and checks its exit code.
func IsProcessRunning(pid int) (bool, error) {
	if err := validatePID(pid); err != nil {
		return false, err
	}

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return false, nil
		}
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return true, nil
		}
		return false, err
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, err
	}
	return exitCode == stillActive, nil
}
