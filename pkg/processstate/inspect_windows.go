//go:build windows

package processstate

import (
	"errors"
	"strconv"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Inspect reads the creation time of pid and walks a toolhelp snapshot for
// its parent. The start token is the creation FILETIME in 100ns ticks.
func Inspect(pid int) (*ProcessInfo, error) {
	if err := validatePID(pid); err != nil {
		return nil, err
	}

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return nil, ErrProcessNotFound
		}
		return nil, err
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return nil, err
	}
	if exitCode != stillActive {
		return nil, ErrProcessNotFound
	}

	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(handle, &creation, &exit, &kernel, &user); err != nil {
		return nil, err
	}
	ticks := uint64(creation.HighDateTime)<<32 | uint64(creation.LowDateTime)

	info := &ProcessInfo{
		PID:        pid,
		StartToken: strconv.FormatUint(ticks, 10),
	}

	ppid, exe, err := snapshotEntry(uint32(pid))
	if err == nil {
		info.PPID = ppid
		info.Executable = exe
	}
	return info, nil
}

// Environ is not available without reading the target's PEB.
func Environ(pid int) ([]string, error) {
	return nil, ErrUnsupported
}

func snapshotEntry(pid uint32) (int, string, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, "", err
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return 0, "", err
	}
	for {
		if entry.ProcessID == pid {
			return int(entry.ParentProcessID), windows.UTF16ToString(entry.ExeFile[:]), nil
		}
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			return 0, "", ErrProcessNotFound
		}
	}
}
