//go:build linux

package processstate

import (
	"errors"
	"io/fs"
	"strconv"

	"github.com/prometheus/procfs"
)

// Inspect reads /proc/<pid>/stat. The start token is the start time in clock
// ticks since boot (field 22), which is stable for the life of the process.
func Inspect(pid int) (*ProcessInfo, error) {
	proc, err := openProc(pid)
	if err != nil {
		return nil, err
	}

	stat, err := proc.Stat()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrProcessNotFound
		}
		return nil, err
	}
	if stat.State == "Z" || stat.State == "X" {
		return nil, ErrProcessNotFound
	}

	info := &ProcessInfo{
		PID:        pid,
		PPID:       stat.PPID,
		StartToken: strconv.FormatUint(stat.Starttime, 10),
	}
	if exe, err := proc.Executable(); err == nil {
		info.Executable = exe
	}
	return info, nil
}

// Environ returns the initial environment block of pid.
func Environ(pid int) ([]string, error) {
	proc, err := openProc(pid)
	if err != nil {
		return nil, err
	}
	env, err := proc.Environ()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrProcessNotFound
		}
		return nil, err
	}
	return env, nil
}

func openProc(pid int) (procfs.Proc, error) {
	if err := validatePID(pid); err != nil {
		return procfs.Proc{}, err
	}
	proc, err := procfs.NewProc(pid)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return procfs.Proc{}, ErrProcessNotFound
		}
		return procfs.Proc{}, err
	}
	return proc, nil
}
