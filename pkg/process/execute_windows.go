//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes starts the child in a new process group so that
// Ctrl+Break can be delivered to it without reaching the wrapper.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
