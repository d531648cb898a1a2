//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the child in its own process group so the
// whole tree can be signalled through -pid.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
