package runaway

import (
	"bufio"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-service-wrapper/pkg/process"
	"github.com/core-tools/hsu-service-wrapper/pkg/processstate"
)

// startFamily starts a shell leading its own process group with one
// background child in the same group. The shell exits on SIGTERM.
func startFamily(t *testing.T) (parent *exec.Cmd, childPID int) {
	t.Helper()

	cmd := exec.Command("/bin/sh", "-c", "trap 'exit 0' TERM; sleep 30 & echo $!; wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	childPID, err = strconv.Atoi(strings.TrimSpace(line))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = process.Kill(childPID)
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		_ = cmd.Wait()
	})
	return cmd, childPID
}

func TestSystemTable_TerminateSignalsOnlyTheTarget(t *testing.T) {
	parent, childPID := startFamily(t)
	table := SystemTable()

	child, err := table.Inspect(childPID)
	require.NoError(t, err)
	assert.Equal(t, parent.Process.Pid, child.PPID)

	require.NoError(t, table.Terminate(parent.Process.Pid))

	exited := make(chan error, 1)
	go func() { exited <- parent.Wait() }()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("parent did not exit on termination request")
	}

	// A group-wide signal would reach the child in the same instant.
	time.Sleep(200 * time.Millisecond)
	info, err := table.Inspect(childPID)
	require.NoError(t, err, "child in the parent's group must survive")
	assert.Equal(t, child.Identity(), info.Identity())

	require.NoError(t, table.Kill(childPID))
	assert.Eventually(t, func() bool {
		_, err := table.Inspect(childPID)
		return errors.Is(err, processstate.ErrProcessNotFound)
	}, 5*time.Second, 50*time.Millisecond)
}
