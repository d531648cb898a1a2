package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
)

// ExecutionConfig describes how to start the wrapped executable.
type ExecutionConfig struct {
	ExecutablePath   string
	Args             []string
	Environment      []string // KEY=VALUE, appended to the wrapper's own environment
	WorkingDirectory string
	Output           io.Writer // nil forwards output lines to the logger
}

// Process is a started child. Its exit is observed exactly once by an
// internal goroutine; Done is closed afterwards.
type Process struct {
	id     string
	cmd    *exec.Cmd
	logger logging.Logger

	done    chan struct{}
	exitErr error
	output  *lineWriter
}

// Start launches the executable. ctx bounds only the launch itself; the child
// keeps running after ctx is cancelled.
func Start(ctx context.Context, execution ExecutionConfig, id string, logger logging.Logger) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("launch cancelled", err).WithContext("id", id)
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
	}

	if err := ensureExecutable(execution.ExecutablePath); err != nil {
		return nil, errors.NewPermissionError("failed to ensure process is executable", err).
			WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(execution.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to get absolute path", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}
		workDir = filepath.Dir(absPath)
	}

	logger.Debugf("Executing process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, execution.ExecutablePath, execution.Args, workDir)

	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)
	cmd.WaitDelay = outputWaitDelay
	setupProcessAttributes(cmd)

	p := &Process{
		id:     id,
		cmd:    cmd,
		logger: logger,
		done:   make(chan struct{}),
	}

	if execution.Output != nil {
		cmd.Stdout = execution.Output
		cmd.Stderr = execution.Output
	} else {
		p.output = newLineWriter(id, logger)
		cmd.Stdout = p.output
		cmd.Stderr = p.output
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start the process", err).
			WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	go p.wait()

	logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)
	return p, nil
}

// Pid returns the operating system id of the child.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited. Output still held open by
// escaped descendants is abandoned after outputWaitDelay.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the result of waiting on the child. Valid after Done.
func (p *Process) ExitErr() error {
	<-p.done
	return p.exitErr
}

// Terminate asks the child to stop, waits up to timeout, then kills its
// process group. A zero timeout skips the graceful request.
func (p *Process) Terminate(ctx context.Context, timeout time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	pid := p.Pid()
	if timeout > 0 {
		p.logger.Infof("Sending termination signal, id: %s, PID: %d, timeout: %v", p.id, pid, timeout)
		if err := SendTerminationSignal(pid, ScopeGroup); err != nil {
			p.logger.Warnf("Failed to send termination signal, id: %s, PID: %d, error: %v", p.id, pid, err)
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-p.done:
			p.logger.Infof("Process terminated gracefully, id: %s, PID: %d", p.id, pid)
			return nil
		case <-timer.C:
			p.logger.Warnf("Process did not terminate within %v, forcing termination, id: %s, PID: %d", timeout, p.id, pid)
		case <-ctx.Done():
			p.logger.Warnf("Context cancelled during graceful termination, forcing termination, id: %s, PID: %d", p.id, pid)
		}
	}

	if err := KillGroup(pid); err != nil {
		select {
		case <-p.done:
			return nil
		default:
		}
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", pid)
	}

	select {
	case <-p.done:
		p.logger.Infof("Process force terminated, id: %s, PID: %d", p.id, pid)
		return nil
	case <-time.After(forcedExitTimeout):
		return errors.NewTimeoutError("process did not terminate even after force termination", nil).WithContext("pid", pid)
	case <-ctx.Done():
		return errors.NewCancelledError("termination cancelled", ctx.Err()).WithContext("pid", pid)
	}
}

const (
	forcedExitTimeout = 5 * time.Second
	outputWaitDelay   = 2 * time.Second
)

func (p *Process) wait() {
	p.exitErr = p.cmd.Wait()
	if p.output != nil {
		p.output.Flush()
	}
	if p.exitErr == exec.ErrWaitDelay {
		p.logger.Warnf("Process output still open after exit, abandoning it, id: %s, PID: %d", p.id, p.cmd.Process.Pid)
		p.exitErr = nil
	}
	if p.exitErr != nil {
		p.logger.Warnf("Process exited, id: %s, PID: %d, error: %v", p.id, p.cmd.Process.Pid, p.exitErr)
	} else {
		p.logger.Infof("Process exited, id: %s, PID: %d", p.id, p.cmd.Process.Pid)
	}
	close(p.done)
}

// ensureExecutable checks if a file is executable and makes it executable if it's not
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}
	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewPermissionError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}
