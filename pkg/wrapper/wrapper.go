// Package wrapper sequences the lifecycle of one wrapped executable:
// extensions, downloads, launch and stop.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/download"
	domainErrors "github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension/registry"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension/runaway"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
	"github.com/core-tools/hsu-service-wrapper/pkg/metrics"
	"github.com/core-tools/hsu-service-wrapper/pkg/process"
)

// Environment variables set on the wrapped process. The runaway process
// killer looks for EnvServiceID to recognise processes of a previous run.
const (
	EnvServiceID  = runaway.EnvServiceID
	EnvExecutable = "WINSW_EXECUTABLE"
)

// Phase is the externally visible lifecycle state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseStopped  Phase = "stopped"
	PhaseFailed   Phase = "failed"
)

// StartupPhase names the step of Start that produced a fatal error.
type StartupPhase string

const (
	StartupPhaseConfig        StartupPhase = "config"
	StartupPhaseExtensionLoad StartupPhase = "extension-load"
	StartupPhaseExtension     StartupPhase = "extension"
	StartupPhaseDownload      StartupPhase = "download"
	StartupPhaseLaunch        StartupPhase = "launch"
)

// StartupError reports why the wrapped executable was not started.
type StartupError struct {
	Phase StartupPhase
	Entry string // extension id or download source, when known
	Err   error
}

func (e *StartupError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("startup failed in %s phase, entry: %s: %v", e.Phase, e.Entry, e.Err)
	}
	return fmt.Sprintf("startup failed in %s phase: %v", e.Phase, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

type Options struct {
	Downloads    download.Options
	Metrics      *metrics.Metrics
	Constructors registry.Constructors // nil uses registry.Default()

	// Output receives the wrapped process output. When nil, output goes to
	// <logpath>/<id>.out.log if the descriptor has a log path, else to the
	// logger.
	Output io.Writer
}

// StartReport summarises a successful Start.
type StartReport struct {
	RunID     string
	PID       int
	Downloads *download.Result
	Disabled  []string
	Warnings  []error
}

type Wrapper struct {
	desc    *descriptor.ServiceDescriptor
	options Options
	logger  logging.Logger

	mutex      sync.Mutex
	phase      Phase
	runID      string
	startedAt  time.Time
	extensions *registry.Set
	process    *process.Process
	logFile    *os.File
	warnings   []error
	lastErr    error
}

func New(desc *descriptor.ServiceDescriptor, options Options, logger logging.Logger) (*Wrapper, error) {
	if desc == nil {
		return nil, domainErrors.NewValidationError("service descriptor cannot be nil", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if options.Constructors == nil {
		options.Constructors = registry.Default()
	}
	return &Wrapper{
		desc:    desc,
		options: options,
		logger:  logger,
		phase:   PhaseIdle,
	}, nil
}

func (w *Wrapper) Descriptor() *descriptor.ServiceDescriptor {
	return w.desc
}

// Start runs the start sequence: load extensions, pre-start hooks,
// downloads, launch, post-start hooks. On a fatal error nothing is left
// running and the returned error is a *StartupError.
func (w *Wrapper) Start(ctx context.Context) (*StartReport, error) {
	w.mutex.Lock()
	if w.phase != PhaseIdle {
		phase := w.phase
		w.mutex.Unlock()
		return nil, domainErrors.NewConflictError("wrapper was already started", nil).
			WithContext("service_id", w.desc.ID()).WithContext("phase", string(phase))
	}
	w.phase = PhaseStarting
	w.runID = uuid.NewString()
	w.mutex.Unlock()

	w.options.Metrics.ObserveLifecycle(string(PhaseStarting))
	w.logger.Infof("Starting service, id: %s, run id: %s", w.desc.ID(), w.runID)

	env := extension.Env{
		ServiceID:  w.desc.ID(),
		Executable: w.desc.Executable(),
		Logger:     w.logger,
		Metrics:    w.options.Metrics,
		Warn:       w.warn,
	}

	set, err := w.options.Constructors.LoadAll(w.desc.Extensions(), env)
	if err != nil {
		return nil, w.fail(StartupPhaseExtensionLoad, err)
	}
	w.mutex.Lock()
	w.extensions = set
	w.mutex.Unlock()

	report := &StartReport{RunID: w.runID}
	for _, decl := range set.Disabled() {
		report.Disabled = append(report.Disabled, decl.ID)
	}

	if err := set.PreStart(ctx); err != nil {
		w.teardown(set, nil)
		return nil, w.fail(StartupPhaseExtension, err)
	}

	executor := download.NewExecutor(w.options.Downloads, w.options.Metrics, w.logger)
	result, err := executor.ExecuteAll(ctx, w.desc.Downloads())
	if err != nil {
		w.teardown(set, nil)
		phase := StartupPhaseDownload
		if domainErrors.IsConfigurationError(err) {
			phase = StartupPhaseConfig
		}
		return nil, w.fail(phase, err)
	}
	report.Downloads = result
	for _, warning := range result.Warnings() {
		w.warn(warning)
	}

	proc, err := w.launch(ctx)
	if err != nil {
		w.teardown(set, nil)
		return nil, w.fail(StartupPhaseLaunch, err)
	}
	w.mutex.Lock()
	w.process = proc
	w.startedAt = time.Now()
	w.mutex.Unlock()

	w.options.Metrics.SetProcessRunning(true)
	go func() {
		<-proc.Done()
		w.options.Metrics.SetProcessRunning(false)
	}()

	if err := set.PostStart(ctx, extension.Started{PID: proc.Pid()}); err != nil {
		w.teardown(set, proc)
		return nil, w.fail(StartupPhaseExtension, err)
	}

	w.mutex.Lock()
	w.phase = PhaseRunning
	report.PID = proc.Pid()
	report.Warnings = append([]error(nil), w.warnings...)
	w.mutex.Unlock()

	w.options.Metrics.ObserveLifecycle(string(PhaseRunning))
	w.logger.Infof("Service started, id: %s, PID: %d, warnings: %d", w.desc.ID(), report.PID, len(report.Warnings))
	return report, nil
}

func (w *Wrapper) launch(ctx context.Context) (*process.Process, error) {
	environment := []string{
		EnvServiceID + "=" + w.desc.ID(),
		EnvExecutable + "=" + w.desc.Executable(),
	}
	for _, v := range w.desc.Environment() {
		environment = append(environment, v.Name+"="+v.Value)
	}

	output := w.options.Output
	if output == nil && w.desc.LogPath() != "" {
		file, err := openOutputLog(w.desc.LogPath(), w.desc.ID())
		if err != nil {
			return nil, err
		}
		w.mutex.Lock()
		w.logFile = file
		w.mutex.Unlock()
		output = file
	}

	workDir := w.desc.WorkingDirectory()
	if workDir != "" && !filepath.IsAbs(workDir) {
		workDir = filepath.Join(w.desc.BaseDir(), workDir)
	}

	execution := process.ExecutionConfig{
		ExecutablePath:   w.desc.Executable(),
		Args:             w.desc.Arguments(),
		Environment:      environment,
		WorkingDirectory: workDir,
		Output:           output,
	}
	return process.Start(ctx, execution, w.desc.ID(), w.logger)
}

func openOutputLog(logPath, id string) (*os.File, error) {
	if err := os.MkdirAll(logPath, 0755); err != nil {
		return nil, domainErrors.NewIOError("failed to create log directory", err).WithContext("log_path", logPath)
	}
	path := filepath.Join(logPath, id+".out.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, domainErrors.NewIOError("failed to open output log", err).WithContext("path", path)
	}
	return file, nil
}

// Stop runs the stop sequence: pre-stop hooks in reverse, termination of the
// wrapped process bounded by the descriptor stop timeout, post-stop hooks in
// reverse, disposal. Hook failures are logged and kept as warnings; only a
// failure to stop the process is returned.
func (w *Wrapper) Stop(ctx context.Context) error {
	w.mutex.Lock()
	switch w.phase {
	case PhaseStopped, PhaseFailed, PhaseIdle:
		w.mutex.Unlock()
		return nil
	case PhaseRunning:
	default:
		phase := w.phase
		w.mutex.Unlock()
		return domainErrors.NewConflictError("wrapper cannot be stopped now", nil).
			WithContext("service_id", w.desc.ID()).WithContext("phase", string(phase))
	}
	w.phase = PhaseStopping
	set := w.extensions
	proc := w.process
	w.mutex.Unlock()

	w.options.Metrics.ObserveLifecycle(string(PhaseStopping))
	w.logger.Infof("Stopping service, id: %s, stop timeout: %v", w.desc.ID(), w.desc.StopTimeout())

	if err := set.PreStop(ctx); err != nil {
		w.warn(err)
	}

	var stopErr error
	if err := proc.Terminate(ctx, w.desc.StopTimeout()); err != nil {
		w.logger.Errorf("Failed to stop process, id: %s, PID: %d, error: %v", w.desc.ID(), proc.Pid(), err)
		stopErr = err
	}

	if err := set.PostStop(ctx); err != nil {
		w.warn(err)
	}
	if err := set.Close(); err != nil {
		w.warn(err)
	}
	w.closeLog()

	w.mutex.Lock()
	w.phase = PhaseStopped
	w.lastErr = stopErr
	w.mutex.Unlock()

	w.options.Metrics.ObserveLifecycle(string(PhaseStopped))
	w.logger.Infof("Service stopped, id: %s", w.desc.ID())
	return stopErr
}

// Done is closed when the wrapped process exits. It is nil before launch.
func (w *Wrapper) Done() <-chan struct{} {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.process == nil {
		return nil
	}
	return w.process.Done()
}

// Wait blocks until the wrapped process exits and returns its exit error.
func (w *Wrapper) Wait() error {
	w.mutex.Lock()
	proc := w.process
	w.mutex.Unlock()
	if proc == nil {
		return domainErrors.NewValidationError("wrapped process was not launched", nil).WithContext("service_id", w.desc.ID())
	}
	return proc.ExitErr()
}

// teardown undoes a partial start. proc is nil when the launch has not
// happened yet.
func (w *Wrapper) teardown(set *registry.Set, proc *process.Process) {
	ctx := context.Background()
	if err := set.PreStop(ctx); err != nil {
		w.warn(err)
	}
	if proc != nil {
		if err := proc.Terminate(ctx, w.desc.StopTimeout()); err != nil {
			w.logger.Errorf("Failed to stop process after failed start, id: %s, error: %v", w.desc.ID(), err)
		}
		if err := set.PostStop(ctx); err != nil {
			w.warn(err)
		}
	}
	if err := set.Close(); err != nil {
		w.warn(err)
	}
	w.closeLog()
}

func (w *Wrapper) fail(phase StartupPhase, err error) error {
	startupErr := &StartupError{Phase: phase, Entry: entryOf(err), Err: err}

	w.mutex.Lock()
	w.phase = PhaseFailed
	w.lastErr = startupErr
	w.mutex.Unlock()

	w.options.Metrics.ObserveLifecycle(string(PhaseFailed))
	w.logger.Errorf("Service start failed, id: %s, phase: %s, entry: %s, error: %v", w.desc.ID(), phase, startupErr.Entry, err)
	return startupErr
}

func (w *Wrapper) warn(err error) {
	if err == nil {
		return
	}
	w.logger.Warnf("Service warning, id: %s, warning: %v", w.desc.ID(), err)
	w.mutex.Lock()
	w.warnings = append(w.warnings, err)
	w.mutex.Unlock()
}

func (w *Wrapper) closeLog() {
	w.mutex.Lock()
	file := w.logFile
	w.logFile = nil
	w.mutex.Unlock()
	if file != nil {
		if err := file.Close(); err != nil {
			w.logger.Warnf("Failed to close output log, id: %s, error: %v", w.desc.ID(), err)
		}
	}
}

func entryOf(err error) string {
	var hookErr *extension.HookError
	if errors.As(err, &hookErr) {
		return hookErr.ExtensionID
	}
	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		for _, key := range []string{"extension", "from", "executable_path"} {
			if v, ok := domainErr.Context[key]; ok {
				return fmt.Sprint(v)
			}
		}
	}
	return ""
}
