// Package runaway implements the RunawayProcessKiller extension. Before the
// wrapped executable starts it looks for an instance left over from a prior
// run, proves the instance belongs to this service, and stops it with a
// graceful request that escalates to a forceful kill.
package runaway

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/extension"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
	"github.com/core-tools/hsu-service-wrapper/pkg/metrics"
	"github.com/core-tools/hsu-service-wrapper/pkg/pidfile"
	"github.com/core-tools/hsu-service-wrapper/pkg/processstate"
	"github.com/core-tools/hsu-service-wrapper/pkg/retry"
)

// EnvServiceID is the marker variable the wrapper sets on its wrapped
// process; its value is the service id.
const EnvServiceID = "WINSW_SERVICE_ID"

// Outcome of one pre-start check, exported as a metric label.
type Outcome string

const (
	OutcomeAbsent     Outcome = "absent"
	OutcomeUnreadable Outcome = "unreadable"
	OutcomeNotRunning Outcome = "not_running"
	OutcomeUnverified Outcome = "unverified"
	OutcomeForeign    Outcome = "foreign"
	OutcomeTerminated Outcome = "terminated"
	OutcomeKilled     Outcome = "killed"
	OutcomeFailed     Outcome = "failed"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultKillWait     = 2 * time.Second
)

// Option customizes a Killer.
type Option func(*Killer)

// WithProcessTable replaces the operating system process table.
func WithProcessTable(table ProcessTable) Option {
	return func(k *Killer) { k.table = table }
}

// WithSelfPID overrides the pid the killer treats as the running wrapper.
func WithSelfPID(pid int) Option {
	return func(k *Killer) { k.selfPID = pid }
}

// WithPollInterval sets how often liveness is checked while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(k *Killer) { k.pollInterval = d }
}

// WithRetry sets the pidfile read retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(k *Killer) { k.retry = cfg }
}

// Killer is the RunawayProcessKiller extension.
type Killer struct {
	extension.Base

	config    descriptor.RunawayProcessKillerConfig
	serviceID string
	logger    logging.Logger
	metrics   *metrics.Metrics
	warn      func(error)

	table        ProcessTable
	selfPID      int
	pollInterval time.Duration
	killWait     time.Duration
	retry        retry.Config

	lastOutcome Outcome
}

// New creates a killer for one declaration.
func New(id string, config descriptor.RunawayProcessKillerConfig, env extension.Env, opts ...Option) *Killer {
	env = env.WithDefaults()
	k := &Killer{
		Base:         extension.NewBase(id, descriptor.KindRunawayProcessKiller),
		config:       config,
		serviceID:    env.ServiceID,
		logger:       logging.WithPrefix(env.Logger, fmt.Sprintf("extension: %s , ", id)),
		metrics:      env.Metrics,
		warn:         env.Warn,
		table:        SystemTable(),
		selfPID:      os.Getpid(),
		pollInterval: defaultPollInterval,
		killWait:     defaultKillWait,
		retry:        retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// LastOutcome reports the result of the most recent PreStart.
func (k *Killer) LastOutcome() Outcome {
	return k.lastOutcome
}

// target is one process the killer has decided to stop.
type target struct {
	role     string
	identity processstate.Identity
}

// PreStart runs the cleanup state machine. Only cancellation of ctx is
// returned as an error; every other problem is a warning so the service can
// still start.
func (k *Killer) PreStart(ctx context.Context) error {
	outcome, err := k.run(ctx)
	k.lastOutcome = outcome
	k.metrics.ObserveRunawayCheck(string(outcome))
	return err
}

func (k *Killer) run(ctx context.Context) (Outcome, error) {
	// Idle
	stored, outcome, err := k.readPidfile(ctx)
	if err != nil || outcome != "" {
		return outcome, err
	}

	// Identify
	info, outcome := k.identify(stored)
	if outcome != "" {
		k.removePidfile()
		return outcome, nil
	}

	// GracefulStop
	targets, outcome := k.selectTargets(stored, info)
	if outcome != "" {
		k.removePidfile()
		return outcome, nil
	}

	outcome, err = k.stop(ctx, targets)
	if err != nil {
		return OutcomeFailed, err
	}

	// Done
	k.removePidfile()
	return outcome, nil
}

func (k *Killer) readPidfile(ctx context.Context) (processstate.Identity, Outcome, error) {
	path := k.config.Pidfile
	k.logger.Debugf("Reading pidfile, path: %s", path)

	stored, err := retry.DoWithResult(ctx, k.retry, func() (processstate.Identity, error) {
		id, err := pidfile.Read(path)
		if err != nil && (errors.IsNotFoundError(err) || errors.IsValidationError(err)) {
			return id, retry.Permanent(err)
		}
		return id, err
	})

	switch {
	case err == nil:
		return stored, "", nil
	case ctx.Err() != nil:
		return processstate.Identity{}, OutcomeFailed, errors.NewCancelledError("runaway process check cancelled", ctx.Err())
	case errors.IsNotFoundError(err):
		k.logger.Infof("No pidfile, nothing to clean up, path: %s", path)
		return processstate.Identity{}, OutcomeAbsent, nil
	case errors.IsValidationError(err):
		k.warnf(err, "Ignoring malformed pidfile, path: %s", path)
		k.removePidfile()
		return processstate.Identity{}, OutcomeUnreadable, nil
	default:
		k.warnf(err, "Failed to read pidfile, treating it as absent, path: %s", path)
		return processstate.Identity{}, OutcomeUnreadable, nil
	}
}

func (k *Killer) identify(stored processstate.Identity) (*processstate.ProcessInfo, Outcome) {
	if stored.PID == k.selfPID {
		k.logger.Infof("Pidfile names the running wrapper, ignoring, pid: %d", stored.PID)
		return nil, OutcomeNotRunning
	}

	info, err := k.table.Inspect(stored.PID)
	if err != nil {
		if stderrors.Is(err, processstate.ErrProcessNotFound) {
			k.logger.Infof("Process from pidfile is not running, %s", stored)
			return nil, OutcomeNotRunning
		}
		k.warnf(err, "Cannot inspect process from pidfile, not terminating, %s", stored)
		return nil, OutcomeUnverified
	}

	if stored.StartToken == "" {
		k.warnf(nil, "Pidfile has no start token, cannot verify identity, not terminating, pid: %d", stored.PID)
		return nil, OutcomeUnverified
	}
	if !stored.Matches(info) {
		k.logger.Infof("Pid was reused by an unrelated process, not terminating, %s, live start: %s", stored, info.StartToken)
		return nil, OutcomeNotRunning
	}
	return info, ""
}

func (k *Killer) selectTargets(stored processstate.Identity, info *processstate.ProcessInfo) ([]target, Outcome) {
	if k.config.CheckEnvironmentVariable {
		ok, err := k.hasMarker(stored.PID)
		if err != nil {
			k.warnf(err, "Cannot read environment of process, not terminating, %s", stored)
			return nil, OutcomeUnverified
		}
		if !ok {
			k.logger.Warnf("Process does not carry %s=%s, not terminating, %s", EnvServiceID, k.serviceID, stored)
			return nil, OutcomeForeign
		}
	}

	child := target{role: "process", identity: stored}
	if !k.config.StopParentFirst {
		return []target{child}, ""
	}

	parent, ok := k.parentTarget(info.PPID)
	if !ok {
		return []target{child}, ""
	}
	return []target{parent, child}, ""
}

func (k *Killer) parentTarget(ppid int) (target, bool) {
	if ppid <= 1 || ppid == k.selfPID {
		k.logger.Debugf("Parent is not eligible for termination, ppid: %d", ppid)
		return target{}, false
	}

	info, err := k.table.Inspect(ppid)
	if err != nil {
		k.logger.Debugf("Parent is gone, ppid: %d, error: %v", ppid, err)
		return target{}, false
	}

	if k.config.CheckEnvironmentVariable {
		ok, err := k.hasMarker(ppid)
		if err != nil || !ok {
			k.logger.Warnf("Parent does not carry %s=%s, leaving it alone, ppid: %d", EnvServiceID, k.serviceID, ppid)
			return target{}, false
		}
	}
	return target{role: "parent", identity: info.Identity()}, true
}

func (k *Killer) hasMarker(pid int) (bool, error) {
	environ, err := k.table.Environ(pid)
	if err != nil {
		return false, err
	}
	value, ok := processstate.LookupEnv(environ, EnvServiceID)
	return ok && value == k.serviceID, nil
}

// stop signals targets in order, waits, then escalates. A zero stop timeout
// goes straight to the forceful step.
func (k *Killer) stop(ctx context.Context, targets []target) (Outcome, error) {
	if k.config.StopTimeout > 0 {
		for _, t := range targets {
			k.logger.Infof("Requesting graceful termination of %s, %s", t.role, t.identity)
			if err := k.table.Terminate(t.identity.PID); err != nil {
				if k.signalFailed(t, err) {
					return OutcomeFailed, nil
				}
			}
		}

		remaining, err := k.waitForExit(ctx, targets, k.config.StopTimeout)
		if err != nil {
			return OutcomeFailed, err
		}
		if len(remaining) == 0 {
			k.logger.Infof("Runaway process terminated gracefully")
			return OutcomeTerminated, nil
		}
		k.logger.Warnf("Runaway process did not stop within %v, escalating", k.config.StopTimeout)
		targets = remaining
	}

	for _, t := range targets {
		if !k.alive(t) {
			continue
		}
		k.logger.Warnf("Forcefully terminating %s, %s", t.role, t.identity)
		if err := k.table.Kill(t.identity.PID); err != nil {
			if k.signalFailed(t, err) {
				return OutcomeFailed, nil
			}
		}
	}

	remaining, err := k.waitForExit(ctx, targets, k.killWait)
	if err != nil {
		return OutcomeFailed, err
	}
	if len(remaining) > 0 {
		k.warnf(nil, "Runaway process survived forceful termination, %s", remaining[len(remaining)-1].identity)
		return OutcomeFailed, nil
	}
	return OutcomeKilled, nil
}

// signalFailed reports whether the failure ends the attempt. A process that
// is already gone is not a failure.
func (k *Killer) signalFailed(t target, err error) bool {
	if errors.IsNotFoundError(err) {
		return false
	}
	if errors.IsPermissionError(err) {
		k.warn(errors.NewExtensionRuntimeError("permission denied terminating runaway "+t.role, err).
			WithContext("extension", k.ID()).WithContext("pid", t.identity.PID))
		k.logger.Warnf("Permission denied terminating %s, %s, error: %v", t.role, t.identity, err)
		return true
	}
	k.logger.Warnf("Failed to signal %s, %s, error: %v", t.role, t.identity, err)
	return false
}

// waitForExit polls until every target is gone, the timeout elapses or ctx
// is done. It returns the targets still alive.
func (k *Killer) waitForExit(ctx context.Context, targets []target, timeout time.Duration) ([]target, error) {
	remaining := k.filterAlive(targets)
	if len(remaining) == 0 {
		return nil, nil
	}

	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return remaining, errors.NewCancelledError("wait for runaway process cancelled", ctx.Err()).
				WithContext("extension", k.ID())
		case <-timer.C:
			return k.filterAlive(remaining), nil
		case <-ticker.C:
			remaining = k.filterAlive(remaining)
			if len(remaining) == 0 {
				return nil, nil
			}
		}
	}
}

func (k *Killer) filterAlive(targets []target) []target {
	var alive []target
	for _, t := range targets {
		if k.alive(t) {
			alive = append(alive, t)
		}
	}
	return alive
}

func (k *Killer) alive(t target) bool {
	info, err := k.table.Inspect(t.identity.PID)
	if err != nil {
		return !stderrors.Is(err, processstate.ErrProcessNotFound)
	}
	return t.identity.Matches(info)
}

// PostStart records the identity of the freshly started process.
func (k *Killer) PostStart(ctx context.Context, started extension.Started) error {
	identity := processstate.Identity{PID: started.PID}
	if info, err := k.table.Inspect(started.PID); err == nil {
		identity = info.Identity()
	} else {
		k.warnf(err, "Cannot read start token of wrapped process, pidfile will not be verifiable, pid: %d", started.PID)
	}

	if err := pidfile.Write(k.config.Pidfile, identity); err != nil {
		k.warnf(err, "Failed to write pidfile, path: %s", k.config.Pidfile)
		return nil
	}
	k.logger.Infof("Pidfile written, path: %s, %s", k.config.Pidfile, identity)
	return nil
}

// PostStop removes the pidfile once the wrapped process is known to be gone.
func (k *Killer) PostStop(ctx context.Context) error {
	return pidfile.Remove(k.config.Pidfile)
}

func (k *Killer) removePidfile() {
	if err := pidfile.Remove(k.config.Pidfile); err != nil {
		k.logger.Warnf("Failed to remove stale pidfile, path: %s, error: %v", k.config.Pidfile, err)
	}
}

func (k *Killer) warnf(cause error, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	if cause != nil {
		k.logger.Warnf("%s, error: %v", message, cause)
	} else {
		k.logger.Warnf("%s", message)
	}
	k.warn(errors.NewExtensionRuntimeError(message, cause).WithContext("extension", k.ID()))
}
