package wrapper

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	domainErrors "github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
)

// RunOptions configures the foreground runner.
type RunOptions struct {
	Options

	// RunDuration stops the service after the given time. Zero runs until a
	// signal arrives or the wrapped process exits.
	RunDuration time.Duration

	// OnCreated is called before the service starts, e.g. to publish the
	// wrapper on a control endpoint.
	OnCreated func(w *Wrapper)
}

// Run loads the descriptor, starts the service and keeps it running until
// ctx ends, a termination signal arrives, the run duration elapses or the
// wrapped process exits. The service is always stopped before Run returns.
func Run(ctx context.Context, configFile string, options RunOptions, logger logging.Logger) error {
	logger.Infof("Service wrapper runner starting...")
	logger.Infof("Using CONFIGURATION FILE: %s", configFile)

	desc, err := descriptor.LoadFile(configFile)
	if err != nil {
		return &StartupError{Phase: StartupPhaseConfig, Err: err}
	}
	logger.Infof("Configuration loaded successfully, id: %s, downloads: %d, extensions: %d",
		desc.ID(), len(desc.Downloads()), len(desc.Extensions()))

	w, err := New(desc, options.Options, logger)
	if err != nil {
		return domainErrors.NewInternalError("failed to create wrapper", err)
	}

	// A signal during startup cancels the context Start runs under.
	signalCtx, stopSignals := signal.NotifyContext(ctx, terminationSignals()...)
	defer stopSignals()

	if options.OnCreated != nil {
		options.OnCreated(w)
	}
	if _, err := w.Start(signalCtx); err != nil {
		if signalCtx.Err() != nil && ctx.Err() == nil {
			logger.Warnf("Service wrapper runner received signal during startup")
		}
		return err
	}

	runCtx := signalCtx
	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", options.RunDuration)
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(signalCtx, options.RunDuration)
		defer cancel()
	}

	logger.Infof("Service is running, waiting for signal or process exit...")

	select {
	case <-runCtx.Done():
		switch {
		case ctx.Err() != nil:
			logger.Infof("Service wrapper runner context done: %v", ctx.Err())
		case signalCtx.Err() != nil:
			logger.Infof("Service wrapper runner received signal")
		default:
			logger.Infof("Service wrapper runner run duration elapsed")
		}
	case <-w.Done():
		logger.Warnf("Wrapped process exited on its own, exit error: %v", w.Wait())
	}

	// Reset context to background to enable graceful shutdown
	if err := w.Stop(context.Background()); err != nil {
		return err
	}

	logger.Infof("Service wrapper runner stopped")
	return nil
}

func terminationSignals() []os.Signal {
	if runtime.GOOS == "windows" {
		return []os.Signal{os.Interrupt}
	}
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
