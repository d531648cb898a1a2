package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// echotest is a well-behaved or stubborn target for the service wrapper.
// It reports the marker environment it was started with and then waits for
// a termination signal.
type flagOptions struct {
	RunDuration  int  `long:"run-duration" description:"Duration in seconds to run before exiting on its own"`
	IgnoreSignal bool `long:"ignore-signal" description:"Ignore graceful termination requests so the wrapper has to kill"`
	SpawnChild   bool `long:"spawn-child" description:"Start a second echotest instance that inherits the environment"`
	ExitCode     int  `long:"exit-code" description:"Exit code to return when stopping"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running Echotest, pid: %d, opts: %+v\n", os.Getpid(), opts)
	fmt.Printf("WINSW_SERVICE_ID=%s\n", os.Getenv("WINSW_SERVICE_ID"))
	fmt.Printf("WINSW_EXECUTABLE=%s\n", os.Getenv("WINSW_EXECUTABLE"))

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	if opts.SpawnChild {
		if err := spawnChild(); err != nil {
			fmt.Printf("Failed to spawn child: %v\n", err)
		}
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	for {
		select {
		case receivedSignal := <-sig:
			fmt.Printf("Echotest received signal: %v\n", receivedSignal)
			if opts.IgnoreSignal {
				fmt.Printf("Echotest ignoring signal\n")
				continue
			}
		case <-ctx.Done():
			fmt.Printf("Echotest run duration elapsed\n")
		}
		break
	}

	fmt.Printf("Echotest stopped\n")
	os.Exit(opts.ExitCode)
}

func spawnChild() error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	child, err := os.StartProcess(executable, []string{executable}, &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{nil, os.Stdout, os.Stderr},
	})
	if err != nil {
		return err
	}
	fmt.Printf("Spawned child, pid: %d\n", child.Pid)
	return child.Release()
}
