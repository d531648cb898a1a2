package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-service-wrapper/pkg/control"
	"github.com/core-tools/hsu-service-wrapper/pkg/descriptor"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	AttachPort int    `long:"port" description:"port of a running wrapper's control endpoint"`
	Validate   string `long:"validate" description:"parse a service descriptor and print it back instead of querying status"`
	Format     string `long:"format" default:"yaml" description:"output format for --validate: xml or yaml"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
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

	if opts.Validate != "" {
		os.Exit(validate(opts.Validate, descriptor.Format(opts.Format)))
	}

	logger := sprintfLogging.NewStdSprintfLogger()

	if opts.AttachPort == 0 {
		fmt.Println("Attach port or --validate is required")
		os.Exit(1)
	}

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
	wrapperLogger := logging.NewLogger(
		logPrefix("service-wrapper"), logging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	coreConnection, err := coreControl.NewConnection(coreControl.ConnectionOptions{AttachPort: opts.AttachPort}, coreLogger)
	if err != nil {
		logger.Errorf("Failed to create core connection: %v", err)
		os.Exit(1)
	}

	coreClientGateway := coreControl.NewGRPCClientGateway(coreConnection.GRPC(), coreLogger)
	wrapperClientGateway := control.NewGRPCClientGateway(coreConnection.GRPC(), wrapperLogger)

	ctx := context.Background()

	retryPingOptions := coreDomain.RetryPingOptions{
		RetryAttempts: 10,
		RetryInterval: 1 * time.Second,
	}
	err = coreDomain.RetryPing(ctx, coreClientGateway, retryPingOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to ping service wrapper: %v", err)
		os.Exit(1)
	}

	status, err := wrapperClientGateway.Status(ctx)
	if err != nil {
		logger.Errorf("Failed to get status: %v", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(out))
}

func validate(path string, format descriptor.Format) int {
	desc, err := descriptor.LoadFile(path)
	if err != nil {
		fmt.Printf("Invalid service descriptor: %v\n", err)
		return 1
	}
	data, err := descriptor.Serialize(desc, format)
	if err != nil {
		fmt.Printf("Failed to serialize service descriptor: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}
