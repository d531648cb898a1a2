package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/core-tools/hsu-service-wrapper/pkg/download"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
	"github.com/core-tools/hsu-service-wrapper/pkg/metrics"
	"github.com/core-tools/hsu-service-wrapper/pkg/wrapper"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config              string `long:"config" short:"c" description:"path to the service descriptor (.xml, .yml, .yaml)" required:"true"`
	Port                int    `long:"port" description:"port of the gRPC control endpoint, 0 disables it"`
	MetricsPort         int    `long:"metrics-port" description:"port of the prometheus endpoint, 0 disables it"`
	LogLevel            string `long:"log-level" default:"info" description:"debug, info, warn or error"`
	LogFormat           string `long:"log-format" default:"console" description:"console or json"`
	RunDuration         int    `long:"run-duration" description:"Duration in seconds to run the wrapper (debug feature)"`
	DownloadConcurrency int    `long:"download-concurrency" default:"1" description:"parallel downloads, order of aborts is preserved"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
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

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = opts.LogLevel
	zapConfig.Format = opts.LogFormat
	backend, err := logging.NewZapLogger(zapConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer backend.Sync()

	backend.Infof("opts: %+v", opts)

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: backend.Debugf,
			Infof:  backend.Infof,
			Warnf:  backend.Warnf,
			Errorf: backend.Errorf,
		})
	wrapperLogger := logging.NewLogger(
		logPrefix("service-wrapper"), logging.LogFuncs{
			Debugf: backend.Debugf,
			Infof:  backend.Infof,
			Warnf:  backend.Warnf,
			Errorf: backend.Errorf,
		})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	wrapperMetrics, err := metrics.New(registry)
	if err != nil {
		wrapperLogger.Errorf("Failed to register metrics: %v", err)
		os.Exit(1)
	}

	if opts.MetricsPort > 0 {
		metricsServer := serveMetrics(opts.MetricsPort, registry, wrapperLogger)
		defer metricsServer.Shutdown(context.Background())
	}

	var controlServer *wrapper.ControlServer
	runOptions := wrapper.RunOptions{
		Options: wrapper.Options{
			Downloads: download.Options{Concurrency: opts.DownloadConcurrency},
			Metrics:   wrapperMetrics,
		},
		RunDuration: time.Duration(opts.RunDuration) * time.Second,
		OnCreated: func(w *wrapper.Wrapper) {
			if opts.Port == 0 {
				return
			}
			controlServer, err = wrapper.NewControlServer(w, wrapper.ControlOptions{Port: opts.Port}, coreLogger, wrapperLogger)
			if err != nil {
				wrapperLogger.Errorf("Failed to create control server, continuing without it: %v", err)
				controlServer = nil
				return
			}
			controlServer.Start(context.Background())
		},
	}

	err = wrapper.Run(context.Background(), opts.Config, runOptions, wrapperLogger)

	if controlServer != nil {
		controlServer.Shutdown(context.Background())
	}

	if err != nil {
		wrapperLogger.Errorf("Service wrapper failed: %v", err)
		var startupErr *wrapper.StartupError
		if errors.As(err, &startupErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func serveMetrics(port int, registry *prometheus.Registry, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("Serving metrics, port: %d", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	return server
}
