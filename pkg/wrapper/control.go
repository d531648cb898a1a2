package wrapper

import (
	"context"
	"time"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-service-wrapper/pkg/control"
	domainErrors "github.com/core-tools/hsu-service-wrapper/pkg/errors"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
)

type ControlOptions struct {
	Port                 int
	ForceShutdownTimeout time.Duration
}

// ControlServer exposes the core ping service and the wrapper status
// service on one gRPC port.
type ControlServer struct {
	options ControlOptions
	server  coreControl.Server
	logger  logging.Logger
}

func NewControlServer(w *Wrapper, options ControlOptions, coreLogger coreLogging.Logger, logger logging.Logger) (*ControlServer, error) {
	server, err := coreControl.NewServer(coreControl.ServerOptions{Port: options.Port}, coreLogger)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to create control server", err).WithContext("port", options.Port)
	}

	coreHandler := coreDomain.NewDefaultHandler(coreLogger)
	coreControl.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)

	control.RegisterGRPCServerHandler(server.GRPC(), NewWrapperHandler(w, logger), logger)

	return &ControlServer{options: options, server: server, logger: logger}, nil
}

func (s *ControlServer) Start(ctx context.Context) {
	s.logger.Infof("Starting control server, port: %d", s.options.Port)
	s.server.Start(ctx)
}

func (s *ControlServer) Shutdown(ctx context.Context) {
	timeout := s.options.ForceShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Infof("Stopping control server...")
	s.server.Shutdown(ctx)
	s.logger.Infof("Control server stopped")
}
