package control

import (
	"context"

	"github.com/core-tools/hsu-service-wrapper/pkg/domain"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"

	"google.golang.org/grpc"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context) (*domain.StatusInfo, error) {
	response := new(domain.StatusInfo)
	err := gw.conn.Invoke(ctx, statusFullMethod, &StatusRequest{}, response, grpc.CallContentSubtype(CodecName))
	if err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return nil, err
	}
	gw.logger.Debugf("Status client gateway done")
	return response, nil
}
