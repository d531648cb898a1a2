package control

import (
	"context"

	"github.com/core-tools/hsu-service-wrapper/pkg/domain"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"

	"google.golang.org/grpc"
)

const (
	serviceName      = "wrapper.ServiceWrapper"
	statusFullMethod = "/" + serviceName + "/Status"
)

// StatusRequest is empty; it exists so the method has a message to decode.
type StatusRequest struct{}

type serviceWrapperServer interface {
	Status(ctx context.Context, request *StatusRequest) (*domain.StatusInfo, error)
}

var serviceWrapperDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*serviceWrapperServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Status",
			Handler:    statusHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wrapper.json",
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(serviceWrapperServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: statusFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(serviceWrapperServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&serviceWrapperDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Status(ctx context.Context, statusRequest *StatusRequest) (*domain.StatusInfo, error) {
	status, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, err
	}
	h.logger.Debugf("Status server handler done")
	return status, nil
}
