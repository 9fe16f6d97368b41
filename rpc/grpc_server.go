package rpc

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SwapServiceName is the name the swap engine reports its serving status under in the health service.
const SwapServiceName = "swapengine.Swap"

/*
NewGRPCServer returns gRPC server with the standard health checking service
registered. The returned health server is used to flip the serving status of
the engine (ie to NOT_SERVING when shutting down).
*/
func NewGRPCServer(obs Observability, opts ...Option) (*grpc.Server, *health.Server, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.maxRecvMsgSize < 1 {
		return nil, nil, fmt.Errorf("max receive message size must be positive, got %d", options.maxRecvMsgSize)
	}

	interceptor, err := instrumentGRPC(obs.Meter(MetricsScopeGRPCAPI))
	if err != nil {
		return nil, nil, err
	}

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(options.maxRecvMsgSize),
		grpc.KeepaliveParams(options.keepAlive),
		grpc.UnaryInterceptor(interceptor),
	)
	hs := health.NewServer()
	hs.SetServingStatus(SwapServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs, nil
}
