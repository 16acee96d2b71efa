package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer returns a gRPC server instrumented with otelgrpc that serves the standard
// grpc.health.v1.Health service from healthSrv.
func NewGRPCServer(healthSrv *grpchealth.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, healthSrv)
	return s
}

// RegisterServices registers the gRPC services with s. A nil healthSrv registers a server
// that reports SERVING.
func RegisterServices(s grpc.ServiceRegistrar, healthSrv *grpchealth.Server) {
	if healthSrv == nil {
		healthSrv = grpchealth.NewServer()
	}
	healthpb.RegisterHealthServer(s, healthSrv)
}
