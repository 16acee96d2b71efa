package handler

import (
	"context"
	"log"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"surveyapp/backend/internal/health"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "surveyapp.Auth"

// NewGRPCServer returns a grpc health server with status set from checker.
func NewGRPCServer(ctx context.Context, checker *health.Checker) *grpchealth.Server {
	srv := grpchealth.NewServer()
	Sync(ctx, srv, checker)
	return srv
}

// Sync runs the checks once and publishes SERVING or NOT_SERVING for "" and ServiceName.
func Sync(ctx context.Context, srv *grpchealth.Server, checker *health.Checker) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := checker.Check(ctx); err != nil {
		log.Printf("health: %v", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	srv.SetServingStatus("", status)
	srv.SetServingStatus(ServiceName, status)
	return status
}
