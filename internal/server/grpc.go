// Package server wires the transports: the gRPC health service here, the HTTP API in httpapi.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "trailwatch/backend/internal/health/handler"
)

// Deps holds the dependencies of the gRPC services.
type Deps struct {
	// HealthPinger is pinged on every health check (e.g. *sql.DB). If nil, the DB check is skipped.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker reports alert policy engine health. If nil, the policy check is skipped.
	HealthPolicyChecker healthhandler.PolicyChecker
}

// NewGRPCServer returns a gRPC server instrumented with OpenTelemetry.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	return grpc.NewServer(opts...)
}

// RegisterServices registers the gRPC services with s.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.HealthPinger, deps.HealthPolicyChecker))
}
