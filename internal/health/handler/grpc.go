package handler

import (
	"context"
	"log/slog"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/logging"
)

const checkTimeout = 2 * time.Second

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker reports whether the alert policy engine can evaluate.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server implements the standard gRPC health service for readiness/liveness probes.
// It reports NOT_SERVING when the database or the policy engine is unhealthy.
type Server struct {
	healthpb.UnimplementedHealthServer
	db     Pinger
	policy PolicyChecker
}

// NewServer returns a health server. db and policy may be nil.
func NewServer(db Pinger, policy PolicyChecker) *Server {
	return &Server{db: db, policy: policy}
}

// Check never returns a gRPC error for an unhealthy dependency; the status carries it.
func (s *Server) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			logging.Warn(ctx, "health: database ping failed", slog.Any("err", errs.Loggable(err)))
			return notServing(), nil
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			logging.Warn(ctx, "health: policy engine check failed", slog.Any("err", errs.Loggable(err)))
			return notServing(), nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func notServing() *healthpb.HealthCheckResponse {
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
}
