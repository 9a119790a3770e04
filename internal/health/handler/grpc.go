package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// checkTimeout bounds each readiness probe.
const checkTimeout = 2 * time.Second

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the role policy evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server implements grpc.health.v1.Health. Each Check re-runs the readiness probes and updates the
// status of the overall server and of every registered service name.
type Server struct {
	*health.Server
	pinger   Pinger
	policy   PolicyChecker
	services []string
	logger   *slog.Logger
}

// NewServer returns a health server. A nil pinger or checker skips that probe.
func NewServer(pinger Pinger, policy PolicyChecker, logger *slog.Logger, services ...string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Server: health.NewServer(), pinger: pinger, policy: policy, services: services, logger: logger}
}

// Check refreshes readiness, then answers from the updated status map.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	s.Refresh(ctx)
	return s.Server.Check(ctx, req)
}

// Refresh runs the probes and records the result. It returns the overall status.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if s.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.pinger.PingContext(pctx)
		cancel()
		if err != nil {
			s.logger.WarnContext(ctx, "health: database ping failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if s.policy != nil {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.policy.HealthCheck(pctx)
		cancel()
		if err != nil {
			s.logger.WarnContext(ctx, "health: role policy check failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.SetServingStatus("", st)
	for _, name := range s.services {
		s.SetServingStatus(name, st)
	}
	return st
}
