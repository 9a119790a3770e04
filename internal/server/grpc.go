package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "identity-provisioning/internal/health/handler"
	identityhandler "identity-provisioning/internal/identity/handler"
	"identity-provisioning/internal/server/interceptors"
)

// Deps holds the dependencies of the gRPC services.
type Deps struct {
	// Identity backs IdentityService. If nil, identity RPCs return Unimplemented.
	Identity identityhandler.Provisioner
	// HealthPinger is used for readiness (e.g. *sql.DB). If nil, the health check skips the DB ping.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used for readiness (e.g. the OPA evaluator). If nil, the policy check is skipped.
	HealthPolicyChecker healthhandler.PolicyChecker
	Logger              *slog.Logger
}

// skipLogMethods are not logged per call.
var skipLogMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// NewGRPCServer returns a server with OTel instrumentation and the recovery, request-id and logging
// interceptors installed. Extra options are appended.
func NewGRPCServer(logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(logger),
			interceptors.RequestIDUnary(),
			interceptors.LoggingUnary(logger, skipLogMethods),
		),
	}
	return grpc.NewServer(append(base, opts...)...)
}

// RegisterServices registers IdentityService and the standard health service with s. It returns the
// health server so callers can mark it NOT_SERVING during shutdown.
//
// Service → handler mapping:
//   - identity.v1.IdentityService → internal/identity/handler
//   - grpc.health.v1.Health       → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) *healthhandler.Server {
	identityhandler.RegisterIdentityServiceServer(s, identityhandler.NewIdentityServer(deps.Identity))
	hs := healthhandler.NewServer(deps.HealthPinger, deps.HealthPolicyChecker, deps.Logger, identityhandler.ServiceName)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}
