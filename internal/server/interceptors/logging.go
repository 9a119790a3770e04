package interceptors

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// RequestIDHeader is the metadata key carrying the request id in both directions.
const RequestIDHeader = "x-request-id"

// RequestIDUnary returns a unary server interceptor that reuses the caller's x-request-id or assigns
// a new one, stores it in the context and echoes it in the response header.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDHeader); len(vals) > 0 {
				id = strings.TrimSpace(vals[0])
			}
		}
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
		return handler(WithRequestID(ctx, id), req)
	}
}

// LoggingUnary returns a unary server interceptor that logs one line per RPC with the method, status
// code, duration, client IP and request id. Server-side failures log at ERROR, caller errors at WARN.
// skipMethods is the set of full method names to not log (e.g. health checks).
func LoggingUnary(logger *slog.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		requestID, _ := GetRequestID(ctx)
		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ClientIP(ctx),
			"request_id", requestID,
		}
		switch code {
		case codes.OK:
			logger.InfoContext(ctx, "rpc", attrs...)
		case codes.Internal, codes.Unavailable, codes.Aborted, codes.Unknown, codes.DataLoss:
			logger.ErrorContext(ctx, "rpc", append(attrs, "error", err)...)
		default:
			logger.WarnContext(ctx, "rpc", append(attrs, "error", status.Convert(err).Message())...)
		}
		return resp, err
	}
}

// RecoveryUnary converts a handler panic into codes.Internal and logs it.
func RecoveryUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := GetRequestID(ctx)
				logger.ErrorContext(ctx, "rpc panic", "method", info.FullMethod, "request_id", requestID, "panic", r)
				err = status.Error(codes.Internal, "an unexpected error occurred")
			}
		}()
		return handler(ctx, req)
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
