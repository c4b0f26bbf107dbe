package server

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"elearning-marketplace/backend/internal/logging"
)

// NewGRPCServer returns a gRPC server exposing the standard health service, traced through
// otelgrpc and logged per call.
func NewGRPCServer(hs *health.Server, log logging.Logger) *grpc.Server {
	if log == nil {
		log = logging.Nop()
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(LoggingUnary(log)),
	)
	healthpb.RegisterHealthServer(s, hs)
	return s
}

// LoggingUnary logs method, status code, duration and peer address for each unary call.
func LoggingUnary(log logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		args := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start), "peer", peerAddr(ctx)}
		if err != nil {
			log.Warn(ctx, "grpc request", append(args, "error", err)...)
		} else {
			log.Info(ctx, "grpc request", args...)
		}
		return resp, err
	}
}

func peerAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
		return host
	}
	return p.Addr.String()
}
