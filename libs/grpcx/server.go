package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/localbiz/membership/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer returns a grpc server with tracing, request ids and error
// logging installed.
func NewServer(logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLogInterceptor(logger),
		),
	}
	return grpc.NewServer(append(base, opts...)...)
}

// RegisterHealth installs the standard grpc.health.v1 service on srv.
func RegisterHealth(srv *grpc.Server) *health.Server {
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return hs
}

// WatchReadiness keeps the health status of service (and the overall "" entry)
// in line with the readiness checks until ctx is done.
func WatchReadiness(ctx context.Context, hs *health.Server, service string, interval time.Duration, logger *slog.Logger, checks ...runtime.ReadyCheck) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if failures := runtime.RunChecks(ctx, checks); len(failures) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if last != status {
				logger.Warn("grpc health: not serving", "failures", failures)
			}
		}
		if status != last {
			hs.SetServingStatus("", status)
			hs.SetServingStatus(service, status)
			last = status
		}
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}

// Serve listens on addr and serves srv until ctx is done.
func Serve(ctx context.Context, srv *grpc.Server, addr string, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
		logger.Info("grpc server stopped")
	}()

	return nil
}
