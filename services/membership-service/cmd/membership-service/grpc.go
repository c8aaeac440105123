package main

import (
	"context"
	"log/slog"

	"github.com/localbiz/membership/libs/config"
	"github.com/localbiz/membership/libs/grpcx"
	"github.com/localbiz/membership/libs/runtime"
)

// startGrpcServer exposes grpc.health.v1 so orchestrators can probe the
// service over gRPC with the same checks as /readyz.
func startGrpcServer(ctx context.Context, logger *slog.Logger, service string, checks []runtime.ReadyCheck) error {
	port, err := config.Port("GRPC_PORT", "9096")
	if err != nil {
		return err
	}
	srv := grpcx.NewServer(logger)
	hs := grpcx.RegisterHealth(srv)
	go grpcx.WatchReadiness(ctx, hs, service, config.Seconds("GRPC_HEALTH_INTERVAL_SECONDS", 0), logger, checks...)
	return grpcx.Serve(ctx, srv, ":"+port, logger)
}
