package main

import (
	"context"
	"net"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/sessionkeeper/internal/config"
	"github.com/and161185/sessionkeeper/internal/obs"
	grpcserver "github.com/and161185/sessionkeeper/internal/server/grpc"
)

// public methods skip authentication.
var publicMethods = []string{
	healthpb.Health_Check_FullMethodName,
}

// buildGRPCServer serves health (and reflection in dev) only. Session
// operations are exposed over HTTP; the auth chain here guards services that
// get registered on this server when it is embedded.
func buildGRPCServer(cfg *config.Config, logger *zap.Logger, a *app, dev bool) (*grpc.Server, net.Listener, error) {
	grpcMetrics := grpcprometheus.NewServerMetrics()
	a.registry.MustRegister(grpcMetrics)

	opts := obs.GRPCServerOpts()
	opts = append(opts, grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		grpcserver.RecoverUnary(logger),
		grpcserver.LoggingUnary(logger),
		grpcserver.AuthUnary(a.authn, logger, publicMethods...),
	), grpc.ChainStreamInterceptor(
		grpcMetrics.StreamServerInterceptor(),
	))
	s := grpc.NewServer(opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if dev {
		reflection.Register(s)
	}
	grpcMetrics.InitializeMetrics(s)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, nil, err
	}
	return s, lis, nil
}

func gracefulStopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
	}
}
