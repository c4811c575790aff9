// Command sessionkeeper-server serves the session lifecycle over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/and161185/sessionkeeper/internal/config"
	"github.com/and161185/sessionkeeper/internal/migrate"
	"github.com/and161185/sessionkeeper/internal/obs"
	"github.com/and161185/sessionkeeper/internal/repository/postgres"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, migrates the schema and serves until SIGINT/SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional; SESSIONKEEPER_* env overrides)")
	dev := flag.Bool("dev", false, "enable gRPC server reflection (dev only)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	if cfg.App.Version == "dev" {
		cfg.App.Version = version
	}

	logger, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("env", cfg.App.Env),
		zap.String("version", cfg.App.Version),
		zap.String("buildDate", buildDate),
	)

	tel, err := obs.SetupOTel(ctx, cfg.AsOTELConfig())
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	if err := migrate.Up(ctx, cfg.DB.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DB)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	app, err := buildApp(cfg, logger, db)
	if err != nil {
		logger.Fatal("build app", zap.Error(err))
	}

	grpcSrv, grpcLn, err := buildGRPCServer(cfg, logger, app, *dev)
	if err != nil {
		logger.Fatal("build grpc", zap.Error(err))
	}
	httpSrv := buildHTTPServer(cfg, logger, app)
	metricsSrv := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, app.registry, db.Ping, logger)

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
		grpcErrCh <- grpcSrv.Serve(grpcLn)
	}()
	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		httpErrCh <- httpSrv.ListenAndServe()
	}()
	if cfg.Sweeper.Enable {
		go func() {
			if err := app.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("sweeper stopped", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal")
	case err := <-grpcErrCh:
		logger.Error("grpc serve", zap.Error(err))
	case err := <-httpErrCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	}
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	gracefulStopGRPC(shCtx, grpcSrv)
	_ = metricsSrv.Shutdown(shCtx)
	if err := app.Close(shCtx); err != nil {
		logger.Warn("event sinks close", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
