// Command sessionkeeper-sweeper deletes revoked and expired sessions, once or on an interval.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/and161185/sessionkeeper/internal/config"
	"github.com/and161185/sessionkeeper/internal/events"
	"github.com/and161185/sessionkeeper/internal/obs"
	"github.com/and161185/sessionkeeper/internal/repository/postgres"
	"github.com/and161185/sessionkeeper/internal/sweeper"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional; SESSIONKEEPER_* env overrides)")
	once := flag.Bool("once", false, "sweep once and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	cfg.App.Name = "sessionkeeper-sweeper"

	logger, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := postgres.New(ctx, cfg.DB)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	r := sweeper.New(logger, postgres.NewSessionRepo(db), events.NewLog(logger), cfg.Sweeper.Interval, nil)
	if *once {
		if _, err := r.RunOnce(ctx); err != nil {
			logger.Fatal("sweep", zap.Error(err))
		}
		return
	}

	logger.Info("sweeping", zap.Duration("interval", cfg.Sweeper.Interval))
	_ = r.Run(ctx)
	logger.Info("stopped")
}
