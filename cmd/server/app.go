package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/and161185/sessionkeeper/internal/config"
	pkgcrypto "github.com/and161185/sessionkeeper/internal/crypto"
	"github.com/and161185/sessionkeeper/internal/events"
	"github.com/and161185/sessionkeeper/internal/limiter"
	"github.com/and161185/sessionkeeper/internal/repository/postgres"
	"github.com/and161185/sessionkeeper/internal/service"
	"github.com/and161185/sessionkeeper/internal/sweeper"
)

// app holds the wired domain components shared by both transports.
type app struct {
	codec    *pkgcrypto.Codec
	manager  *service.Manager
	authn    *service.Authenticator
	limiter  limiter.Limiter
	sweeper  *sweeper.Runner
	registry *prometheus.Registry

	closers []func(context.Context) error
}

func buildApp(cfg *config.Config, logger *zap.Logger, db *postgres.DB) (*app, error) {
	keys, err := cfg.Auth.Keys()
	if err != nil {
		return nil, err
	}
	codec, err := pkgcrypto.NewCodec(keys, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, pkgcrypto.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, err
	}

	a := &app{codec: codec, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sinks := events.Multi{events.NewLog(logger), events.NewMetrics(a.registry)}
	if cfg.Kafka.Enabled() {
		k := events.NewKafka(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.Kafka.Topic, logger)
		async := events.NewAsync(k, cfg.Kafka.Buffer, logger)
		sinks = append(sinks, async)
		// drain the queue before closing the writer
		a.closers = append(a.closers, async.Close, func(context.Context) error { return k.Close() })
		logger.Info("publishing session events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	sessions := postgres.NewSessionRepo(db)
	accounts := postgres.NewAccountRepo(db)

	a.manager = service.NewManager(codec, sessions, accounts, service.WithSink(sinks))
	a.authn = service.NewAuthenticator(codec, accounts, a.manager, sinks)

	a.limiter = limiter.Nop{}
	if cfg.Limiter.Enable {
		a.limiter = limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)
	}
	a.sweeper = sweeper.New(logger, sessions, sinks, cfg.Sweeper.Interval, a.registry)
	return a, nil
}

// Close flushes and closes the event sinks in order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}
