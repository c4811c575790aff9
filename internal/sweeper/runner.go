// Package sweeper periodically deletes revoked and expired sessions.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/sessionkeeper/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Store is the part of the session store the sweeper needs.
type Store interface {
	Sweep(ctx context.Context) (int64, error)
}

// ErrBadInterval is returned by Run when the runner has no positive interval.
var ErrBadInterval = errors.New("sweeper: interval must be positive")

// Runner deletes dead sessions on a fixed interval.
type Runner struct {
	log      *zap.Logger
	store    Store
	sink     events.Sink
	interval time.Duration

	mErr     prometheus.Counter
	mLoopDur prometheus.Histogram
}

// New constructs a Runner. A nil registerer skips metric registration.
func New(log *zap.Logger, store Store, sink events.Sink, interval time.Duration, reg prometheus.Registerer) *Runner {
	if sink == nil {
		sink = events.Nop{}
	}
	f := promauto.With(reg)
	return &Runner{
		log:      log.With(zap.String("component", "sweeper")),
		store:    store,
		sink:     sink,
		interval: interval,
		mErr: f.NewCounter(prometheus.CounterOpts{
			Name: "sessionkeeper_sweep_errors_total", Help: "Failed cleanup sweeps",
		}),
		mLoopDur: f.NewHistogram(prometheus.HistogramOpts{
			Name: "sessionkeeper_sweep_duration_seconds", Help: "Cleanup sweep duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RunOnce deletes every revoked or expired session and reports the count.
func (r *Runner) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() { r.mLoopDur.Observe(time.Since(start).Seconds()) }()

	n, err := r.store.Sweep(ctx)
	if err != nil {
		r.mErr.Inc()
		return 0, err
	}
	r.sink.Emit(ctx, events.Event{Kind: events.KindSwept, Count: n, At: time.Now()})
	r.log.Info("sweep done", zap.Int64("deleted", n), zap.Duration("dur", time.Since(start)))
	return n, nil
}

// Run sweeps immediately and then on every tick until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return ErrBadInterval
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.Warn("sweep error", zap.Error(err))
	}
}
