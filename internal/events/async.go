package events

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const asyncEmitTimeout = 5 * time.Second

type queued struct {
	sc trace.SpanContext
	e  Event
}

// Async decouples slow sinks from the request path. When the buffer is full
// events are dropped and logged, never blocking the caller.
type Async struct {
	next Sink
	log  *zap.Logger
	ch   chan queued
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts a single worker delivering to next.
func NewAsync(next Sink, buffer int, log *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next: next,
		log:  log,
		ch:   make(chan queued, buffer),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

// Emit implements Sink.
func (a *Async) Emit(ctx context.Context, e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- queued{sc: trace.SpanContextFromContext(ctx), e: e}:
	default:
		a.log.Warn("event dropped: buffer full", zap.String("kind", string(e.Kind)))
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for q := range a.ch {
		// the request context is gone by now; keep only its trace
		ctx := trace.ContextWithSpanContext(context.Background(), q.sc)
		ctx, cancel := context.WithTimeout(ctx, asyncEmitTimeout)
		a.next.Emit(ctx, q.e)
		cancel()
	}
}
