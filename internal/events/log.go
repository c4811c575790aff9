package events

import (
	"context"

	"github.com/and161185/sessionkeeper/internal/obs"
	"go.uber.org/zap"
)

// Log writes events as structured log lines.
type Log struct{ log *zap.Logger }

// NewLog constructs a logging sink.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.With(zap.String("component", "session.events"))}
}

// Emit implements Sink.
func (l *Log) Emit(ctx context.Context, e Event) {
	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.Time("at", e.At),
	}
	if !e.AccountID.IsNil() {
		fields = append(fields, zap.String("account_id", e.AccountID.String()))
	}
	if e.TokenID != "" {
		fields = append(fields, zap.String("token_id", e.TokenID))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.IP != "" {
		fields = append(fields, zap.String("ip", e.IP))
	}
	if e.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", e.UserAgent))
	}
	if e.Path != "" {
		fields = append(fields, zap.String("path", e.Path))
	}
	if e.Count != 0 {
		fields = append(fields, zap.Int64("count", e.Count))
	}

	log := obs.WithTrace(ctx, l.log)
	switch e.Kind {
	case KindReuseDetected:
		log.Warn("refresh credential reuse", fields...)
	case KindRejected:
		log.Info("authentication rejected", fields...)
	default:
		log.Info("session event", fields...)
	}
}
