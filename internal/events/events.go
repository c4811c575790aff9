// Package events carries session lifecycle events to logging, metrics and the event bus.
package events

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindIssued        Kind = "issued"
	KindRenewed       Kind = "renewed"
	KindRotated       Kind = "rotated"
	KindReuseDetected Kind = "reuse_detected"
	KindRevoked       Kind = "revoked"
	KindRejected      Kind = "rejected"
	KindSwept         Kind = "swept"
)

// Event is one security-relevant fact. It never carries credential values.
type Event struct {
	Kind      Kind      `json:"kind"`
	AccountID uuid.UUID `json:"account_id"`
	TokenID   string    `json:"token_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Path      string    `json:"path,omitempty"`
	Count     int64     `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives events. Emit must not fail the caller; sinks handle their own errors.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) {}

// Multi fans an event out to every sink in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}
