// Package limiter throttles repeated failed credential presentations.
package limiter

import (
	"context"
	"time"
)

// Scopes group attempts by endpoint so a flood on one does not lock the others.
const (
	ScopeRefresh = "refresh"
	ScopeRotate  = "rotate"
	ScopeSession = "session"
)

// Limiter controls attempts and temporary lockouts per (scope, ip).
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and optional retry-after.
	Allow(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, scope string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error)
}

// Nop allows everything.
type Nop struct{}

// Allow always permits the attempt.
func (Nop) Allow(context.Context, string, []byte) (bool, time.Duration, error) { return true, 0, nil }

// Success is a no-op.
func (Nop) Success(context.Context, string, []byte) error { return nil }

// Failure never blocks.
func (Nop) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	return false, 0, nil
}
