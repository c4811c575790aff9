// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SessionStore persists refresh credential records. Infrastructure failures
// are reported as errs.ErrStorage.
type SessionStore interface {
	// Create inserts a new record. errs.ErrConflict if the account already has a live one.
	Create(ctx context.Context, s *model.Session) error
	// Issue revokes every live record of s.AccountID (reason superseded) and
	// inserts s, atomically per account.
	Issue(ctx context.Context, s *model.Session) error
	// FindActive returns a record by token hash only if it is neither revoked nor expired.
	FindActive(ctx context.Context, tokenHash string) (*model.Session, error)
	// Lookup returns a record by token hash in any state.
	Lookup(ctx context.Context, tokenHash string) (*model.Session, error)
	// Revoke marks one record revoked. Already revoked or missing records are a no-op.
	Revoke(ctx context.Context, tokenID string, reason model.RevokeReason) error
	// RevokeAllForAccount revokes every live record of the account in one step.
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, reason model.RevokeReason) (int64, error)
	// Rotate revokes oldTokenID (reason rotation) and inserts next, only if the
	// old record is still active. A record that is unrevoked but past its expiry
	// gives errs.ErrExpired; a revoked or missing one gives errs.ErrConflict.
	Rotate(ctx context.Context, oldTokenID string, next *model.Session) error
	// Sweep deletes revoked or expired records and returns how many were removed.
	Sweep(ctx context.Context) (int64, error)
}

// AccountDirectory is the read side of the external user store.
type AccountDirectory interface {
	// FindByID returns errs.ErrNotFound when the account does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
}
