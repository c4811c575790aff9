package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// SessionRepo implements SessionStore using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionCols = `token_id, account_id, token_hash, issued_at, expires_at, revoked, revoked_at,
COALESCE(revoked_reason, ''), COALESCE(replaced_by, ''), issuing_ip, device`

const insertSession = `
INSERT INTO refresh_sessions (token_id, account_id, token_hash, issued_at, expires_at, issuing_ip, device)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Serializes issue/rotate per account; released at commit or rollback.
const lockAccount = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

const revokeAllLive = `
UPDATE refresh_sessions
SET revoked = true, revoked_at = now(), revoked_reason = $2
WHERE account_id = $1 AND NOT revoked`

// Create inserts a new session row.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, insertSession, insertArgs(s)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("create session: %w", errs.ErrConflict)
	}
	return errs.Storage("create session", err)
}

// Issue revokes all live sessions of the account and inserts s in one transaction.
func (r *SessionRepo) Issue(ctx context.Context, s *model.Session) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockAccount, s.AccountID.String()); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, revokeAllLive, s.AccountID, string(model.ReasonSuperseded)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertSession, insertArgs(s)...)
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("issue session: %w", errs.ErrConflict)
	}
	return errs.Storage("issue session", err)
}

// FindActive selects a non-revoked, non-expired session by token hash.
func (r *SessionRepo) FindActive(ctx context.Context, tokenHash string) (*model.Session, error) {
	const q = `SELECT ` + sessionCols + `
FROM refresh_sessions WHERE token_hash=$1 AND NOT revoked AND expires_at > now()`
	return r.selectOne(ctx, "find active session", q, tokenHash)
}

// Lookup selects a session by token hash regardless of its state.
func (r *SessionRepo) Lookup(ctx context.Context, tokenHash string) (*model.Session, error) {
	const q = `SELECT ` + sessionCols + `
FROM refresh_sessions WHERE token_hash=$1`
	return r.selectOne(ctx, "lookup session", q, tokenHash)
}

// Revoke marks a session revoked; the first reason wins.
func (r *SessionRepo) Revoke(ctx context.Context, tokenID string, reason model.RevokeReason) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	const q = `
UPDATE refresh_sessions
SET revoked = true, revoked_at = now(), revoked_reason = $2
WHERE token_id = $1 AND NOT revoked`
	_, err := r.db.Pool.Exec(ctx, q, tokenID, string(reason))
	return errs.Storage("revoke session", err)
}

// RevokeAllForAccount revokes every live session of the account with a single statement.
func (r *SessionRepo) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, reason model.RevokeReason) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, revokeAllLive, accountID, string(reason))
	if err != nil {
		return 0, errs.Storage("revoke account sessions", err)
	}
	return tag.RowsAffected(), nil
}

// Rotate replaces an active session by next, fenced on the old token id.
func (r *SessionRepo) Rotate(ctx context.Context, oldTokenID string, next *model.Session) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	const upd = `
UPDATE refresh_sessions
SET revoked = true, revoked_at = now(), revoked_reason = $2, replaced_by = $3
WHERE token_id = $1 AND NOT revoked AND expires_at > now()`

	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockAccount, next.AccountID.String()); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, upd, oldTokenID, string(model.ReasonRotation), next.TokenID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return staleReason(ctx, tx, oldTokenID)
		}
		_, err = tx.Exec(ctx, insertSession, insertArgs(next)...)
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrExpired):
		return fmt.Errorf("rotate session %s: %w", oldTokenID, errs.ErrExpired)
	case errors.Is(err, errs.ErrConflict), isUniqueViolation(err):
		return fmt.Errorf("rotate session %s: %w", oldTokenID, errs.ErrConflict)
	default:
		return errs.Storage("rotate session", err)
	}
}

// staleReason tells an expired row from a revoked or missing one after a
// fenced update matched nothing.
func staleReason(ctx context.Context, tx pgx.Tx, tokenID string) error {
	const q = `SELECT revoked FROM refresh_sessions WHERE token_id = $1`
	var revoked bool
	err := tx.QueryRow(ctx, q, tokenID).Scan(&revoked)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errs.ErrConflict
	case err != nil:
		return err
	case revoked:
		return errs.ErrConflict
	default:
		return errs.ErrExpired
	}
}

// Sweep deletes revoked or expired sessions.
func (r *SessionRepo) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	const q = `DELETE FROM refresh_sessions WHERE revoked OR expires_at <= now()`
	tag, err := r.db.Pool.Exec(ctx, q)
	if err != nil {
		return 0, errs.Storage("sweep sessions", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) selectOne(ctx context.Context, op, q string, args ...any) (*model.Session, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		s         model.Session
		revokedAt *time.Time
		reason    string
	)
	err := r.db.Pool.QueryRow(ctx, q, args...).Scan(
		&s.TokenID, &s.AccountID, &s.TokenHash, &s.IssuedAt, &s.ExpiresAt,
		&s.Revoked, &revokedAt, &reason, &s.ReplacedBy, &s.IssuingIP, &s.Device,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Storage(op, err)
	}
	s.RevokedAt = revokedAt
	s.RevokedReason = model.RevokeReason(reason)
	return &s, nil
}

func insertArgs(s *model.Session) []any {
	return []any{s.TokenID, s.AccountID, s.TokenHash, s.IssuedAt, s.ExpiresAt, s.IssuingIP, s.Device}
}
