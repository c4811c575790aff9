package postgres

import (
	"context"
	"errors"

	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements AccountDirectory over the accounts table owned by the user service.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account directory.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// FindByID selects an account by ID.
func (r *AccountRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	const q = `SELECT id, created_at FROM accounts WHERE id=$1`
	var a model.Account
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Storage("find account", err)
	}
	return &a, nil
}
