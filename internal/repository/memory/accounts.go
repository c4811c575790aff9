package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Accounts is an in-memory account directory.
type Accounts struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]model.Account
}

// NewAccounts seeds the directory with ids.
func NewAccounts(ids ...uuid.UUID) *Accounts {
	a := &Accounts{byID: make(map[uuid.UUID]model.Account, len(ids))}
	for _, id := range ids {
		a.Add(id)
	}
	return a
}

// Add registers an account.
func (a *Accounts) Add(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byID[id] = model.Account{ID: id, CreatedAt: time.Now()}
}

// Remove deletes an account, as if the user record was dropped upstream.
func (a *Accounts) Remove(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byID, id)
}

// FindByID implements repository.AccountDirectory.
func (a *Accounts) FindByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, ok := a.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &acc, nil
}
