// Package memory provides mutex-guarded in-process implementations of the
// repository interfaces. State is lost on restart and is not shared between
// instances.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SessionStore keeps sessions in maps under a single lock, which gives
// per-account atomicity for Issue and Rotate for free.
type SessionStore struct {
	mu     sync.Mutex
	byID   map[string]*model.Session
	byHash map[string]string
	now    func() time.Time
}

// NewSessionStore constructs an empty store. A nil clock means time.Now.
func NewSessionStore(now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{
		byID:   map[string]*model.Session{},
		byHash: map[string]string{},
		now:    now,
	}
}

// Create inserts s.
func (m *SessionStore) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(s)
}

// Issue revokes all live sessions of the account and inserts s.
func (m *SessionStore) Issue(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.duplicateLocked(s) {
		return errs.ErrConflict
	}
	m.revokeAllLocked(s.AccountID, model.ReasonSuperseded)
	return m.insertLocked(s)
}

// FindActive returns a copy of a live session by hash.
func (m *SessionStore) FindActive(_ context.Context, tokenHash string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byHashLocked(tokenHash)
	if !ok || !s.ActiveAt(m.now()) {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

// Lookup returns a copy of a session by hash in any state.
func (m *SessionStore) Lookup(_ context.Context, tokenHash string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byHashLocked(tokenHash)
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

// Revoke marks one session revoked; no-op if missing or already revoked.
func (m *SessionStore) Revoke(_ context.Context, tokenID string, reason model.RevokeReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[tokenID]; ok {
		m.revokeLocked(s, reason)
	}
	return nil
}

// RevokeAllForAccount revokes every live session of the account.
func (m *SessionStore) RevokeAllForAccount(_ context.Context, accountID uuid.UUID, reason model.RevokeReason) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeAllLocked(accountID, reason), nil
}

// Rotate replaces oldTokenID by next if the old session is still active.
func (m *SessionStore) Rotate(_ context.Context, oldTokenID string, next *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.byID[oldTokenID]
	if !ok || old.Revoked {
		return errs.ErrConflict
	}
	if !old.ActiveAt(m.now()) {
		return errs.ErrExpired
	}
	if m.duplicateLocked(next) {
		return errs.ErrConflict
	}
	m.revokeLocked(old, model.ReasonRotation)
	old.ReplacedBy = next.TokenID
	return m.insertLocked(next)
}

// Sweep deletes revoked or expired sessions.
func (m *SessionStore) Sweep(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for id, s := range m.byID {
		if s.ActiveAt(now) {
			continue
		}
		delete(m.byHash, s.TokenHash)
		delete(m.byID, id)
		n++
	}
	return n, nil
}

// Snapshot returns copies of every stored session.
func (m *SessionStore) Snapshot() []model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, *s)
	}
	return out
}

func (m *SessionStore) byHashLocked(hash string) (*model.Session, bool) {
	id, ok := m.byHash[hash]
	if !ok {
		return nil, false
	}
	s, ok := m.byID[id]
	return s, ok
}

func (m *SessionStore) duplicateLocked(s *model.Session) bool {
	if _, dup := m.byID[s.TokenID]; dup {
		return true
	}
	_, dup := m.byHash[s.TokenHash]
	return dup
}

func (m *SessionStore) insertLocked(s *model.Session) error {
	if m.duplicateLocked(s) {
		return errs.ErrConflict
	}
	// mirrors the partial unique index on account_id WHERE NOT revoked
	for _, other := range m.byID {
		if other.AccountID == s.AccountID && !other.Revoked {
			return errs.ErrConflict
		}
	}
	c := *s
	m.byID[c.TokenID] = &c
	m.byHash[c.TokenHash] = c.TokenID
	return nil
}

func (m *SessionStore) revokeAllLocked(accountID uuid.UUID, reason model.RevokeReason) int64 {
	var n int64
	for _, s := range m.byID {
		if s.AccountID == accountID && !s.Revoked {
			m.revokeLocked(s, reason)
			n++
		}
	}
	return n
}

func (m *SessionStore) revokeLocked(s *model.Session, reason model.RevokeReason) {
	if s.Revoked {
		return
	}
	at := m.now()
	s.Revoked = true
	s.RevokedAt = &at
	s.RevokedReason = reason
}
