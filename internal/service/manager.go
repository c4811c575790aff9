// Package service contains the session lifecycle manager and the request authenticator.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgcrypto "github.com/and161185/sessionkeeper/internal/crypto"
	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/events"
	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/and161185/sessionkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/oklog/ulid/v2"
)

// Rejection reasons reported to the event sink. Callers only ever see errs.ErrUnauthorized.
const (
	ReasonInvalidSignature = "invalid_signature"
	ReasonExpired          = "expired"
	ReasonUnknownSession   = "session_unknown"
	ReasonInactiveSession  = "session_inactive"
	ReasonExpiredSession   = "session_expired"
	ReasonSubjectMismatch  = "subject_mismatch"
	ReasonAccountMissing   = "account_missing"
)

const maxDeviceLen = 256

// SessionManager is the public contract of Manager.
type SessionManager interface {
	// Issue opens the only live session of the account and returns a fresh pair.
	Issue(ctx context.Context, accountID uuid.UUID, md model.Metadata) (model.Tokens, error)
	// Refresh mints a new access credential; the refresh credential is left untouched.
	Refresh(ctx context.Context, refresh string) (model.Tokens, error)
	// Rotate replaces the refresh credential; presenting a revoked one is reuse.
	Rotate(ctx context.Context, refresh string, md model.Metadata) (model.Tokens, error)
	// Revoke closes the session behind refresh; always succeeds barring storage errors.
	Revoke(ctx context.Context, refresh string, reason model.RevokeReason) error
	// RevokeAll closes every session of the account.
	RevokeAll(ctx context.Context, accountID uuid.UUID, reason model.RevokeReason) (int64, error)
}

// Manager implements SessionManager over a codec and a session store.
type Manager struct {
	codec    *pkgcrypto.Codec
	store    repository.SessionStore
	accounts repository.AccountDirectory
	sink     events.Sink
	now      func() time.Time
}

var _ SessionManager = (*Manager)(nil)

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithSink sets the observability sink (default: discard).
func WithSink(s events.Sink) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithManagerClock sets the clock used for expiry checks and event timestamps.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager with required dependencies.
func NewManager(codec *pkgcrypto.Codec, store repository.SessionStore, accounts repository.AccountDirectory, opts ...ManagerOption) *Manager {
	m := &Manager{
		codec:    codec,
		store:    store,
		accounts: accounts,
		sink:     events.Nop{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Issue revokes every session of the account and persists a new one atomically.
// A concurrent issuance that wins the race is retried once, then surfaced as a storage error.
func (m *Manager) Issue(ctx context.Context, accountID uuid.UUID, md model.Metadata) (model.Tokens, error) {
	if err := m.ensureAccount(ctx, accountID); err != nil {
		return model.Tokens{}, m.failAccount(ctx, err, accountID, md)
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var (
			t model.Tokens
			s *model.Session
		)
		if t, s, err = m.mint(accountID, md); err != nil {
			return model.Tokens{}, err
		}
		if err = m.store.Issue(ctx, s); err == nil {
			m.emit(ctx, events.Event{
				Kind:      events.KindIssued,
				AccountID: accountID,
				TokenID:   s.TokenID,
				IP:        md.IP,
				UserAgent: s.Device,
			})
			return t, nil
		}
		if !errors.Is(err, errs.ErrConflict) {
			return model.Tokens{}, err
		}
	}
	return model.Tokens{}, errs.Storage("issue session", err)
}

// Refresh verifies a refresh credential against its live session and mints a new access credential.
func (m *Manager) Refresh(ctx context.Context, refresh string) (model.Tokens, error) {
	claims, err := m.codec.VerifyRefresh(refresh)
	if err != nil {
		return model.Tokens{}, m.reject(ctx, events.Event{Reason: verifyReason(err)})
	}

	s, err := m.store.FindActive(ctx, pkgcrypto.HashRefresh(refresh))
	if errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, m.reject(ctx, events.Event{AccountID: claims.AccountID, Reason: ReasonInactiveSession})
	}
	if err != nil {
		return model.Tokens{}, err
	}
	if s.AccountID != claims.AccountID {
		return model.Tokens{}, m.reject(ctx, events.Event{AccountID: claims.AccountID, TokenID: s.TokenID, Reason: ReasonSubjectMismatch})
	}
	if err := m.ensureAccount(ctx, s.AccountID); err != nil {
		return model.Tokens{}, m.failAccount(ctx, err, s.AccountID, model.Metadata{})
	}

	access, ac, err := m.codec.IssueAccess(s.AccountID)
	if err != nil {
		return model.Tokens{}, err
	}
	m.emit(ctx, events.Event{Kind: events.KindRenewed, AccountID: s.AccountID, TokenID: s.TokenID})
	return model.Tokens{
		AccountID:       s.AccountID,
		AccessToken:     access,
		AccessExpiresAt: ac.ExpiresAt,
		SessionID:       s.TokenID,
	}, nil
}

// Rotate exchanges an active refresh credential for a new pair. A revoked
// credential, or losing a rotation race, revokes the whole account.
func (m *Manager) Rotate(ctx context.Context, refresh string, md model.Metadata) (model.Tokens, error) {
	claims, err := m.codec.VerifyRefresh(refresh)
	if err != nil {
		return model.Tokens{}, m.reject(ctx, events.Event{Reason: verifyReason(err), IP: md.IP})
	}

	s, err := m.store.Lookup(ctx, pkgcrypto.HashRefresh(refresh))
	if errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, m.reject(ctx, events.Event{AccountID: claims.AccountID, Reason: ReasonUnknownSession, IP: md.IP})
	}
	if err != nil {
		return model.Tokens{}, err
	}
	if s.AccountID != claims.AccountID {
		return model.Tokens{}, m.reject(ctx, events.Event{AccountID: claims.AccountID, TokenID: s.TokenID, Reason: ReasonSubjectMismatch, IP: md.IP})
	}
	if s.Revoked {
		return model.Tokens{}, m.reuse(ctx, s, md)
	}
	if !s.ActiveAt(m.now()) {
		return model.Tokens{}, m.expired(ctx, s, md)
	}
	if err := m.ensureAccount(ctx, s.AccountID); err != nil {
		return model.Tokens{}, m.failAccount(ctx, err, s.AccountID, md)
	}

	t, next, err := m.mint(s.AccountID, md)
	if err != nil {
		return model.Tokens{}, err
	}
	err = m.store.Rotate(ctx, s.TokenID, next)
	switch {
	case errors.Is(err, errs.ErrExpired):
		// the store clock crossed the expiry after our own check
		return model.Tokens{}, m.expired(ctx, s, md)
	case errors.Is(err, errs.ErrConflict):
		// someone rotated or revoked this credential between Lookup and Rotate
		return model.Tokens{}, m.reuse(ctx, s, md)
	case err != nil:
		return model.Tokens{}, err
	}

	m.emit(ctx, events.Event{
		Kind:      events.KindRotated,
		AccountID: s.AccountID,
		TokenID:   next.TokenID,
		IP:        md.IP,
		UserAgent: next.Device,
	})
	return t, nil
}

// Revoke closes exactly the session behind refresh. Unknown, garbage or
// already revoked values are not an error.
func (m *Manager) Revoke(ctx context.Context, refresh string, reason model.RevokeReason) error {
	if refresh == "" {
		return nil
	}
	if !reason.Valid() {
		reason = model.ReasonLogout
	}
	s, err := m.store.Lookup(ctx, pkgcrypto.HashRefresh(refresh))
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.Revoked {
		return nil
	}
	if err := m.store.Revoke(ctx, s.TokenID, reason); err != nil {
		return err
	}
	m.emit(ctx, events.Event{Kind: events.KindRevoked, AccountID: s.AccountID, TokenID: s.TokenID, Reason: string(reason), Count: 1})
	return nil
}

// RevokeAll closes every live session of the account.
func (m *Manager) RevokeAll(ctx context.Context, accountID uuid.UUID, reason model.RevokeReason) (int64, error) {
	if !reason.Valid() {
		return 0, fmt.Errorf("revoke all: unknown reason %q", reason)
	}
	n, err := m.store.RevokeAllForAccount(ctx, accountID, reason)
	if err != nil {
		return 0, err
	}
	m.emit(ctx, events.Event{Kind: events.KindRevoked, AccountID: accountID, Reason: string(reason), Count: n})
	return n, nil
}

func (m *Manager) mint(accountID uuid.UUID, md model.Metadata) (model.Tokens, *model.Session, error) {
	access, ac, err := m.codec.IssueAccess(accountID)
	if err != nil {
		return model.Tokens{}, nil, fmt.Errorf("issue access: %w", err)
	}
	refresh, rc, err := m.codec.IssueRefresh(accountID)
	if err != nil {
		return model.Tokens{}, nil, fmt.Errorf("issue refresh: %w", err)
	}
	id, err := ulid.New(ulid.Timestamp(m.now()), ulid.DefaultEntropy())
	if err != nil {
		return model.Tokens{}, nil, fmt.Errorf("token id: %w", err)
	}

	device := md.UserAgent
	if len(device) > maxDeviceLen {
		device = device[:maxDeviceLen]
	}
	s := &model.Session{
		TokenID:   id.String(),
		AccountID: accountID,
		TokenHash: pkgcrypto.HashRefresh(refresh),
		IssuedAt:  rc.IssuedAt,
		ExpiresAt: rc.ExpiresAt,
		IssuingIP: md.IP,
		Device:    device,
	}
	return model.Tokens{
		AccountID:        accountID,
		AccessToken:      access,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshToken:     refresh,
		RefreshExpiresAt: rc.ExpiresAt,
		SessionID:        s.TokenID,
	}, s, nil
}

func (m *Manager) reuse(ctx context.Context, s *model.Session, md model.Metadata) error {
	n, err := m.store.RevokeAllForAccount(ctx, s.AccountID, model.ReasonReuseDetected)
	if err != nil {
		return err
	}
	m.emit(ctx, events.Event{
		Kind:      events.KindReuseDetected,
		AccountID: s.AccountID,
		TokenID:   s.TokenID,
		Reason:    string(s.RevokedReason),
		IP:        md.IP,
		UserAgent: md.UserAgent,
		Count:     n,
	})
	return errs.ErrReuseDetected
}

// expired closes a session that outlived its refresh credential. Never reuse.
func (m *Manager) expired(ctx context.Context, s *model.Session, md model.Metadata) error {
	if err := m.store.Revoke(ctx, s.TokenID, model.ReasonExpiredCleanup); err != nil {
		return err
	}
	return m.reject(ctx, events.Event{AccountID: s.AccountID, TokenID: s.TokenID, Reason: ReasonExpiredSession, IP: md.IP})
}

func (m *Manager) ensureAccount(ctx context.Context, id uuid.UUID) error {
	_, err := m.accounts.FindByID(ctx, id)
	return err
}

// failAccount turns a missing account into a rejection and passes storage errors through.
func (m *Manager) failAccount(ctx context.Context, err error, id uuid.UUID, md model.Metadata) error {
	if errors.Is(err, errs.ErrNotFound) {
		return m.reject(ctx, events.Event{AccountID: id, Reason: ReasonAccountMissing, IP: md.IP})
	}
	return err
}

func (m *Manager) reject(ctx context.Context, e events.Event) error {
	e.Kind = events.KindRejected
	m.emit(ctx, e)
	return errs.ErrUnauthorized
}

func (m *Manager) emit(ctx context.Context, e events.Event) {
	e.At = m.now()
	m.sink.Emit(ctx, e)
}

func verifyReason(err error) string {
	if errors.Is(err, errs.ErrExpired) {
		return ReasonExpired
	}
	return ReasonInvalidSignature
}
