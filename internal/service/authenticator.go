package service

import (
	"context"
	"errors"
	"time"

	pkgcrypto "github.com/and161185/sessionkeeper/internal/crypto"
	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/events"
	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/and161185/sessionkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// Gate rejection reasons.
const (
	ReasonNoCredentials = "no_credentials"
	ReasonAccessInvalid = "access_invalid"
	ReasonRefreshFailed = "refresh_failed"
)

// Credentials are the raw values a transport extracted from a request.
type Credentials struct {
	Access    string
	Refresh   string
	IP        string
	UserAgent string
	Path      string
}

// Result is an authenticated request. Renewed is set when the access
// credential was re-minted from the refresh credential.
type Result struct {
	AccountID uuid.UUID
	Renewed   *model.Tokens
}

// Refresher mints a new access credential from a refresh credential.
type Refresher interface {
	Refresh(ctx context.Context, refresh string) (model.Tokens, error)
}

// Authenticator resolves request credentials to an account.
type Authenticator struct {
	codec     *pkgcrypto.Codec
	accounts  repository.AccountDirectory
	refresher Refresher
	sink      events.Sink
	now       func() time.Time
}

// AuthenticatorOption customizes an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithAuthenticatorClock sets the clock used for event timestamps.
func WithAuthenticatorClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator constructs an Authenticator. A nil sink discards events.
func NewAuthenticator(codec *pkgcrypto.Codec, accounts repository.AccountDirectory, refresher Refresher, sink events.Sink, opts ...AuthenticatorOption) *Authenticator {
	if sink == nil {
		sink = events.Nop{}
	}
	a := &Authenticator{codec: codec, accounts: accounts, refresher: refresher, sink: sink, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Authenticate accepts a valid access credential without touching the session
// store and falls back to silent renewal through the refresh credential.
// Rejections are always errs.ErrUnauthorized; storage failures are returned as is.
func (a *Authenticator) Authenticate(ctx context.Context, c Credentials) (Result, error) {
	reason := ReasonNoCredentials
	if c.Access != "" {
		claims, err := a.codec.VerifyAccess(c.Access)
		if err == nil {
			_, err = a.accounts.FindByID(ctx, claims.AccountID)
			switch {
			case err == nil:
				return Result{AccountID: claims.AccountID}, nil
			case !errors.Is(err, errs.ErrNotFound):
				return Result{}, err
			}
			// the account is gone, refreshing would fail the same way
			return Result{}, a.reject(ctx, c, claims.AccountID, ReasonAccountMissing)
		}
		reason = ReasonAccessInvalid
	}

	if c.Refresh == "" {
		return Result{}, a.reject(ctx, c, uuid.Nil, reason)
	}

	t, err := a.refresher.Refresh(ctx, c.Refresh)
	switch {
	case err == nil:
		return Result{AccountID: t.AccountID, Renewed: &t}, nil
	case errors.Is(err, errs.ErrUnauthorized):
		return Result{}, a.reject(ctx, c, uuid.Nil, ReasonRefreshFailed)
	default:
		return Result{}, err
	}
}

func (a *Authenticator) reject(ctx context.Context, c Credentials, id uuid.UUID, reason string) error {
	a.sink.Emit(ctx, events.Event{
		Kind:      events.KindRejected,
		AccountID: id,
		Reason:    reason,
		IP:        c.IP,
		UserAgent: c.UserAgent,
		Path:      c.Path,
		At:        a.now(),
	})
	return errs.ErrUnauthorized
}
