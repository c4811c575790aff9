package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is used when no issuer is configured.
const DefaultIssuer = "sessionkeeper"

const (
	audienceAccess  = "access"
	audienceRefresh = "refresh"
)

// Claims is the verified content of an access or refresh credential.
type Claims struct {
	AccountID uuid.UUID
	ID        string // jti
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and verifies HS256 credentials. It holds no mutable state.
type Codec struct {
	keys       Keys
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for iat/exp and verification.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIssuer sets the iss claim written and required on verification.
func WithIssuer(iss string) CodecOption {
	return func(c *Codec) {
		if iss != "" {
			c.issuer = iss
		}
	}
}

// NewCodec validates keys and TTLs and constructs a Codec.
func NewCodec(keys Keys, accessTTL, refreshTTL time.Duration, opts ...CodecOption) (*Codec, error) {
	if err := keys.Validate(); err != nil {
		return nil, err
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("codec: ttl must be positive")
	}
	c := &Codec{
		keys:       keys,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     DefaultIssuer,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// AccessTTL returns the access credential lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the refresh credential lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs a short-lived access credential for accountID.
func (c *Codec) IssueAccess(accountID uuid.UUID) (string, Claims, error) {
	return c.issue(accountID, c.keys.Access, audienceAccess, c.accessTTL)
}

// IssueRefresh signs a long-lived refresh credential with the refresh key.
func (c *Codec) IssueRefresh(accountID uuid.UUID) (string, Claims, error) {
	return c.issue(accountID, c.keys.Refresh, audienceRefresh, c.refreshTTL)
}

// VerifyAccess checks signature, issuer, audience and expiry of an access credential.
func (c *Codec) VerifyAccess(signed string) (Claims, error) {
	return c.verify(signed, c.keys.Access, audienceAccess)
}

// VerifyRefresh checks signature, issuer, audience and expiry of a refresh credential.
func (c *Codec) VerifyRefresh(signed string) (Claims, error) {
	return c.verify(signed, c.keys.Refresh, audienceRefresh)
}

func (c *Codec) issue(accountID uuid.UUID, key []byte, aud string, ttl time.Duration) (string, Claims, error) {
	jti, err := RandBytes(16)
	if err != nil {
		return "", Claims{}, err
	}
	// exp is persisted next to the refresh record, so both must agree to the second.
	now := c.now().Truncate(jwt.TimePrecision)
	exp := now.Add(ttl)
	rc := jwt.RegisteredClaims{
		ID:        hex.EncodeToString(jti),
		Subject:   accountID.String(),
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings{aud},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString(key)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, Claims{AccountID: accountID, ID: rc.ID, IssuedAt: now, ExpiresAt: exp}, nil
}

func (c *Codec) verify(signed string, key []byte, aud string) (Claims, error) {
	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(signed, &rc,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(aud),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, errs.ErrExpired
	default:
		return Claims{}, fmt.Errorf("%w: %w", errs.ErrInvalidSignature, err)
	}

	id, err := uuid.FromString(rc.Subject)
	if err != nil || id == uuid.Nil {
		return Claims{}, fmt.Errorf("%w: bad subject", errs.ErrInvalidSignature)
	}
	out := Claims{AccountID: id, ID: rc.ID}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	out.ExpiresAt = rc.ExpiresAt.Time
	return out, nil
}
