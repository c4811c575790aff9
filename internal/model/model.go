// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// RevokeReason records why a session stopped being usable.
type RevokeReason string

const (
	ReasonLogout         RevokeReason = "logout"
	ReasonRotation       RevokeReason = "rotation"
	ReasonReuseDetected  RevokeReason = "reuse_detected"
	ReasonAdmin          RevokeReason = "admin"
	ReasonExpiredCleanup RevokeReason = "expired_cleanup"
	// ReasonSuperseded marks sessions closed by a newer issuance for the same account.
	ReasonSuperseded RevokeReason = "superseded"
)

// Valid reports whether r is one of the known reasons.
func (r RevokeReason) Valid() bool {
	switch r {
	case ReasonLogout, ReasonRotation, ReasonReuseDetected, ReasonAdmin, ReasonExpiredCleanup, ReasonSuperseded:
		return true
	}
	return false
}

// Session is a persisted refresh credential record. The raw credential is never stored.
type Session struct {
	TokenID   string    // ULID, independent of the signed payload
	AccountID uuid.UUID // owner
	TokenHash string    // hex sha256 of the signed refresh value
	IssuedAt  time.Time
	ExpiresAt time.Time // equals the signed exp

	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason RevokeReason
	ReplacedBy    string // successor TokenID after rotation

	IssuingIP string // informational only
	Device    string // informational only
}

// ActiveAt reports whether the session can still be used at t.
func (s *Session) ActiveAt(t time.Time) bool {
	return !s.Revoked && t.Before(s.ExpiresAt)
}

// Account is the slice of the external user record the session core relies on.
type Account struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

// Metadata describes the request that triggers issuance or rotation.
type Metadata struct {
	IP        string
	UserAgent string
}

// Tokens collects issued access/refresh credentials. Refresh is empty on
// access-only renewal.
type Tokens struct {
	AccountID        uuid.UUID
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}
