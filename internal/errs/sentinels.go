// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across codec/store/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent change won (unique index or compare-and-set miss).
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized is the only rejection callers outside the session core ever see.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReuseDetected indicates a revoked refresh credential was presented again.
	// Every session of the account has been revoked by the time it is returned.
	ErrReuseDetected = errors.New("refresh credential reuse detected")

	// ErrInvalidSignature indicates a malformed, forged or foreign-key credential.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrExpired indicates a well-formed credential past its expiry.
	ErrExpired = errors.New("expired")

	// ErrStorage indicates an infrastructure failure in the session store or account directory.
	ErrStorage = errors.New("storage failure")

	// ErrRateLimited indicates temporary lock due to repeated failed attempts.
	ErrRateLimited = errors.New("rate limited")
)

// Storage wraps err as ErrStorage, keeping the original chain intact.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
