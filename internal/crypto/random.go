// Package crypto implements the server-side credential codec, key provisioning
// and refresh credential hashing.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashRefresh returns the hex SHA-256 of a signed refresh credential.
// Only this digest is persisted; lookups go by digest.
func HashRefresh(signed string) string {
	h := sha256.Sum256([]byte(signed))
	return hex.EncodeToString(h[:])
}
