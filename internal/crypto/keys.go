package crypto

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinKeyLen is the minimal accepted HMAC secret length in bytes.
const MinKeyLen = 32

const (
	accessKeyInfo  = "sessionkeeper/access/v1"
	refreshKeyInfo = "sessionkeeper/refresh/v1"
)

// Keys holds the process-wide signing secrets. Access and Refresh must differ.
type Keys struct {
	Access  []byte
	Refresh []byte
}

// Validate checks length and separation of both secrets.
func (k Keys) Validate() error {
	if len(k.Access) < MinKeyLen {
		return fmt.Errorf("access secret: need at least %d bytes", MinKeyLen)
	}
	if len(k.Refresh) < MinKeyLen {
		return fmt.Errorf("refresh secret: need at least %d bytes", MinKeyLen)
	}
	if bytes.Equal(k.Access, k.Refresh) {
		return errors.New("access and refresh secrets must differ")
	}
	return nil
}

// DeriveKeys expands a single master secret into two independent keys with HKDF-SHA256.
func DeriveKeys(master []byte) (Keys, error) {
	if len(master) < MinKeyLen {
		return Keys{}, fmt.Errorf("master secret: need at least %d bytes", MinKeyLen)
	}
	access, err := expand(master, accessKeyInfo)
	if err != nil {
		return Keys{}, err
	}
	refresh, err := expand(master, refreshKeyInfo)
	if err != nil {
		return Keys{}, err
	}
	return Keys{Access: access, Refresh: refresh}, nil
}

// LoadKeys prefers explicit secrets and falls back to deriving both from master.
func LoadKeys(access, refresh, master string) (Keys, error) {
	var k Keys
	switch {
	case access != "" || refresh != "":
		k = Keys{Access: []byte(access), Refresh: []byte(refresh)}
	case master != "":
		var err error
		if k, err = DeriveKeys([]byte(master)); err != nil {
			return Keys{}, err
		}
	default:
		return Keys{}, errors.New("no signing secrets configured")
	}
	if err := k.Validate(); err != nil {
		return Keys{}, err
	}
	return k, nil
}

func expand(master []byte, info string) ([]byte, error) {
	out := make([]byte, MinKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf %s: %w", info, err)
	}
	return out, nil
}
