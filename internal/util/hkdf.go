package util

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DerivedKeyLength is the size of every key DeriveKey returns.
const DerivedKeyLength = 32

// ErrEmptySecret is returned when a key would be derived from no secret.
var ErrEmptySecret = errors.New("empty secret")

// DeriveKey expands secret into a purpose-bound key with HKDF-SHA256. The
// label separates uses sharing one secret: the per-session CSRF token MACs
// (salted per token) and the wrapping key for the persistent session store
// (unsalted, derived from SESSION_SECRET).
func DeriveKey(secret, salt []byte, label string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if label == "" {
		return nil, errors.New("key label is required")
	}
	k := make([]byte, DerivedKeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(label)), k); err != nil {
		return nil, fmt.Errorf("deriving %s: %w", label, err)
	}
	return k, nil
}
