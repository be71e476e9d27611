package htlc

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// SecretSize is the required length in bytes of a hashlock preimage.
const SecretSize = 32

var (
	// ErrInvalidHashlock indicates a hashlock that is malformed or all zero.
	ErrInvalidHashlock = errors.New("htlc: invalid hashlock")
	// ErrInvalidSecret indicates a preimage that is malformed or does not
	// match the committed hashlock.
	ErrInvalidSecret = errors.New("htlc: invalid secret")
)

// Hashlock is a SHA-256 commitment to a 32-byte secret.
type Hashlock [32]byte

// NewHashlock commits to the supplied secret. The secret must be exactly
// SecretSize bytes.
func NewHashlock(secret []byte) (Hashlock, error) {
	if len(secret) != SecretSize {
		return Hashlock{}, fmt.Errorf("%w: secret must be %d bytes, got %d", ErrInvalidSecret, SecretSize, len(secret))
	}
	return Hashlock(sha256.Sum256(secret)), nil
}

// Verify reports whether the supplied secret is the preimage of the hashlock.
// Comparison is constant time.
func (h Hashlock) Verify(secret []byte) bool {
	if len(secret) != SecretSize {
		return false
	}
	digest := sha256.Sum256(secret)
	return subtle.ConstantTimeCompare(digest[:], h[:]) == 1
}

// IsZero reports whether the hashlock is the zero value. A zero hashlock is
// never a valid commitment.
func (h Hashlock) IsZero() bool { return h == Hashlock{} }

// String renders the hashlock as lowercase hex.
func (h Hashlock) String() string { return hex.EncodeToString(h[:]) }

// ParseHashlock decodes a hex-encoded hashlock.
func ParseHashlock(s string) (Hashlock, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hashlock{}, fmt.Errorf("%w: %v", ErrInvalidHashlock, err)
	}
	if len(raw) != 32 {
		return Hashlock{}, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidHashlock, len(raw))
	}
	var h Hashlock
	copy(h[:], raw)
	if h.IsZero() {
		return Hashlock{}, fmt.Errorf("%w: zero commitment", ErrInvalidHashlock)
	}
	return h, nil
}
