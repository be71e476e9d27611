package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrSigningFailed indicates the signing backend rejected or failed the
	// request.
	ErrSigningFailed = errors.New("signer: signing failed")
	// ErrInvalidDigest indicates a digest that is not 32 bytes.
	ErrInvalidDigest = errors.New("signer: digest must be 32 bytes")
)

// Signer produces signatures and deterministic addresses on behalf of the
// coordination service. Implementations back onto a local key or a threshold
// signing service.
type Signer interface {
	// Sign signs a 32-byte digest and returns a 65-byte [R || S || V]
	// signature.
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	// PublicKey returns the uncompressed secp256k1 public key.
	PublicKey() []byte
	// DeriveAddress derives a deterministic address from the service key
	// and the supplied derivation seed. The same seed always yields the
	// same address, which lets escrow vaults be recomputed on demand.
	DeriveAddress(seed []byte) [20]byte
}

// Local is a Signer backed by an in-process secp256k1 key. It serves local
// development and tests; production deployments substitute a threshold
// signing client.
type Local struct {
	key *ecdsa.PrivateKey
}

// NewLocal creates a Local signer with a fresh key.
func NewLocal() (*Local, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return &Local{key: key}, nil
}

// NewLocalFromHex creates a Local signer from a hex-encoded private key.
func NewLocalFromHex(hexKey string) (*Local, error) {
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return &Local{key: key}, nil
}

// Sign implements the Signer interface.
func (l *Local) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	if len(digest) != 32 {
		return nil, ErrInvalidDigest
	}
	sig, err := ethcrypto.Sign(digest, l.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return sig, nil
}

// PublicKey implements the Signer interface.
func (l *Local) PublicKey() []byte {
	return ethcrypto.FromECDSAPub(&l.key.PublicKey)
}

// DeriveAddress implements the Signer interface. The derived address is the
// keccak hash of the service public key and the seed.
func (l *Local) DeriveAddress(seed []byte) [20]byte {
	digest := ethcrypto.Keccak256(l.PublicKey(), seed)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}
