package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var (
	// ErrInsufficientFunds indicates the ledger rejected a transfer because
	// the sender balance does not cover the amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrTransferRejected indicates the ledger refused the transfer for a
	// reason other than balance (frozen account, policy, bad memo).
	ErrTransferRejected = errors.New("ledger: transfer rejected")
	// ErrCallFailed indicates the ledger could not be reached or returned
	// a transport-level failure. The operation outcome is unknown.
	ErrCallFailed = errors.New("ledger: call failed")
	// ErrUnknownToken indicates no ledger is registered for the token.
	ErrUnknownToken = errors.New("ledger: unknown token")
)

// Ledger abstracts the token ledger of a single chain. Implementations are
// expected to be safe for concurrent use. Transfer is not assumed idempotent;
// callers own retry and compensation semantics.
type Ledger interface {
	// BalanceOf returns the spendable balance of addr.
	BalanceOf(ctx context.Context, addr [20]byte) (*big.Int, error)
	// Transfer moves amount from the sender to the recipient and returns a
	// ledger transaction reference.
	Transfer(ctx context.Context, from, to [20]byte, amount *big.Int) (string, error)
}

// Registry resolves token symbols to their ledgers.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[string]Ledger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[string]Ledger)}
}

// NormalizeToken canonicalises a token symbol. Empty symbols are rejected.
func NormalizeToken(token string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(token))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty token symbol", ErrUnknownToken)
	}
	return trimmed, nil
}

// Register binds a ledger to a token symbol, replacing any previous binding.
func (r *Registry) Register(token string, l Ledger) error {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("%w: nil ledger for %s", ErrUnknownToken, normalized)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[normalized] = l
	return nil
}

// Resolve returns the ledger registered for the token.
func (r *Registry) Resolve(token string) (Ledger, error) {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, normalized)
	}
	return l, nil
}

// Tokens lists the registered token symbols.
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ledgers))
	for token := range r.ledgers {
		out = append(out, token)
	}
	return out
}
