package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process ledger used for local development and tests. It
// keeps balances under a mutex and hands out uuid transaction references.
type Memory struct {
	mu       sync.Mutex
	balances map[[20]byte]*big.Int
	// failErr, when non-nil, is returned by the Transfer call failAfter
	// calls from now and then cleared. Tests use it to exercise
	// compensation paths.
	failErr   error
	failAfter int
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[[20]byte]*big.Int)}
}

// Mint credits addr with amount outside of any transfer flow.
func (m *Memory) Mint(addr [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(addr, amount)
}

// FailNextTransfer arms the ledger to fail its next Transfer call with err.
func (m *Memory) FailNextTransfer(err error) {
	m.FailTransferAfter(0, err)
}

// FailTransferAfter arms the ledger to fail the transfer n calls from now
// with err. Intermediate transfers proceed normally.
func (m *Memory) FailTransferAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	m.failAfter = n
}

// BalanceOf implements the Ledger interface.
func (m *Memory) BalanceOf(_ context.Context, addr [20]byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

// Transfer implements the Ledger interface.
func (m *Memory) Transfer(ctx context.Context, from, to [20]byte, amount *big.Int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: non-positive amount", ErrTransferRejected)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		if m.failAfter == 0 {
			err := m.failErr
			m.failErr = nil
			return "", err
		}
		m.failAfter--
	}
	bal, ok := m.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return "", fmt.Errorf("%w: balance below %s", ErrInsufficientFunds, amount)
	}
	bal.Sub(bal, amount)
	m.credit(to, amount)
	return uuid.NewString(), nil
}

func (m *Memory) credit(addr [20]byte, amount *big.Int) {
	if bal, ok := m.balances[addr]; ok {
		bal.Add(bal, amount)
		return
	}
	m.balances[addr] = new(big.Int).Set(amount)
}
