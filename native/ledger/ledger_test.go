package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func TestMemoryTransfer(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	alice, bob := addr(1), addr(2)
	mem.Mint(alice, big.NewInt(100))

	ref, err := mem.Transfer(ctx, alice, bob, big.NewInt(40))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if ref == "" {
		t.Fatalf("expected transaction reference")
	}
	aliceBal, _ := mem.BalanceOf(ctx, alice)
	bobBal, _ := mem.BalanceOf(ctx, bob)
	if aliceBal.Int64() != 60 || bobBal.Int64() != 40 {
		t.Fatalf("unexpected balances: alice=%s bob=%s", aliceBal, bobBal)
	}
}

func TestMemoryTransferInsufficient(t *testing.T) {
	mem := NewMemory()
	if _, err := mem.Transfer(context.Background(), addr(1), addr(2), big.NewInt(5)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestMemoryTransferRejectsNonPositive(t *testing.T) {
	mem := NewMemory()
	if _, err := mem.Transfer(context.Background(), addr(1), addr(2), big.NewInt(0)); !errors.Is(err, ErrTransferRejected) {
		t.Fatalf("expected ErrTransferRejected, got %v", err)
	}
}

func TestMemoryFailNextTransfer(t *testing.T) {
	mem := NewMemory()
	mem.Mint(addr(1), big.NewInt(10))
	mem.FailNextTransfer(ErrCallFailed)
	if _, err := mem.Transfer(context.Background(), addr(1), addr(2), big.NewInt(1)); !errors.Is(err, ErrCallFailed) {
		t.Fatalf("expected armed failure, got %v", err)
	}
	// Failure is consumed; the next transfer succeeds.
	if _, err := mem.Transfer(context.Background(), addr(1), addr(2), big.NewInt(1)); err != nil {
		t.Fatalf("second transfer: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	mem := NewMemory()
	if err := reg.Register(" icp ", mem); err != nil {
		t.Fatalf("register: %v", err)
	}
	l, err := reg.Resolve("ICP")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if l != Ledger(mem) {
		t.Fatalf("resolved wrong ledger")
	}
	if _, err := reg.Resolve("ETH"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
	if _, err := reg.Resolve("  "); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken for empty symbol, got %v", err)
	}
}
