package order

import (
	"errors"
	"math/big"
	"testing"
)

func TestRequiredSecretIndexInOrder(t *testing.T) {
	making := big.NewInt(1_000)
	filled := big.NewInt(0)
	quarter := big.NewInt(250)
	for want := uint32(0); want < 4; want++ {
		idx, err := RequiredSecretIndex(filled, quarter, making, 4)
		if err != nil {
			t.Fatalf("index for fill %d: %v", want, err)
		}
		if idx != want {
			t.Fatalf("index = %d, want %d", idx, want)
		}
		filled = new(big.Int).Add(filled, quarter)
	}
}

func TestRequiredSecretIndexPartialBoundaries(t *testing.T) {
	making := big.NewInt(1_000)
	// A half fill from empty crosses two part boundaries; the second part's
	// secret gates it.
	idx, err := RequiredSecretIndex(big.NewInt(0), big.NewInt(500), making, 4)
	if err != nil {
		t.Fatalf("half fill: %v", err)
	}
	if idx != 1 {
		t.Fatalf("half fill index = %d, want 1", idx)
	}
	// A fill that lands inside the first part uses index 0.
	idx, err = RequiredSecretIndex(big.NewInt(0), big.NewInt(1), making, 4)
	if err != nil {
		t.Fatalf("tiny fill: %v", err)
	}
	if idx != 0 {
		t.Fatalf("tiny fill index = %d, want 0", idx)
	}
	// Completing the order uses the final index.
	idx, err = RequiredSecretIndex(big.NewInt(900), big.NewInt(100), making, 4)
	if err != nil {
		t.Fatalf("closing fill: %v", err)
	}
	if idx != 3 {
		t.Fatalf("closing fill index = %d, want 3", idx)
	}
}

func TestRequiredSecretIndexRejectsOverfill(t *testing.T) {
	making := big.NewInt(1_000)
	if _, err := RequiredSecretIndex(big.NewInt(900), big.NewInt(200), making, 4); !errors.Is(err, ErrInsufficientRemaining) {
		t.Fatalf("expected ErrInsufficientRemaining, got %v", err)
	}
	if _, err := RequiredSecretIndex(big.NewInt(0), big.NewInt(0), making, 4); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := RequiredSecretIndex(big.NewInt(0), big.NewInt(100), big.NewInt(0), 4); !errors.Is(err, ErrInvalidSecretIndex) {
		t.Fatalf("expected ErrInvalidSecretIndex, got %v", err)
	}
}

func TestTakingForMakingRoundsUp(t *testing.T) {
	price := big.NewInt(500)
	making := big.NewInt(1_000)
	// 500 * 333 / 1000 = 166.5, rounded up.
	if got := TakingForMaking(price, big.NewInt(333), making); got.Int64() != 167 {
		t.Fatalf("taking = %s, want 167", got)
	}
	// Exact division stays exact.
	if got := TakingForMaking(price, big.NewInt(500), making); got.Int64() != 250 {
		t.Fatalf("taking = %s, want 250", got)
	}
	// A full fill pays the whole price.
	if got := TakingForMaking(price, making, making); got.Int64() != 500 {
		t.Fatalf("taking = %s, want 500", got)
	}
}
