package order

import (
	"fmt"
	"math/big"
)

// RequiredSecretIndex returns the secret index a resolver must present for a
// fill that raises the cumulative filled making amount from alreadyFilled to
// alreadyFilled+fill, for an order of making total split into parts.
//
// The index is derived from the cumulative fill percentage after the fill,
// which forces secrets to be consumed in order: index i unlocks once the
// cumulative fill crosses (i+1)/parts of the making amount, rounding up.
func RequiredSecretIndex(alreadyFilled, fill, making *big.Int, parts uint32) (uint32, error) {
	if making == nil || making.Sign() <= 0 || parts == 0 {
		return 0, fmt.Errorf("%w: order not splittable", ErrInvalidSecretIndex)
	}
	if fill == nil || fill.Sign() <= 0 {
		return 0, fmt.Errorf("%w: fill must be positive", ErrInvalidAmount)
	}
	cumulative := new(big.Int).Set(fill)
	if alreadyFilled != nil {
		cumulative.Add(cumulative, alreadyFilled)
	}
	if cumulative.Cmp(making) > 0 {
		return 0, fmt.Errorf("%w: fill exceeds making amount", ErrInsufficientRemaining)
	}
	// ceil(cumulative*parts/making) - 1
	num := new(big.Int).Mul(cumulative, new(big.Int).SetUint64(uint64(parts)))
	num.Add(num, new(big.Int).Sub(making, big.NewInt(1)))
	num.Div(num, making)
	idx := num.Uint64() - 1
	if idx >= uint64(parts) {
		return 0, fmt.Errorf("%w: index %d out of range", ErrInvalidSecretIndex, idx)
	}
	return uint32(idx), nil
}

// TakingForMaking converts a making-side fill amount into the taking-side
// payment at the given unit price for the whole order, rounding up so the
// maker is never short-paid by truncation.
func TakingForMaking(price, fill, making *big.Int) *big.Int {
	owed := new(big.Int).Mul(price, fill)
	owed.Add(owed, new(big.Int).Sub(making, big.NewInt(1)))
	return owed.Div(owed, making)
}
