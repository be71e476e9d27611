package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"fusiond/native/htlc"
	"fusiond/native/ledger"
)

// Role identifies which leg of a cross-chain swap an escrow secures.
type Role uint8

const (
	// RoleSource holds the maker's funds on the source chain. The taker
	// claims it with the secret; after expiry only the taker may trigger
	// the refund, which returns the deposit to the maker.
	RoleSource Role = iota + 1
	// RoleDestination holds the taker's funds on the destination chain.
	// Anyone may claim it for the maker with the secret; the taker refunds
	// after expiry.
	RoleDestination
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleDestination:
		return "destination"
	default:
		return "unknown"
	}
}

// Valid reports whether the role is a known value.
func (r Role) Valid() bool { return r == RoleSource || r == RoleDestination }

// Status tracks the lifecycle of a single escrow.
type Status uint8

const (
	// StatusCreated means the escrow exists but holds no funds yet.
	StatusCreated Status = iota + 1
	// StatusFunded means the deposit has landed in the vault.
	StatusFunded
	// StatusClaimed means the recipient took the funds with the secret.
	StatusClaimed
	// StatusRefunded means the funder recovered the deposit after expiry.
	StatusRefunded
	// StatusExpired means the escrow lapsed before it was ever funded.
	StatusExpired
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusFunded:
		return "funded"
	case StatusClaimed:
		return "claimed"
	case StatusRefunded:
		return "refunded"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ParseStatus converts a status name into its enum value.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "created":
		return StatusCreated, nil
	case "funded":
		return StatusFunded, nil
	case "claimed":
		return StatusClaimed, nil
	case "refunded":
		return StatusRefunded, nil
	case "expired":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("unknown escrow status %q", raw)
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusClaimed || s == StatusRefunded || s == StatusExpired
}

// Escrow is a hash time-locked deposit on one chain of a swap.
type Escrow struct {
	ID       [32]byte      `json:"id"`
	Role     Role          `json:"role"`
	Token    string        `json:"token"`
	Amount   *big.Int      `json:"amount"`
	Maker    [20]byte      `json:"maker"`
	Taker    [20]byte      `json:"taker"`
	Vault    [20]byte      `json:"vault"`
	Hashlock htlc.Hashlock `json:"hashlock"`
	Timelock int64         `json:"timelock"`
	Status   Status        `json:"status"`
	// Settling guards the ledger round trip of a claim or refund so a
	// concurrent settlement attempt is rejected instead of double spending
	// the vault.
	Settling  bool   `json:"settling,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	FundedAt  int64  `json:"fundedAt,omitempty"`
	SettledAt int64  `json:"settledAt,omitempty"`
	// Secret is the revealed preimage, recorded on claim.
	Secret []byte `json:"secret,omitempty"`
	// TxRefs are the ledger transaction references accumulated across
	// fund, claim and refund calls.
	TxRefs []string `json:"txRefs,omitempty"`
}

// Clone returns a deep copy of the escrow.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Amount != nil {
		cp.Amount = new(big.Int).Set(e.Amount)
	}
	if e.Secret != nil {
		cp.Secret = append([]byte(nil), e.Secret...)
	}
	if e.TxRefs != nil {
		cp.TxRefs = append([]string(nil), e.TxRefs...)
	}
	return &cp
}

// Funder returns the party expected to deposit into the vault.
func (e *Escrow) Funder() [20]byte {
	if e.Role == RoleDestination {
		return e.Taker
	}
	return e.Maker
}

// Recipient returns the party paid out on a successful claim.
func (e *Escrow) Recipient() [20]byte {
	if e.Role == RoleDestination {
		return e.Maker
	}
	return e.Taker
}

// Validate checks the structural invariants of the escrow.
func (e *Escrow) Validate() error {
	if e == nil {
		return fmt.Errorf("escrow engine: nil escrow")
	}
	if !e.Role.Valid() {
		return fmt.Errorf("escrow engine: invalid role %d", e.Role)
	}
	if _, err := ledger.NormalizeToken(e.Token); err != nil {
		return err
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if e.Hashlock.IsZero() {
		return htlc.ErrInvalidHashlock
	}
	if e.Maker == ([20]byte{}) || e.Taker == ([20]byte{}) {
		return fmt.Errorf("escrow engine: maker and taker required")
	}
	return nil
}
