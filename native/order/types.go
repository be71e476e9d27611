package order

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"fusiond/native/htlc"
	"fusiond/native/ledger"
)

// Limits mirrored from the coordination service defaults.
const (
	// MinExpiration is the shortest distance between creation and expiry.
	MinExpiration = time.Minute
	// MaxExpiration is the longest distance between creation and expiry.
	MaxExpiration = 30 * 24 * time.Hour
	// DefaultMaxActiveOrders bounds the number of simultaneously open
	// orders across all makers.
	DefaultMaxActiveOrders = 10_000
	// DefaultMaxOrdersPerMaker bounds the number of simultaneously open
	// orders per maker.
	DefaultMaxOrdersPerMaker = 100
)

// Status tracks the lifecycle of an order.
type Status uint8

const (
	// StatusPending means the order is open for fills.
	StatusPending Status = iota + 1
	// StatusAccepted means a fill is settling its transfer legs.
	StatusAccepted
	// StatusCompleted means the order has been fully filled.
	StatusCompleted
	// StatusFailed means a fill moved funds it could not compensate.
	StatusFailed
	// StatusCancelled means the maker withdrew the order.
	StatusCancelled
	// StatusExpired means the order lapsed before being taken.
	StatusExpired
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ParseStatus converts a status name into its enum value.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, nil
	case "accepted":
		return StatusAccepted, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "cancelled":
		return StatusCancelled, nil
	case "expired":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("unknown order status %q", raw)
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled || s == StatusExpired
}

// Fill records one settled fill against an order.
type Fill struct {
	Resolver     [20]byte `json:"resolver"`
	MakingAmount *big.Int `json:"makingAmount"`
	TakingAmount *big.Int `json:"takingAmount"`
	SecretIndex  uint32   `json:"secretIndex"`
	TxRefs       []string `json:"txRefs,omitempty"`
	FilledAt     int64    `json:"filledAt"`
}

// Order is a maker's standing offer to swap MakingAmount of MakerAsset for
// TakingAmount of TakerAsset, optionally discovered through a Dutch auction
// and optionally splittable into parts.
type Order struct {
	ID           uint64   `json:"id"`
	Maker        [20]byte `json:"maker"`
	// Receiver is credited with the taker asset; defaults to the maker.
	Receiver     [20]byte `json:"receiver"`
	MakerAsset   string   `json:"makerAsset"`
	TakerAsset   string   `json:"takerAsset"`
	MakingAmount *big.Int `json:"makingAmount"`
	TakingAmount *big.Int `json:"takingAmount"`
	// ExclusiveTaker, when non-zero, restricts fills to a single resolver.
	ExclusiveTaker [20]byte `json:"exclusiveTaker,omitempty"`
	Expiration     int64    `json:"expiration"`
	Status         Status   `json:"status"`
	Auction        *AuctionParams `json:"auction,omitempty"`
	// PartsCount above one enables partial fills; SecretHashes then holds
	// one commitment per part.
	PartsCount   uint32          `json:"partsCount"`
	SecretHashes []htlc.Hashlock `json:"secretHashes,omitempty"`
	Fills        []Fill          `json:"fills,omitempty"`
	FilledMaking *big.Int        `json:"filledMaking"`
	// Signature is the maker's authorization blob. Format-checked only;
	// cryptographic verification happens outside the engine.
	Signature []byte `json:"signature,omitempty"`
	// Filling guards the transfer legs of an in-flight fill.
	Filling   bool  `json:"filling,omitempty"`
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.MakingAmount != nil {
		cp.MakingAmount = new(big.Int).Set(o.MakingAmount)
	}
	if o.TakingAmount != nil {
		cp.TakingAmount = new(big.Int).Set(o.TakingAmount)
	}
	if o.FilledMaking != nil {
		cp.FilledMaking = new(big.Int).Set(o.FilledMaking)
	}
	cp.Auction = o.Auction.Clone()
	if o.SecretHashes != nil {
		cp.SecretHashes = append([]htlc.Hashlock(nil), o.SecretHashes...)
	}
	if o.Signature != nil {
		cp.Signature = append([]byte(nil), o.Signature...)
	}
	if o.Fills != nil {
		cp.Fills = make([]Fill, len(o.Fills))
		for i, f := range o.Fills {
			cp.Fills[i] = f
			if f.MakingAmount != nil {
				cp.Fills[i].MakingAmount = new(big.Int).Set(f.MakingAmount)
			}
			if f.TakingAmount != nil {
				cp.Fills[i].TakingAmount = new(big.Int).Set(f.TakingAmount)
			}
			if f.TxRefs != nil {
				cp.Fills[i].TxRefs = append([]string(nil), f.TxRefs...)
			}
		}
	}
	return &cp
}

// RemainingMaking returns the unfilled portion of the making amount.
func (o *Order) RemainingMaking() *big.Int {
	remaining := new(big.Int).Set(o.MakingAmount)
	if o.FilledMaking != nil {
		remaining.Sub(remaining, o.FilledMaking)
	}
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// PartialFillEnabled reports whether the order may be filled in parts.
func (o *Order) PartialFillEnabled() bool { return o.PartsCount > 1 }

// Validate checks the structural invariants of the order against the given
// creation time.
func (o *Order) Validate(now int64) error {
	if o == nil {
		return fmt.Errorf("order engine: nil order")
	}
	if o.MakingAmount == nil || o.MakingAmount.Sign() <= 0 {
		return fmt.Errorf("%w: making amount must be positive", ErrInvalidAmount)
	}
	if o.TakingAmount == nil || o.TakingAmount.Sign() <= 0 {
		return fmt.Errorf("%w: taking amount must be positive", ErrInvalidAmount)
	}
	makerAsset, err := ledger.NormalizeToken(o.MakerAsset)
	if err != nil {
		return fmt.Errorf("%w: maker asset: %v", ErrInvalidAssetPair, err)
	}
	takerAsset, err := ledger.NormalizeToken(o.TakerAsset)
	if err != nil {
		return fmt.Errorf("%w: taker asset: %v", ErrInvalidAssetPair, err)
	}
	if makerAsset == takerAsset {
		return fmt.Errorf("%w: assets must differ", ErrInvalidAssetPair)
	}
	minExp := now + int64(MinExpiration/time.Second)
	maxExp := now + int64(MaxExpiration/time.Second)
	if o.Expiration < minExp || o.Expiration > maxExp {
		return fmt.Errorf("%w: expiration %d outside [%d, %d]", ErrInvalidExpiration, o.Expiration, minExp, maxExp)
	}
	if o.Maker == ([20]byte{}) {
		return fmt.Errorf("order engine: maker required")
	}
	if len(o.Signature) > 0 && len(o.Signature) != 65 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(o.Signature))
	}
	if o.Auction != nil {
		if err := o.Auction.Validate(now, o.Expiration); err != nil {
			return err
		}
	}
	if o.PartsCount == 0 {
		return fmt.Errorf("order engine: parts count must be at least one")
	}
	if o.PartialFillEnabled() {
		if len(o.SecretHashes) != int(o.PartsCount) {
			return fmt.Errorf("order engine: %d secret hashes for %d parts", len(o.SecretHashes), o.PartsCount)
		}
		for i, h := range o.SecretHashes {
			if h.IsZero() {
				return fmt.Errorf("%w: secret hash %d is zero", htlc.ErrInvalidHashlock, i)
			}
		}
	}
	return nil
}
