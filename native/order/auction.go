package order

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalidAuction indicates a malformed auction curve.
var ErrInvalidAuction = errors.New("order engine: invalid auction parameters")

// PriceSegment is one linear piece of a Dutch auction curve. Between Start
// and End (unix seconds) the price moves linearly from StartPrice to
// EndPrice.
type PriceSegment struct {
	Start      int64    `json:"start"`
	End        int64    `json:"end"`
	StartPrice *big.Int `json:"startPrice"`
	EndPrice   *big.Int `json:"endPrice"`
}

// AuctionParams describes a piecewise-linear Dutch auction. Segments are
// ordered by time; the price before the first segment is the first start
// price and after the last segment it stays clamped at the final end price.
type AuctionParams struct {
	Segments []PriceSegment `json:"segments"`
}

// Clone returns a deep copy of the auction parameters.
func (a *AuctionParams) Clone() *AuctionParams {
	if a == nil {
		return nil
	}
	cp := &AuctionParams{Segments: make([]PriceSegment, len(a.Segments))}
	for i, s := range a.Segments {
		cp.Segments[i] = s
		if s.StartPrice != nil {
			cp.Segments[i].StartPrice = new(big.Int).Set(s.StartPrice)
		}
		if s.EndPrice != nil {
			cp.Segments[i].EndPrice = new(big.Int).Set(s.EndPrice)
		}
	}
	return cp
}

// Validate checks the curve: at least one segment, positive prices, segments
// strictly ordered in time, prices non-increasing across the whole curve,
// and the curve contained within the order's lifetime.
func (a *AuctionParams) Validate(now, expiration int64) error {
	if a == nil || len(a.Segments) == 0 {
		return fmt.Errorf("%w: no segments", ErrInvalidAuction)
	}
	prevEnd := int64(0)
	var prevPrice *big.Int
	for i, s := range a.Segments {
		if s.StartPrice == nil || s.StartPrice.Sign() <= 0 || s.EndPrice == nil || s.EndPrice.Sign() <= 0 {
			return fmt.Errorf("%w: segment %d prices must be positive", ErrInvalidAuction, i)
		}
		if s.End <= s.Start {
			return fmt.Errorf("%w: segment %d end before start", ErrInvalidAuction, i)
		}
		if s.Start < prevEnd {
			return fmt.Errorf("%w: segment %d overlaps previous", ErrInvalidAuction, i)
		}
		if s.EndPrice.Cmp(s.StartPrice) > 0 {
			return fmt.Errorf("%w: segment %d price increases", ErrInvalidAuction, i)
		}
		if prevPrice != nil && s.StartPrice.Cmp(prevPrice) > 0 {
			return fmt.Errorf("%w: segment %d starts above previous end price", ErrInvalidAuction, i)
		}
		prevEnd = s.End
		prevPrice = s.EndPrice
	}
	if a.Segments[len(a.Segments)-1].End > expiration {
		return fmt.Errorf("%w: auction outlives order expiration", ErrInvalidAuction)
	}
	return nil
}

// PriceAt evaluates the curve at now. Before the curve begins the opening
// price holds; inside a segment the price interpolates linearly; in a gap
// between segments and after the curve ends the last reached price holds.
func (a *AuctionParams) PriceAt(now int64) *big.Int {
	first := a.Segments[0]
	if now <= first.Start {
		return new(big.Int).Set(first.StartPrice)
	}
	for _, s := range a.Segments {
		if now < s.Start {
			break
		}
		if now < s.End {
			return interpolate(s, now)
		}
	}
	// now sits in a gap or past the end; the most recent end price holds.
	price := new(big.Int).Set(first.StartPrice)
	for _, s := range a.Segments {
		if now >= s.End {
			price = new(big.Int).Set(s.EndPrice)
		}
	}
	return price
}

func interpolate(s PriceSegment, now int64) *big.Int {
	elapsed := big.NewInt(now - s.Start)
	span := big.NewInt(s.End - s.Start)
	drop := new(big.Int).Sub(s.StartPrice, s.EndPrice)
	drop.Mul(drop, elapsed)
	drop.Div(drop, span)
	return new(big.Int).Sub(s.StartPrice, drop)
}

// ProfitableAt reports whether taking the order at now, paying fee on top of
// the current price, stays within the order's taking amount.
func (o *Order) ProfitableAt(now int64, fee *big.Int) bool {
	cost := new(big.Int).Set(o.PriceAt(now))
	if fee != nil {
		cost.Add(cost, fee)
	}
	return cost.Cmp(o.TakingAmount) <= 0
}

// PriceAt returns the order's current taking price: the auction price when a
// curve is configured, otherwise the fixed taking amount.
func (o *Order) PriceAt(now int64) *big.Int {
	if o.Auction != nil {
		return o.Auction.PriceAt(now)
	}
	return new(big.Int).Set(o.TakingAmount)
}
