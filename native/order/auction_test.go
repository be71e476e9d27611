package order

import (
	"errors"
	"math/big"
	"testing"
)

func segment(start, end, startPrice, endPrice int64) PriceSegment {
	return PriceSegment{
		Start:      start,
		End:        end,
		StartPrice: big.NewInt(startPrice),
		EndPrice:   big.NewInt(endPrice),
	}
}

func TestAuctionPriceInterpolation(t *testing.T) {
	a := &AuctionParams{Segments: []PriceSegment{segment(1_000, 2_000, 100, 50)}}
	cases := []struct {
		now  int64
		want int64
	}{
		{500, 100},   // before the curve
		{1_000, 100}, // opening
		{1_500, 75},  // midpoint
		{1_999, 50},  // just before close, floor of interpolation
		{2_000, 50},  // close
		{9_999, 50},  // clamped after the curve
	}
	for _, tc := range cases {
		if got := a.PriceAt(tc.now); got.Int64() != tc.want {
			t.Fatalf("price at %d = %s, want %d", tc.now, got, tc.want)
		}
	}
}

func TestAuctionGapHoldsPreviousEndPrice(t *testing.T) {
	a := &AuctionParams{Segments: []PriceSegment{
		segment(1_000, 2_000, 100, 80),
		segment(2_500, 3_000, 80, 60),
	}}
	if got := a.PriceAt(2_250); got.Int64() != 80 {
		t.Fatalf("gap price = %s, want 80", got)
	}
	if got := a.PriceAt(2_750); got.Int64() != 70 {
		t.Fatalf("second segment midpoint = %s, want 70", got)
	}
	if got := a.PriceAt(4_000); got.Int64() != 60 {
		t.Fatalf("final price = %s, want 60", got)
	}
}

func TestAuctionPriceNeverIncreases(t *testing.T) {
	a := &AuctionParams{Segments: []PriceSegment{
		segment(1_000, 1_600, 1_000_000, 750_000),
		segment(1_600, 2_200, 750_000, 500_000),
		segment(2_400, 3_000, 500_000, 100_000),
	}}
	prev := a.PriceAt(0)
	for now := int64(0); now <= 3_500; now += 7 {
		price := a.PriceAt(now)
		if price.Cmp(prev) > 0 {
			t.Fatalf("price increased from %s to %s at %d", prev, price, now)
		}
		prev = price
	}
}

func TestAuctionValidate(t *testing.T) {
	now, exp := int64(900), int64(5_000)
	valid := &AuctionParams{Segments: []PriceSegment{segment(1_000, 2_000, 100, 50)}}
	if err := valid.Validate(now, exp); err != nil {
		t.Fatalf("valid auction rejected: %v", err)
	}

	cases := map[string]*AuctionParams{
		"empty":        {},
		"increasing":   {Segments: []PriceSegment{segment(1_000, 2_000, 50, 100)}},
		"overlap":      {Segments: []PriceSegment{segment(1_000, 2_000, 100, 80), segment(1_500, 2_500, 80, 60)}},
		"inverted":     {Segments: []PriceSegment{segment(2_000, 1_000, 100, 50)}},
		"zero price":   {Segments: []PriceSegment{segment(1_000, 2_000, 0, 0)}},
		"jump upwards": {Segments: []PriceSegment{segment(1_000, 2_000, 100, 80), segment(2_000, 3_000, 90, 60)}},
	}
	for name, a := range cases {
		if err := a.Validate(now, exp); !errors.Is(err, ErrInvalidAuction) {
			t.Fatalf("%s: expected ErrInvalidAuction, got %v", name, err)
		}
	}

	outlives := &AuctionParams{Segments: []PriceSegment{segment(1_000, exp+1, 100, 50)}}
	if err := outlives.Validate(now, exp); !errors.Is(err, ErrInvalidAuction) {
		t.Fatalf("expected ErrInvalidAuction for curve beyond expiration, got %v", err)
	}
}

func TestProfitableAt(t *testing.T) {
	o := &Order{
		TakingAmount: big.NewInt(500),
		Auction:      &AuctionParams{Segments: []PriceSegment{segment(1_000, 2_000, 500, 300)}},
	}
	if !o.ProfitableAt(1_500, nil) {
		t.Fatalf("mid-auction price must be profitable without fee")
	}
	if !o.ProfitableAt(1_500, big.NewInt(100)) {
		t.Fatalf("price 400 + fee 100 = taking 500 must be profitable")
	}
	if o.ProfitableAt(1_500, big.NewInt(101)) {
		t.Fatalf("price 400 + fee 101 must not be profitable")
	}
	if o.ProfitableAt(1_000, big.NewInt(1)) {
		t.Fatalf("opening price plus fee must not be profitable")
	}

	fixed := &Order{TakingAmount: big.NewInt(500)}
	if !fixed.ProfitableAt(1_000, nil) {
		t.Fatalf("fixed price order must be profitable at zero fee")
	}
	if fixed.ProfitableAt(1_000, big.NewInt(1)) {
		t.Fatalf("fixed price order cannot absorb a fee")
	}
}
