package gateway

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"fusiond/native/coordination"
	"fusiond/native/escrow"
	"fusiond/native/htlc"
	"fusiond/native/order"
)

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 20 {
		return addr, fmt.Errorf("invalid address %q", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseHash32(raw string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 32 {
		return out, fmt.Errorf("invalid identifier %q", raw)
	}
	copy(out[:], decoded)
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseOptionalAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw)
}

func hexAddr(addr [20]byte) string  { return "0x" + hex.EncodeToString(addr[:]) }
func hexHash(hash [32]byte) string  { return "0x" + hex.EncodeToString(hash[:]) }
func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type fillView struct {
	Resolver     string `json:"resolver"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
	SecretIndex  uint32 `json:"secretIndex"`
	TxRefs       []string `json:"txRefs,omitempty"`
	FilledAt     int64  `json:"filledAt"`
}

type orderView struct {
	ID             uint64               `json:"id"`
	Maker          string               `json:"maker"`
	Receiver       string               `json:"receiver"`
	MakerAsset     string               `json:"makerAsset"`
	TakerAsset     string               `json:"takerAsset"`
	MakingAmount   string               `json:"makingAmount"`
	TakingAmount   string               `json:"takingAmount"`
	ExclusiveTaker string               `json:"exclusiveTaker,omitempty"`
	Expiration     int64                `json:"expiration"`
	Status         string               `json:"status"`
	Auction        *order.AuctionParams `json:"auction,omitempty"`
	PartsCount     uint32               `json:"partsCount"`
	SecretHashes   []string             `json:"secretHashes,omitempty"`
	Fills          []fillView           `json:"fills,omitempty"`
	FilledMaking   string               `json:"filledMaking"`
	RemainingMaking string              `json:"remainingMaking"`
	CurrentPrice   string               `json:"currentPrice"`
	CreatedAt      int64                `json:"createdAt"`
	UpdatedAt      int64                `json:"updatedAt"`
}

func renderOrder(o *order.Order, now int64) orderView {
	view := orderView{
		ID:              o.ID,
		Maker:           hexAddr(o.Maker),
		Receiver:        hexAddr(o.Receiver),
		MakerAsset:      o.MakerAsset,
		TakerAsset:      o.TakerAsset,
		MakingAmount:    amountString(o.MakingAmount),
		TakingAmount:    amountString(o.TakingAmount),
		Expiration:      o.Expiration,
		Status:          o.Status.String(),
		Auction:         o.Auction,
		PartsCount:      o.PartsCount,
		FilledMaking:    amountString(o.FilledMaking),
		RemainingMaking: amountString(o.RemainingMaking()),
		CurrentPrice:    amountString(o.PriceAt(now)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.ExclusiveTaker != ([20]byte{}) {
		view.ExclusiveTaker = hexAddr(o.ExclusiveTaker)
	}
	for _, h := range o.SecretHashes {
		view.SecretHashes = append(view.SecretHashes, h.String())
	}
	for _, f := range o.Fills {
		view.Fills = append(view.Fills, fillView{
			Resolver:     hexAddr(f.Resolver),
			MakingAmount: amountString(f.MakingAmount),
			TakingAmount: amountString(f.TakingAmount),
			SecretIndex:  f.SecretIndex,
			TxRefs:       f.TxRefs,
			FilledAt:     f.FilledAt,
		})
	}
	return view
}

type escrowView struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Token     string   `json:"token"`
	Amount    string   `json:"amount"`
	Maker     string   `json:"maker"`
	Taker     string   `json:"taker"`
	Vault     string   `json:"vault"`
	Hashlock  string   `json:"hashlock"`
	Timelock  int64    `json:"timelock"`
	Status    string   `json:"status"`
	CreatedAt int64    `json:"createdAt"`
	FundedAt  int64    `json:"fundedAt,omitempty"`
	SettledAt int64    `json:"settledAt,omitempty"`
	TxRefs    []string `json:"txRefs,omitempty"`
}

func renderEscrow(esc *escrow.Escrow) escrowView {
	return escrowView{
		ID:        hexHash(esc.ID),
		Role:      esc.Role.String(),
		Token:     esc.Token,
		Amount:    amountString(esc.Amount),
		Maker:     hexAddr(esc.Maker),
		Taker:     hexAddr(esc.Taker),
		Vault:     hexAddr(esc.Vault),
		Hashlock:  esc.Hashlock.String(),
		Timelock:  esc.Timelock,
		Status:    esc.Status.String(),
		CreatedAt: esc.CreatedAt,
		FundedAt:  esc.FundedAt,
		SettledAt: esc.SettledAt,
		TxRefs:    esc.TxRefs,
	}
}

type swapView struct {
	ID             string                    `json:"id"`
	OrderID        uint64                    `json:"orderId"`
	Maker          string                    `json:"maker"`
	Taker          string                    `json:"taker"`
	SourceEscrow   string                    `json:"sourceEscrow"`
	DestEscrow     string                    `json:"destEscrow"`
	State          string                    `json:"state"`
	Timelocks      htlc.CoordinatedTimelocks `json:"timelocks"`
	Hashlock       string                    `json:"hashlock"`
	SourceFunded   bool                      `json:"sourceFunded"`
	DestFunded     bool                      `json:"destFunded"`
	ExtendedBy     int64                     `json:"extendedBy,omitempty"`
	FinalityLagSrc int64                     `json:"finalityLagSrc,omitempty"`
	FinalityLagDst int64                     `json:"finalityLagDst,omitempty"`
	FailedTxCount  uint64                    `json:"failedTxCount,omitempty"`
	CreatedAt      int64                     `json:"createdAt"`
	UpdatedAt      int64                     `json:"updatedAt"`
	Log            []coordination.LogEntry   `json:"log,omitempty"`
}

func renderSwap(s *coordination.Swap) swapView {
	return swapView{
		ID:             hexHash(s.ID),
		OrderID:        s.OrderID,
		Maker:          hexAddr(s.Maker),
		Taker:          hexAddr(s.Taker),
		SourceEscrow:   hexHash(s.SourceEscrow),
		DestEscrow:     hexHash(s.DestEscrow),
		State:          s.State.String(),
		Timelocks:      s.Timelocks,
		Hashlock:       s.Hashlock.String(),
		SourceFunded:   s.SourceFunded,
		DestFunded:     s.DestFunded,
		ExtendedBy:     s.ExtendedBy,
		FinalityLagSrc: s.FinalityLagSource,
		FinalityLagDst: s.FinalityLagDest,
		FailedTxCount:  s.FailedTxCount,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		Log:            s.Log,
	}
}
