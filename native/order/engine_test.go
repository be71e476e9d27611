package order

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"fusiond/core/events"
	"fusiond/native/htlc"
	"fusiond/native/ledger"
)

type mockState struct {
	orders map[uint64]*Order
	nextID uint64
}

func newMockState() *mockState {
	return &mockState{orders: make(map[uint64]*Order)}
}

func (m *mockState) OrderPut(o *Order) error {
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *mockState) OrderGet(id uint64) (*Order, bool) {
	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (m *mockState) Orders() []*Order {
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o.Clone())
	}
	return out
}

func (m *mockState) NextOrderID() uint64 {
	m.nextID++
	return m.nextID
}

func newTestAddress(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

var (
	maker    = newTestAddress(1)
	taker    = newTestAddress(2)
	stranger = newTestAddress(9)
)

type testEnv struct {
	engine    *Engine
	state     *mockState
	icpLedger *ledger.Memory
	ethLedger *ledger.Memory
	recorder  *events.Recorder
	now       int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:     newMockState(),
		icpLedger: ledger.NewMemory(),
		ethLedger: ledger.NewMemory(),
		recorder:  events.NewRecorder(64),
		now:       1_700_000_000,
	}
	reg := ledger.NewRegistry()
	if err := reg.Register("ICP", env.icpLedger); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("ETH", env.ethLedger); err != nil {
		t.Fatalf("register: %v", err)
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetLedgers(reg)
	env.engine.SetEmitter(env.recorder)
	env.engine.SetNowFunc(func() int64 { return env.now })
	env.engine.SetRateLimit(nil)
	return env
}

func (env *testEnv) advance(seconds int64) { env.now += seconds }

func (env *testEnv) createOrder(t *testing.T, mutate func(*CreateParams)) *Order {
	t.Helper()
	params := CreateParams{
		Maker:        maker,
		MakerAsset:   "ICP",
		TakerAsset:   "ETH",
		MakingAmount: big.NewInt(1_000),
		TakingAmount: big.NewInt(500),
		Expiration:   env.now + 3_600,
	}
	if mutate != nil {
		mutate(&params)
	}
	// The engine refuses orders the maker cannot cover.
	switch params.MakerAsset {
	case "ICP":
		env.icpLedger.Mint(params.Maker, params.MakingAmount)
	case "ETH":
		env.ethLedger.Mint(params.Maker, params.MakingAmount)
	}
	o, err := env.engine.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func partialHashes(t *testing.T, n int) []htlc.Hashlock {
	t.Helper()
	hashes := make([]htlc.Hashlock, n)
	for i := range hashes {
		secret := bytes.Repeat([]byte{byte(i + 1)}, htlc.SecretSize)
		lock, err := htlc.NewHashlock(secret)
		if err != nil {
			t.Fatalf("hashlock %d: %v", i, err)
		}
		hashes[i] = lock
	}
	return hashes
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(0), TakingAmount: big.NewInt(1),
		Expiration: env.now + 3_600,
	}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "icp",
		MakingAmount: big.NewInt(1), TakingAmount: big.NewInt(1),
		Expiration: env.now + 3_600,
	}); !errors.Is(err, ErrInvalidAssetPair) {
		t.Fatalf("expected ErrInvalidAssetPair for identical assets, got %v", err)
	}

	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(1), TakingAmount: big.NewInt(1),
		Expiration: env.now + 10,
	}); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expected ErrInvalidExpiration for near expiry, got %v", err)
	}

	farOut := env.now + int64(MaxExpiration/time.Second) + 60
	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(1), TakingAmount: big.NewInt(1),
		Expiration: farOut,
	}); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expected ErrInvalidExpiration for distant expiry, got %v", err)
	}

	// Splittable orders need one hash per part.
	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(1_000), TakingAmount: big.NewInt(500),
		Expiration: env.now + 3_600,
		PartsCount: 4, SecretHashes: partialHashes(t, 3),
	}); err == nil {
		t.Fatalf("expected error for missing secret hashes")
	}
}

func TestCreateRespectsAllowlist(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetAllowedAssets([]string{"ICP", "ETH"})
	env.createOrder(t, nil)

	env.engine.SetAllowedAssets([]string{"ICP"})
	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(1), TakingAmount: big.NewInt(1),
		Expiration: env.now + 3_600,
	}); !errors.Is(err, ErrInvalidAssetPair) {
		t.Fatalf("expected ErrInvalidAssetPair for disallowed asset, got %v", err)
	}
}

func TestCreateRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetRateLimit(rate.NewLimiter(rate.Every(time.Hour), 1))
	env.createOrder(t, nil)
	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(1), TakingAmount: big.NewInt(1),
		Expiration: env.now + 3_600,
	}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCreatePerMakerLimit(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetLimits(100, 2)
	env.createOrder(t, nil)
	env.createOrder(t, nil)
	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(1), TakingAmount: big.NewInt(1),
		Expiration: env.now + 3_600,
	}); !errors.Is(err, ErrTooManyOrders) {
		t.Fatalf("expected ErrTooManyOrders, got %v", err)
	}
}

func TestCreateRequiresMakerFunds(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(1_000), TakingAmount: big.NewInt(500),
		Expiration: env.now + 3_600,
	}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestCreateSignatureFormat(t *testing.T) {
	env := newTestEnv(t)
	env.icpLedger.Mint(maker, big.NewInt(1_000))

	if _, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(100), TakingAmount: big.NewInt(50),
		Expiration: env.now + 3_600,
		Signature:  bytes.Repeat([]byte{0xab}, 64),
	}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	o, err := env.engine.Create(context.Background(), CreateParams{
		Maker: maker, MakerAsset: "ICP", TakerAsset: "ETH",
		MakingAmount: big.NewInt(100), TakingAmount: big.NewInt(50),
		Expiration: env.now + 3_600,
		Signature:  bytes.Repeat([]byte{0xab}, 65),
	})
	if err != nil {
		t.Fatalf("create with signature: %v", err)
	}
	if len(o.Signature) != 65 {
		t.Fatalf("signature not retained: %d bytes", len(o.Signature))
	}
}

func TestListByMakerAndPair(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, nil)
	env.createOrder(t, nil)
	env.createOrder(t, func(p *CreateParams) {
		p.MakerAsset = "ETH"
		p.TakerAsset = "ICP"
	})

	if got := len(env.engine.ListByMaker(maker)); got != 3 {
		t.Fatalf("ListByMaker returned %d orders, want 3", got)
	}
	if got := len(env.engine.ListByMaker(stranger)); got != 0 {
		t.Fatalf("ListByMaker for stranger returned %d orders, want 0", got)
	}
	if got := len(env.engine.ListByPair("icp", "eth")); got != 2 {
		t.Fatalf("ListByPair(icp, eth) returned %d orders, want 2", got)
	}
	if got := len(env.engine.ListByPair("ETH", "ICP")); got != 1 {
		t.Fatalf("ListByPair(ETH, ICP) returned %d orders, want 1", got)
	}
}

func TestFillHappyPath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.createOrder(t, nil)
	env.ethLedger.Mint(taker, big.NewInt(500))

	if err := env.engine.Fill(ctx, o.ID, taker, nil); err != nil {
		t.Fatalf("fill: %v", err)
	}

	makerEth, _ := env.ethLedger.BalanceOf(ctx, maker)
	takerIcp, _ := env.icpLedger.BalanceOf(ctx, taker)
	takerEth, _ := env.ethLedger.BalanceOf(ctx, taker)
	if makerEth.Int64() != 500 || takerIcp.Int64() != 1_000 || takerEth.Int64() != 0 {
		t.Fatalf("unexpected balances: makerEth=%s takerIcp=%s takerEth=%s", makerEth, takerIcp, takerEth)
	}

	final, _ := env.engine.Get(o.ID)
	if final.Status != StatusCompleted || len(final.Fills) != 1 {
		t.Fatalf("unexpected final order: status=%s fills=%d", final.Status, len(final.Fills))
	}
	if final.FilledMaking.Cmp(final.MakingAmount) != 0 {
		t.Fatalf("filled %s, want %s", final.FilledMaking, final.MakingAmount)
	}

	// A second fill and a late cancel both bounce off the terminal state.
	if err := env.engine.Fill(ctx, o.ID, stranger, nil); !errors.Is(err, ErrAlreadyFilled) {
		t.Fatalf("expected ErrAlreadyFilled, got %v", err)
	}
	if err := env.engine.Cancel(o.ID, maker); !errors.Is(err, ErrAlreadyFilled) {
		t.Fatalf("expected ErrAlreadyFilled on cancel, got %v", err)
	}

	stats := env.engine.Stats()
	if stats.OrdersCreated != 1 || stats.OrdersFilled != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.VolumeByToken["ICP"].Int64() != 1_000 || stats.VolumeByToken["ETH"].Int64() != 500 {
		t.Fatalf("unexpected volume: %v", stats.VolumeByToken)
	}
}

func TestFillAtAuctionPrice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	start := env.now
	o := env.createOrder(t, func(p *CreateParams) {
		p.Auction = &AuctionParams{Segments: []PriceSegment{{
			Start:      start,
			End:        start + 600,
			StartPrice: big.NewInt(500),
			EndPrice:   big.NewInt(300),
		}}}
	})
	env.ethLedger.Mint(taker, big.NewInt(500))

	env.advance(300)
	if err := env.engine.Fill(ctx, o.ID, taker, nil); err != nil {
		t.Fatalf("fill: %v", err)
	}
	// Halfway through the curve the price has decayed to 400.
	makerEth, _ := env.ethLedger.BalanceOf(ctx, maker)
	takerEth, _ := env.ethLedger.BalanceOf(ctx, taker)
	if makerEth.Int64() != 400 || takerEth.Int64() != 100 {
		t.Fatalf("unexpected payment: makerEth=%s takerEth=%s", makerEth, takerEth)
	}
}

func TestFillNotProfitable(t *testing.T) {
	env := newTestEnv(t)
	o := env.createOrder(t, nil)
	env.ethLedger.Mint(taker, big.NewInt(1_000))
	if err := env.engine.Fill(context.Background(), o.ID, taker, big.NewInt(1)); !errors.Is(err, ErrNotProfitable) {
		t.Fatalf("expected ErrNotProfitable, got %v", err)
	}
}

func TestFillCompensatesFirstLeg(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.createOrder(t, nil)
	env.ethLedger.Mint(taker, big.NewInt(500))

	env.icpLedger.FailNextTransfer(ledger.ErrCallFailed)
	if err := env.engine.Fill(ctx, o.ID, taker, nil); !errors.Is(err, ledger.ErrCallFailed) {
		t.Fatalf("expected ErrCallFailed, got %v", err)
	}
	// The taker's payment was unwound and the order reopened.
	takerEth, _ := env.ethLedger.BalanceOf(ctx, taker)
	if takerEth.Int64() != 500 {
		t.Fatalf("taker balance = %s, want 500 after compensation", takerEth)
	}
	reopened, _ := env.engine.Get(o.ID)
	if reopened.Status != StatusPending || reopened.Filling {
		t.Fatalf("order not reopened: status=%s filling=%v", reopened.Status, reopened.Filling)
	}
	// The retry succeeds.
	if err := env.engine.Fill(ctx, o.ID, taker, nil); err != nil {
		t.Fatalf("retry fill: %v", err)
	}
}

func TestFillManualInterventionWhenRollbackFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.createOrder(t, nil)
	env.ethLedger.Mint(taker, big.NewInt(500))

	// Second leg fails, then the compensation transfer fails too.
	env.icpLedger.FailNextTransfer(ledger.ErrTransferRejected)
	env.ethLedger.FailTransferAfter(1, ledger.ErrCallFailed)
	if err := env.engine.Fill(ctx, o.ID, taker, nil); !errors.Is(err, ErrManualIntervention) {
		t.Fatalf("expected ErrManualIntervention, got %v", err)
	}
	frozen, _ := env.engine.Get(o.ID)
	if frozen.Status != StatusFailed {
		t.Fatalf("order status = %s, want failed", frozen.Status)
	}
	// A frozen order accepts no further operations.
	if err := env.engine.Fill(ctx, o.ID, taker, nil); !errors.Is(err, ErrManualIntervention) {
		t.Fatalf("expected ErrManualIntervention on retry, got %v", err)
	}
	if err := env.engine.Cancel(o.ID, maker); !errors.Is(err, ErrManualIntervention) {
		t.Fatalf("expected ErrManualIntervention on cancel, got %v", err)
	}

	evts := env.recorder.Events()
	if evts[len(evts)-1].Type != EventTypeOrderFailed {
		t.Fatalf("last event = %s, want %s", evts[len(evts)-1].Type, EventTypeOrderFailed)
	}
	if env.engine.Stats().FailedFills != 1 {
		t.Fatalf("failed fill not counted")
	}
}

func TestPartialFillLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.createOrder(t, func(p *CreateParams) {
		p.PartsCount = 4
		p.SecretHashes = partialHashes(t, 4)
	})
	env.ethLedger.Mint(taker, big.NewInt(500))

	// Full fills are rejected on splittable orders.
	if err := env.engine.Fill(ctx, o.ID, taker, nil); !errors.Is(err, ErrInvalidSecretIndex) {
		t.Fatalf("expected ErrInvalidSecretIndex for full fill, got %v", err)
	}
	// The wrong secret index is rejected.
	if err := env.engine.PartialFill(ctx, o.ID, taker, big.NewInt(250), 2, nil); !errors.Is(err, ErrInvalidSecretIndex) {
		t.Fatalf("expected ErrInvalidSecretIndex, got %v", err)
	}
	// Overfilling the remainder is rejected.
	if err := env.engine.PartialFill(ctx, o.ID, taker, big.NewInt(1_250), 3, nil); !errors.Is(err, ErrInsufficientRemaining) {
		t.Fatalf("expected ErrInsufficientRemaining, got %v", err)
	}

	for idx := uint32(0); idx < 4; idx++ {
		if err := env.engine.PartialFill(ctx, o.ID, taker, big.NewInt(250), idx, nil); err != nil {
			t.Fatalf("partial fill %d: %v", idx, err)
		}
	}

	final, _ := env.engine.Get(o.ID)
	if final.Status != StatusCompleted || len(final.Fills) != 4 {
		t.Fatalf("unexpected final order: status=%s fills=%d", final.Status, len(final.Fills))
	}
	// Conservation: the fills sum to exactly the making amount.
	sum := big.NewInt(0)
	for _, f := range final.Fills {
		sum.Add(sum, f.MakingAmount)
	}
	if sum.Cmp(final.MakingAmount) != 0 {
		t.Fatalf("fill sum %s != making amount %s", sum, final.MakingAmount)
	}
	takerIcp, _ := env.icpLedger.BalanceOf(ctx, taker)
	makerEth, _ := env.ethLedger.BalanceOf(ctx, maker)
	if takerIcp.Int64() != 1_000 || makerEth.Int64() != 500 {
		t.Fatalf("unexpected balances: takerIcp=%s makerEth=%s", takerIcp, makerEth)
	}
	// Nothing remains to fill.
	if err := env.engine.PartialFill(ctx, o.ID, taker, big.NewInt(1), 3, nil); !errors.Is(err, ErrAlreadyFilled) {
		t.Fatalf("expected ErrAlreadyFilled, got %v", err)
	}

	var partials, fulls int
	for _, evt := range env.recorder.Events() {
		switch evt.Type {
		case EventTypeOrderPartiallyFilled:
			partials++
		case EventTypeOrderFilled:
			fulls++
		}
	}
	if partials != 3 || fulls != 1 {
		t.Fatalf("event mix: %d partial, %d full", partials, fulls)
	}
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	o := env.createOrder(t, nil)

	if err := env.engine.Cancel(o.ID, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.Cancel(o.ID, maker); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := env.engine.Cancel(o.ID, maker); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled on second cancel, got %v", err)
	}
	if err := env.engine.Fill(context.Background(), o.ID, taker, nil); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestRestoreStats(t *testing.T) {
	env := newTestEnv(t)
	o := env.createOrder(t, nil)
	if err := env.engine.Cancel(o.ID, maker); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	snap := env.engine.Stats()

	fresh := NewEngine()
	fresh.RestoreStats(snap)
	restored := fresh.Stats()
	if restored.OrdersCreated != 1 || restored.OrdersCancelled != 1 {
		t.Fatalf("unexpected restored stats: %+v", restored)
	}
	// The restored counters do not alias the snapshot's maps.
	snap.ErrorCounts["bogus"] = 7
	if _, ok := fresh.Stats().ErrorCounts["bogus"]; ok {
		t.Fatalf("restored stats alias the snapshot")
	}
}

func TestExclusiveTaker(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.createOrder(t, func(p *CreateParams) { p.ExclusiveTaker = taker })
	env.ethLedger.Mint(taker, big.NewInt(500))
	env.ethLedger.Mint(stranger, big.NewInt(500))

	if err := env.engine.Fill(ctx, o.ID, stranger, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.Fill(ctx, o.ID, taker, nil); err != nil {
		t.Fatalf("fill by exclusive taker: %v", err)
	}
}

func TestExpireSweep(t *testing.T) {
	env := newTestEnv(t)
	o := env.createOrder(t, func(p *CreateParams) { p.Expiration = env.now + 60 })
	env.createOrder(t, nil)

	if n := env.engine.ExpireSweep(); n != 0 {
		t.Fatalf("nothing should expire yet, got %d", n)
	}
	env.advance(120)
	if n := env.engine.ExpireSweep(); n != 1 {
		t.Fatalf("expected one expiry, got %d", n)
	}
	expired, _ := env.engine.Get(o.ID)
	if expired.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", expired.Status)
	}
	if err := env.engine.Fill(context.Background(), o.ID, taker, nil); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if env.engine.Stats().OrdersExpired != 1 {
		t.Fatalf("expiry not counted")
	}
}
