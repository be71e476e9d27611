package escrow

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"fusiond/core/events"
	"fusiond/native/htlc"
	"fusiond/native/ledger"
	"fusiond/native/signer"
)

type mockState struct {
	escrows map[[32]byte]*Escrow
}

func newMockState() *mockState {
	return &mockState{escrows: make(map[[32]byte]*Escrow)}
}

func (m *mockState) EscrowPut(e *Escrow) error {
	m.escrows[e.ID] = e.Clone()
	return nil
}

func (m *mockState) EscrowGet(id [32]byte) (*Escrow, bool) {
	e, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (m *mockState) Escrows() []*Escrow {
	out := make([]*Escrow, 0, len(m.escrows))
	for _, e := range m.escrows {
		out = append(out, e.Clone())
	}
	return out
}

func newTestAddress(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

type testEnv struct {
	engine   *Engine
	state    *mockState
	ledger   *ledger.Memory
	recorder *events.Recorder
	now      int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:    newMockState(),
		ledger:   ledger.NewMemory(),
		recorder: events.NewRecorder(64),
		now:      1_700_000_000,
	}
	reg := ledger.NewRegistry()
	if err := reg.Register("ICP", env.ledger); err != nil {
		t.Fatalf("register ledger: %v", err)
	}
	s, err := signer.NewLocal()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetLedgers(reg)
	env.engine.SetSigner(s)
	env.engine.SetEmitter(env.recorder)
	env.engine.SetNowFunc(func() int64 { return env.now })
	return env
}

func (env *testEnv) advance(seconds int64) { env.now += seconds }

var (
	testSecret   = bytes.Repeat([]byte{0x42}, htlc.SecretSize)
	makerAddr    = newTestAddress(1)
	takerAddr    = newTestAddress(2)
	strangerAddr = newTestAddress(9)
)

func (env *testEnv) createEscrow(t *testing.T, role Role) *Escrow {
	t.Helper()
	lock, err := htlc.NewHashlock(testSecret)
	if err != nil {
		t.Fatalf("new hashlock: %v", err)
	}
	esc, err := env.engine.Create(CreateParams{
		Role:     role,
		Token:    "ICP",
		Amount:   big.NewInt(1_000),
		Maker:    makerAddr,
		Taker:    takerAddr,
		Hashlock: lock,
		Timelock: env.now + 3_600,
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return esc
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	lock, _ := htlc.NewHashlock(testSecret)
	base := CreateParams{
		Role:     RoleSource,
		Token:    "ICP",
		Amount:   big.NewInt(100),
		Maker:    makerAddr,
		Taker:    takerAddr,
		Hashlock: lock,
		Timelock: env.now + 3_600,
	}

	bad := base
	bad.Amount = big.NewInt(0)
	if _, err := env.engine.Create(bad); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	bad = base
	bad.Hashlock = htlc.Hashlock{}
	if _, err := env.engine.Create(bad); !errors.Is(err, htlc.ErrInvalidHashlock) {
		t.Fatalf("expected ErrInvalidHashlock, got %v", err)
	}

	bad = base
	bad.Timelock = env.now + 60
	if _, err := env.engine.Create(bad); !errors.Is(err, htlc.ErrInvalidTimelock) {
		t.Fatalf("expected ErrInvalidTimelock, got %v", err)
	}

	bad = base
	bad.Token = "  "
	if _, err := env.engine.Create(bad); !errors.Is(err, ledger.ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestListByStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.ledger.Mint(makerAddr, big.NewInt(1_000))

	funded := env.createEscrow(t, RoleSource)
	env.createEscrow(t, RoleDestination)
	if err := env.engine.Fund(ctx, funded.ID, makerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if got := len(env.engine.List(0)); got != 2 {
		t.Fatalf("List(0) returned %d escrows, want 2", got)
	}
	createdOnly := env.engine.List(StatusCreated)
	if len(createdOnly) != 1 || createdOnly[0].Status != StatusCreated {
		t.Fatalf("unexpected created list: %+v", createdOnly)
	}
	fundedOnly := env.engine.List(StatusFunded)
	if len(fundedOnly) != 1 || fundedOnly[0].ID != funded.ID {
		t.Fatalf("unexpected funded list: %+v", fundedOnly)
	}
}

func TestSourceEscrowClaim(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	esc := env.createEscrow(t, RoleSource)
	env.ledger.Mint(makerAddr, big.NewInt(1_000))

	if err := env.engine.Fund(ctx, esc.ID, takerAddr, big.NewInt(1_000)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("taker must not fund a source escrow, got %v", err)
	}
	if err := env.engine.Fund(ctx, esc.ID, makerAddr, big.NewInt(999)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for a short deposit, got %v", err)
	}
	if err := env.engine.Fund(ctx, esc.ID, makerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := env.engine.Fund(ctx, esc.ID, makerAddr, big.NewInt(1_000)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState funding twice, got %v", err)
	}
	vaultBal, _ := env.ledger.BalanceOf(ctx, esc.Vault)
	if vaultBal.Int64() != 1_000 {
		t.Fatalf("vault balance = %s, want 1000", vaultBal)
	}

	if err := env.engine.Claim(ctx, esc.ID, strangerAddr, testSecret); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only the taker may claim a source escrow, got %v", err)
	}
	wrong := bytes.Repeat([]byte{0x43}, htlc.SecretSize)
	if err := env.engine.Claim(ctx, esc.ID, takerAddr, wrong); !errors.Is(err, htlc.ErrInvalidSecret) {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
	if err := env.engine.Claim(ctx, esc.ID, takerAddr, testSecret); err != nil {
		t.Fatalf("claim: %v", err)
	}
	takerBal, _ := env.ledger.BalanceOf(ctx, takerAddr)
	if takerBal.Int64() != 1_000 {
		t.Fatalf("taker balance = %s, want 1000", takerBal)
	}
	// A second claim and a refund after claim are both rejected.
	if err := env.engine.Claim(ctx, esc.ID, takerAddr, testSecret); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled on second claim, got %v", err)
	}
	env.advance(7_200)
	if err := env.engine.Refund(ctx, esc.ID, makerAddr); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}

	final, err := env.engine.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusClaimed || !bytes.Equal(final.Secret, testSecret) {
		t.Fatalf("unexpected final escrow: status=%s", final.Status)
	}

	var types []string
	for _, evt := range env.recorder.Events() {
		types = append(types, evt.Type)
	}
	want := []string{EventTypeEscrowCreated, EventTypeEscrowFunded, EventTypeEscrowClaimed}
	if len(types) != len(want) {
		t.Fatalf("event count = %d, want %d (%v)", len(types), len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestDestinationEscrowPublicClaim(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	esc := env.createEscrow(t, RoleDestination)
	env.ledger.Mint(takerAddr, big.NewInt(1_000))

	if err := env.engine.Fund(ctx, esc.ID, takerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	// Anyone may claim the destination leg; the payout goes to the maker.
	if err := env.engine.Claim(ctx, esc.ID, strangerAddr, testSecret); err != nil {
		t.Fatalf("public claim: %v", err)
	}
	makerBal, _ := env.ledger.BalanceOf(ctx, makerAddr)
	if makerBal.Int64() != 1_000 {
		t.Fatalf("maker balance = %s, want 1000", makerBal)
	}
}

func TestClaimAfterExpiryRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	esc := env.createEscrow(t, RoleSource)
	env.ledger.Mint(makerAddr, big.NewInt(1_000))
	if err := env.engine.Fund(ctx, esc.ID, makerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	env.advance(7_200)
	if err := env.engine.Claim(ctx, esc.ID, takerAddr, testSecret); !errors.Is(err, htlc.ErrTimelockExpired) {
		t.Fatalf("expected ErrTimelockExpired, got %v", err)
	}
}

func TestRefundAfterExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	esc := env.createEscrow(t, RoleSource)
	env.ledger.Mint(makerAddr, big.NewInt(1_000))
	if err := env.engine.Fund(ctx, esc.ID, makerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if err := env.engine.Refund(ctx, esc.ID, takerAddr); !errors.Is(err, htlc.ErrTimelockNotExpired) {
		t.Fatalf("expected ErrTimelockNotExpired, got %v", err)
	}
	env.advance(7_200)
	// The source leg is refunded by the taker, never by the maker, even
	// though the deposit flows back to the maker.
	if err := env.engine.Refund(ctx, esc.ID, makerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("maker must not refund the source leg, got %v", err)
	}
	if err := env.engine.Refund(ctx, esc.ID, strangerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger must not refund the source leg, got %v", err)
	}
	if err := env.engine.Refund(ctx, esc.ID, takerAddr); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if err := env.engine.Refund(ctx, esc.ID, takerAddr); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled on second refund, got %v", err)
	}
	makerBal, _ := env.ledger.BalanceOf(ctx, makerAddr)
	if makerBal.Int64() != 1_000 {
		t.Fatalf("maker balance = %s, want 1000", makerBal)
	}
	if err := env.engine.Claim(ctx, esc.ID, takerAddr, testSecret); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

func TestDestinationRefundByFunder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	esc := env.createEscrow(t, RoleDestination)
	env.ledger.Mint(takerAddr, big.NewInt(1_000))
	if err := env.engine.Fund(ctx, esc.ID, takerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	env.advance(7_200)
	if err := env.engine.Refund(ctx, esc.ID, makerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("maker must not refund the destination leg, got %v", err)
	}
	if err := env.engine.Refund(ctx, esc.ID, takerAddr); err != nil {
		t.Fatalf("refund: %v", err)
	}
	takerBal, _ := env.ledger.BalanceOf(ctx, takerAddr)
	if takerBal.Int64() != 1_000 {
		t.Fatalf("taker balance = %s, want 1000", takerBal)
	}
}

func TestFundInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createEscrow(t, RoleSource)
	env.ledger.Mint(makerAddr, big.NewInt(10))
	if err := env.engine.Fund(context.Background(), esc.ID, makerAddr, big.NewInt(1_000)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestTryExpireUnfundedEscrow(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createEscrow(t, RoleSource)

	transitioned, err := env.engine.TryExpire(esc.ID)
	if err != nil || transitioned {
		t.Fatalf("active escrow must not expire: %v %v", transitioned, err)
	}
	env.advance(7_200)
	transitioned, err = env.engine.TryExpire(esc.ID)
	if err != nil || !transitioned {
		t.Fatalf("expected expiry transition: %v %v", transitioned, err)
	}
	final, _ := env.engine.Get(esc.ID)
	if final.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", final.Status)
	}
	// An expired escrow is terminal; it cannot be funded afterwards.
	if err := env.engine.Fund(context.Background(), esc.ID, makerAddr, big.NewInt(1_000)); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled funding an expired escrow, got %v", err)
	}
}

func TestClaimTransferFailureClearsSettlingGuard(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	esc := env.createEscrow(t, RoleSource)
	env.ledger.Mint(makerAddr, big.NewInt(1_000))
	if err := env.engine.Fund(ctx, esc.ID, makerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	env.ledger.FailNextTransfer(ledger.ErrCallFailed)
	if err := env.engine.Claim(ctx, esc.ID, takerAddr, testSecret); !errors.Is(err, ledger.ErrCallFailed) {
		t.Fatalf("expected ErrCallFailed, got %v", err)
	}
	fresh, _ := env.engine.Get(esc.ID)
	if fresh.Settling {
		t.Fatalf("settling guard must be cleared after a failed transfer")
	}
	// The retry succeeds.
	if err := env.engine.Claim(ctx, esc.ID, takerAddr, testSecret); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
}

func TestConcurrentSettlementGuard(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	esc := env.createEscrow(t, RoleSource)
	env.ledger.Mint(makerAddr, big.NewInt(1_000))
	if err := env.engine.Fund(ctx, esc.ID, makerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// Simulate a settlement in flight.
	guarded, _ := env.state.EscrowGet(esc.ID)
	guarded.Settling = true
	if err := env.state.EscrowPut(guarded); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := env.engine.Claim(ctx, esc.ID, takerAddr, testSecret); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while settling, got %v", err)
	}
	env.advance(7_200)
	if err := env.engine.Refund(ctx, esc.ID, takerAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while settling, got %v", err)
	}
}
