package escrow

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fusiond/core/events"
	"fusiond/native/htlc"
	"fusiond/native/ledger"
	"fusiond/native/signer"
)

var (
	errNilState   = errors.New("escrow engine: state not configured")
	errNilLedgers = errors.New("escrow engine: ledger registry not configured")
	errNilSigner  = errors.New("escrow engine: signer not configured")
)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	Escrows() []*Escrow
}

// Engine drives the escrow state machine. Funds move through per-token
// ledgers; vault addresses are derived from the signing service so they can
// be recomputed from the escrow identifier alone.
type Engine struct {
	state   engineState
	ledgers *ledger.Registry
	signer  signer.Signer
	emitter events.Emitter
	nowFn   func() int64
	nonce   atomic.Uint64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedgers configures the per-token ledger registry.
func (e *Engine) SetLedgers(reg *ledger.Registry) { e.ledgers = reg }

// SetSigner configures the signer used for vault address derivation.
func (e *Engine) SetSigner(s signer.Signer) { e.signer = s }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

// Get returns a copy of the escrow.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// List returns copies of all escrows, optionally filtered by status. A zero
// status returns everything.
func (e *Engine) List(status Status) []*Escrow {
	if e == nil || e.state == nil {
		return nil
	}
	var out []*Escrow
	for _, esc := range e.state.Escrows() {
		if status != 0 && esc.Status != status {
			continue
		}
		out = append(out, esc.Clone())
	}
	return out
}

// CreateParams describes a new escrow.
type CreateParams struct {
	Role     Role
	Token    string
	Amount   *big.Int
	Maker    [20]byte
	Taker    [20]byte
	Hashlock htlc.Hashlock
	Timelock int64
}

// Create registers a new escrow in the Created state and derives its vault
// address. No funds move until Fund.
func (e *Engine) Create(params CreateParams) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.signer == nil {
		return nil, errNilSigner
	}
	token, err := ledger.NormalizeToken(params.Token)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := htlc.ValidateTimelock(params.Timelock, now); err != nil {
		return nil, err
	}
	esc := &Escrow{
		Role:      params.Role,
		Token:     token,
		Amount:    params.Amount,
		Maker:     params.Maker,
		Taker:     params.Taker,
		Hashlock:  params.Hashlock,
		Timelock:  params.Timelock,
		Status:    StatusCreated,
		CreatedAt: now,
	}
	if err := esc.Validate(); err != nil {
		return nil, err
	}
	esc.Amount = new(big.Int).Set(params.Amount)
	esc.ID = e.escrowID(esc)
	esc.Vault = e.signer.DeriveAddress(esc.ID[:])
	if _, exists := e.state.EscrowGet(esc.ID); exists {
		return nil, fmt.Errorf("escrow engine: duplicate escrow id %x", esc.ID)
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

func (e *Engine) escrowID(esc *Escrow) [32]byte {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], e.nonce.Add(1))
	var created [8]byte
	binary.BigEndian.PutUint64(created[:], uint64(esc.CreatedAt))
	return ethcrypto.Keccak256Hash(
		[]byte{byte(esc.Role)},
		[]byte(esc.Token),
		esc.Maker[:],
		esc.Taker[:],
		esc.Hashlock[:],
		created[:],
		nonce[:],
	)
}

// Fund moves the deposit from the funder into the vault. The deposited
// amount must match the escrow amount exactly.
func (e *Engine) Fund(ctx context.Context, id [32]byte, caller [20]byte, amount *big.Int) error {
	if e == nil || e.ledgers == nil {
		return errNilLedgers
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	switch esc.Status {
	case StatusClaimed, StatusRefunded, StatusExpired:
		return fmt.Errorf("%w: escrow %s", ErrAlreadySettled, esc.Status)
	case StatusCreated:
	default:
		return fmt.Errorf("%w: cannot fund %s escrow", ErrInvalidState, esc.Status)
	}
	if caller != esc.Funder() {
		return fmt.Errorf("%w: only the %s funder may deposit", ErrUnauthorized, esc.Role)
	}
	if amount == nil || amount.Cmp(esc.Amount) != 0 {
		return fmt.Errorf("%w: deposit must equal the escrow amount %s", ErrInvalidAmount, esc.Amount)
	}
	now := e.now()
	if status := htlc.StatusAt(esc.Timelock, now); status.Expired {
		return fmt.Errorf("%w: escrow lapsed %ds ago", htlc.ErrTimelockExpired, status.Overdue)
	}
	l, err := e.ledgers.Resolve(esc.Token)
	if err != nil {
		return err
	}
	funder := esc.Funder()
	bal, err := l.BalanceOf(ctx, funder)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrCallFailed, err)
	}
	if bal.Cmp(esc.Amount) < 0 {
		return fmt.Errorf("%w: funder balance %s below %s", ledger.ErrInsufficientFunds, bal, esc.Amount)
	}
	ref, err := l.Transfer(ctx, funder, esc.Vault, esc.Amount)
	if err != nil {
		return err
	}
	// The ledger call may have yielded; reload and re-check before
	// committing the transition.
	fresh, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if fresh.Status != StatusCreated {
		return fmt.Errorf("%w: escrow changed to %s during funding", ErrInvalidState, fresh.Status)
	}
	fresh.Status = StatusFunded
	fresh.FundedAt = e.now()
	fresh.TxRefs = append(fresh.TxRefs, ref)
	if err := e.storeEscrow(fresh); err != nil {
		return err
	}
	e.emit(NewFundedEvent(fresh))
	return nil
}

// Claim pays the escrow out to its recipient in exchange for the hashlock
// preimage. Source escrows restrict the caller to the taker; destination
// escrows accept any caller since the payout always goes to the maker.
func (e *Engine) Claim(ctx context.Context, id [32]byte, caller [20]byte, secret []byte) error {
	if e == nil || e.ledgers == nil {
		return errNilLedgers
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	switch esc.Status {
	case StatusClaimed, StatusRefunded, StatusExpired:
		return fmt.Errorf("%w: escrow %s", ErrAlreadySettled, esc.Status)
	case StatusFunded:
	default:
		return fmt.Errorf("%w: cannot claim %s escrow", ErrInvalidState, esc.Status)
	}
	if esc.Settling {
		return fmt.Errorf("%w: settlement in progress", ErrInvalidState)
	}
	if esc.Role == RoleSource && caller != esc.Taker {
		return fmt.Errorf("%w: only the taker may claim the source escrow", ErrUnauthorized)
	}
	now := e.now()
	if status := htlc.StatusAt(esc.Timelock, now); status.Expired {
		return fmt.Errorf("%w: claim window closed %ds ago", htlc.ErrTimelockExpired, status.Overdue)
	}
	if !esc.Hashlock.Verify(secret) {
		return htlc.ErrInvalidSecret
	}
	l, err := e.ledgers.Resolve(esc.Token)
	if err != nil {
		return err
	}
	if err := e.beginSettlement(esc); err != nil {
		return err
	}
	ref, err := l.Transfer(ctx, esc.Vault, esc.Recipient(), esc.Amount)
	if err != nil {
		e.abortSettlement(id)
		return err
	}
	fresh, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	fresh.Settling = false
	fresh.Status = StatusClaimed
	fresh.Secret = append([]byte(nil), secret...)
	fresh.SettledAt = e.now()
	fresh.TxRefs = append(fresh.TxRefs, ref)
	if err := e.storeEscrow(fresh); err != nil {
		return err
	}
	e.emit(NewClaimedEvent(fresh))
	return nil
}

// Refund returns the deposit to the funder once the timelock has lapsed.
// Source escrows restrict the caller to the taker even though the payout
// goes back to the maker; destination escrows are refunded by their funder.
func (e *Engine) Refund(ctx context.Context, id [32]byte, caller [20]byte) error {
	if e == nil || e.ledgers == nil {
		return errNilLedgers
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	switch esc.Status {
	case StatusRefunded, StatusClaimed, StatusExpired:
		return fmt.Errorf("%w: escrow %s", ErrAlreadySettled, esc.Status)
	case StatusFunded:
	default:
		return fmt.Errorf("%w: cannot refund %s escrow", ErrInvalidState, esc.Status)
	}
	if esc.Settling {
		return fmt.Errorf("%w: settlement in progress", ErrInvalidState)
	}
	switch esc.Role {
	case RoleSource:
		if caller != esc.Taker {
			return fmt.Errorf("%w: only the taker may refund the source escrow", ErrUnauthorized)
		}
	default:
		if caller != esc.Funder() {
			return fmt.Errorf("%w: only the funder may refund", ErrUnauthorized)
		}
	}
	now := e.now()
	if status := htlc.StatusAt(esc.Timelock, now); !status.Expired {
		return fmt.Errorf("%w: %ds remaining", htlc.ErrTimelockNotExpired, status.Remaining)
	}
	l, err := e.ledgers.Resolve(esc.Token)
	if err != nil {
		return err
	}
	if err := e.beginSettlement(esc); err != nil {
		return err
	}
	ref, err := l.Transfer(ctx, esc.Vault, esc.Funder(), esc.Amount)
	if err != nil {
		e.abortSettlement(id)
		return err
	}
	fresh, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	fresh.Settling = false
	fresh.Status = StatusRefunded
	fresh.SettledAt = e.now()
	fresh.TxRefs = append(fresh.TxRefs, ref)
	if err := e.storeEscrow(fresh); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(fresh))
	return nil
}

// TryExpire transitions an unfunded escrow past its timelock to Expired. It
// returns true when a transition happened.
func (e *Engine) TryExpire(id [32]byte) (bool, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return false, err
	}
	if esc.Status != StatusCreated {
		return false, nil
	}
	if status := htlc.StatusAt(esc.Timelock, e.now()); !status.Expired {
		return false, nil
	}
	esc.Status = StatusExpired
	esc.SettledAt = e.now()
	if err := e.storeEscrow(esc); err != nil {
		return false, err
	}
	e.emit(NewExpiredEvent(esc))
	return true, nil
}

// ExtendTimelock pushes the escrow expiration forward. Extensions apply
// during network partitions so both legs keep their relative gap; the new
// timelock must be strictly later than the current one.
func (e *Engine) ExtendTimelock(id [32]byte, newTimelock int64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status.Terminal() {
		return fmt.Errorf("%w: cannot extend %s escrow", ErrInvalidState, esc.Status)
	}
	if newTimelock <= esc.Timelock {
		return fmt.Errorf("%w: extension must move the timelock forward", htlc.ErrInvalidTimelock)
	}
	if err := htlc.ValidateFuture(newTimelock, e.now()); err != nil {
		return err
	}
	esc.Timelock = newTimelock
	return e.storeEscrow(esc)
}

func (e *Engine) beginSettlement(esc *Escrow) error {
	esc.Settling = true
	return e.storeEscrow(esc)
}

func (e *Engine) abortSettlement(id [32]byte) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return
	}
	esc.Settling = false
	_ = e.storeEscrow(esc)
}
