package coordination

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fusiond/core/events"
	"fusiond/native/escrow"
	"fusiond/native/htlc"
	"fusiond/native/signer"
)

var (
	errNilState   = errors.New("coordination engine: state not configured")
	errNilEscrows = errors.New("coordination engine: escrow engine not configured")
)

type engineState interface {
	SwapPut(*Swap) error
	SwapGet(id [32]byte) (*Swap, bool)
	Swaps() []*Swap
}

// Engine pairs the two escrows of a cross-chain swap and drives the shared
// state machine between them: conservative timelock derivation, funding
// progress, secret propagation and expiry.
type Engine struct {
	state       engineState
	escrows     *escrow.Engine
	coordinator *htlc.Coordinator
	health      *signer.HealthChecker
	emitter     events.Emitter
	nowFn       func() int64
}

// NewEngine creates a coordination engine with the default timelock
// coordinator and a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		coordinator: htlc.NewCoordinator(),
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEscrows configures the escrow engine the pairings drive.
func (e *Engine) SetEscrows(escrows *escrow.Engine) { e.escrows = escrows }

// SetCoordinator overrides the timelock coordinator.
func (e *Engine) SetCoordinator(c *htlc.Coordinator) {
	if c != nil {
		e.coordinator = c
	}
}

// SetHealthChecker configures the signer health gate. Without one, pairings
// are admitted unconditionally.
func (e *Engine) SetHealthChecker(h *signer.HealthChecker) { e.health = h }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
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

// Now exposes the engine clock so callers can evaluate timelocks against the
// same time source the engine uses.
func (e *Engine) Now() int64 { return e.now() }

func (e *Engine) loadSwap(id [32]byte) (*Swap, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	s, ok := e.state.SwapGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (e *Engine) storeSwap(s *Swap) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.SwapPut(s)
}

func (e *Engine) transition(s *Swap, to State) error {
	if !canTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, s.State, to)
	}
	s.State = to
	s.UpdatedAt = e.now()
	return nil
}

// Get returns a copy of the swap.
func (e *Engine) Get(id [32]byte) (*Swap, error) {
	s, err := e.loadSwap(id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// List returns copies of all swaps.
func (e *Engine) List() []*Swap {
	if e == nil || e.state == nil {
		return nil
	}
	var out []*Swap
	for _, s := range e.state.Swaps() {
		out = append(out, s.Clone())
	}
	return out
}

// BeginParams describes a new cross-chain pairing.
type BeginParams struct {
	OrderID      uint64
	Maker        [20]byte
	Taker        [20]byte
	SourceToken  string
	DestToken    string
	SourceAmount *big.Int
	DestAmount   *big.Int
	Hashlock     htlc.Hashlock
	// BaseTimelock is the source-chain expiration; the destination leg is
	// derived conservatively below it.
	BaseTimelock int64
}

// Begin derives the coordinated timelock pair, creates both escrows and
// registers the pairing. New pairings are refused while the signing backend
// is unhealthy.
func (e *Engine) Begin(ctx context.Context, params BeginParams) (*Swap, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.escrows == nil {
		return nil, errNilEscrows
	}
	if e.health != nil {
		if report := e.health.Check(ctx); report.Status != signer.HealthHealthy {
			return nil, fmt.Errorf("%w: %s", ErrSignerUnhealthy, report.Status)
		}
	}
	now := e.now()
	timelocks, err := e.coordinator.ConservativeTimelocks(params.BaseTimelock, now)
	if err != nil {
		return nil, err
	}

	source, err := e.escrows.Create(escrow.CreateParams{
		Role:     escrow.RoleSource,
		Token:    params.SourceToken,
		Amount:   params.SourceAmount,
		Maker:    params.Maker,
		Taker:    params.Taker,
		Hashlock: params.Hashlock,
		Timelock: timelocks.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("coordination engine: source escrow: %w", err)
	}
	dest, err := e.escrows.Create(escrow.CreateParams{
		Role:     escrow.RoleDestination,
		Token:    params.DestToken,
		Amount:   params.DestAmount,
		Maker:    params.Maker,
		Taker:    params.Taker,
		Hashlock: params.Hashlock,
		Timelock: timelocks.Destination,
	})
	if err != nil {
		return nil, fmt.Errorf("coordination engine: destination escrow: %w", err)
	}

	s := &Swap{
		OrderID:      params.OrderID,
		Maker:        params.Maker,
		Taker:        params.Taker,
		SourceEscrow: source.ID,
		DestEscrow:   dest.ID,
		State:        StatePending,
		Timelocks:    timelocks,
		Hashlock:     params.Hashlock,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var orderID [8]byte
	binary.BigEndian.PutUint64(orderID[:], params.OrderID)
	s.ID = ethcrypto.Keccak256Hash(orderID[:], source.ID[:], dest.ID[:])

	s.appendLog(LogEscrowCreated, now, map[string]string{"escrow": hex.EncodeToString(source.ID[:]), "role": "source"})
	s.appendLog(LogEscrowCreated, now, map[string]string{"escrow": hex.EncodeToString(dest.ID[:]), "role": "destination"})
	if err := e.transition(s, StateEscrowsCreated); err != nil {
		return nil, err
	}
	if err := e.storeSwap(s); err != nil {
		return nil, err
	}
	e.emit(newSwapEvent(EventTypeSwapInitiated, s))
	return s.Clone(), nil
}

// FundLeg deposits the caller's side of the pairing. The amount must match
// the leg's escrow amount. Once both legs are funded the swap becomes Active.
func (e *Engine) FundLeg(ctx context.Context, id [32]byte, role escrow.Role, caller [20]byte, amount *big.Int) error {
	if e == nil || e.escrows == nil {
		return errNilEscrows
	}
	s, err := e.loadSwap(id)
	if err != nil {
		return err
	}
	if s.State != StateEscrowsCreated && s.State != StateActive {
		return fmt.Errorf("%w: cannot fund %s swap", ErrInvalidState, s.State)
	}
	escrowID := s.SourceEscrow
	if role == escrow.RoleDestination {
		escrowID = s.DestEscrow
	}
	if err := e.escrows.Fund(ctx, escrowID, caller, amount); err != nil {
		return err
	}
	// The funding call may have yielded; reload before committing.
	s, err = e.loadSwap(id)
	if err != nil {
		return err
	}
	now := e.now()
	funded := false
	if role == escrow.RoleDestination && !s.DestFunded {
		s.DestFunded = true
		funded = true
	} else if role == escrow.RoleSource && !s.SourceFunded {
		s.SourceFunded = true
		funded = true
	}
	if funded {
		s.appendLog(LogEscrowFunded, now, map[string]string{"role": role.String()})
	}
	if s.SourceFunded && s.DestFunded && s.State == StateEscrowsCreated {
		if err := e.transition(s, StateActive); err != nil {
			return err
		}
		if err := e.storeSwap(s); err != nil {
			return err
		}
		e.emit(newSwapEvent(EventTypeSwapActive, s))
		return nil
	}
	s.UpdatedAt = now
	return e.storeSwap(s)
}

// RevealSecret publishes the preimage and settles both legs: the destination
// escrow pays the maker, then the source escrow pays the taker. If a claim
// fails the swap stays in SecretRevealed and the call can be retried; the
// secret is already public at that point.
func (e *Engine) RevealSecret(ctx context.Context, id [32]byte, caller [20]byte, secret []byte) error {
	if e == nil || e.escrows == nil {
		return errNilEscrows
	}
	s, err := e.loadSwap(id)
	if err != nil {
		return err
	}
	switch s.State {
	case StateActive:
		if !s.Hashlock.Verify(secret) {
			return ErrSecretMismatch
		}
		now := e.now()
		s.Secret = append([]byte(nil), secret...)
		s.appendLog(LogSecretRevealed, now, map[string]string{"hashlock": s.Hashlock.String()})
		if err := e.transition(s, StateSecretRevealed); err != nil {
			return err
		}
		if err := e.storeSwap(s); err != nil {
			return err
		}
		e.emit(newSwapEvent(EventTypeSwapSecretRevealed, s))
	case StateSecretRevealed:
		// Retry of an interrupted settlement.
		secret = s.Secret
	case StateCompleted:
		return nil
	default:
		return fmt.Errorf("%w: cannot reveal secret on %s swap", ErrInvalidState, s.State)
	}

	// A leg that already settled (for example via a direct escrow claim)
	// does not block the other one.
	if err := e.escrows.Claim(ctx, s.DestEscrow, caller, secret); err != nil && !errors.Is(err, escrow.ErrAlreadySettled) {
		e.noteSettlementFailure(id, "destination", err)
		return fmt.Errorf("coordination engine: destination claim: %w", err)
	}
	if err := e.escrows.Claim(ctx, s.SourceEscrow, s.Taker, secret); err != nil && !errors.Is(err, escrow.ErrAlreadySettled) {
		e.noteSettlementFailure(id, "source", err)
		return fmt.Errorf("coordination engine: source claim: %w", err)
	}

	s, err = e.loadSwap(id)
	if err != nil {
		return err
	}
	if s.State == StateCompleted {
		return nil
	}
	now := e.now()
	s.appendLog(LogEscrowCompleted, now, map[string]string{"role": "destination"})
	s.appendLog(LogEscrowCompleted, now, map[string]string{"role": "source"})
	if err := e.transition(s, StateCompleted); err != nil {
		return err
	}
	if err := e.storeSwap(s); err != nil {
		return err
	}
	e.emit(newSwapEvent(EventTypeSwapCompleted, s))
	return nil
}

// TryExpire lapses a swap once the later (source) timelock has passed:
// funded legs are refunded to their funders, unfunded legs expire, and the
// pairing moves to Expired. It returns true when a transition happened.
func (e *Engine) TryExpire(ctx context.Context, id [32]byte) (bool, error) {
	if e == nil || e.escrows == nil {
		return false, errNilEscrows
	}
	s, err := e.loadSwap(id)
	if err != nil {
		return false, err
	}
	if s.State.Terminal() {
		return false, nil
	}
	now := e.now()
	if now < s.Timelocks.Source {
		return false, nil
	}
	if err := e.settleExpiry(ctx, s.DestEscrow, "destination", s); err != nil {
		return false, err
	}
	if err := e.settleExpiry(ctx, s.SourceEscrow, "source", s); err != nil {
		return false, err
	}
	s, err = e.loadSwap(id)
	if err != nil {
		return false, err
	}
	// Re-read the log additions recorded during settlement.
	if s.State.Terminal() {
		return false, nil
	}
	if err := e.transition(s, StateExpired); err != nil {
		return false, err
	}
	if err := e.storeSwap(s); err != nil {
		return false, err
	}
	e.emit(newSwapEvent(EventTypeSwapExpired, s))
	return true, nil
}

// settleExpiry refunds a funded escrow or expires an unfunded one, logging
// the cancellation on the swap.
func (e *Engine) settleExpiry(ctx context.Context, escrowID [32]byte, role string, s *Swap) error {
	esc, err := e.escrows.Get(escrowID)
	if err != nil {
		return err
	}
	now := e.now()
	switch esc.Status {
	case escrow.StatusFunded:
		// The source leg is refunded by the taker; the destination leg by
		// its funder (also the taker).
		refunder := esc.Funder()
		if esc.Role == escrow.RoleSource {
			refunder = esc.Taker
		}
		if err := e.escrows.Refund(ctx, escrowID, refunder); err != nil {
			e.noteSettlementFailure(s.ID, role, err)
			return fmt.Errorf("coordination engine: %s refund: %w", role, err)
		}
		s.appendLog(LogEscrowCancelled, now, map[string]string{"role": role, "outcome": "refunded"})
		if err := e.storeSwap(s); err != nil {
			return err
		}
	case escrow.StatusCreated:
		if _, err := e.escrows.TryExpire(escrowID); err != nil {
			return err
		}
		s.appendLog(LogEscrowCancelled, now, map[string]string{"role": role, "outcome": "expired"})
		if err := e.storeSwap(s); err != nil {
			return err
		}
	}
	return nil
}

// maxSettlementFailures is how many ledger-side settlement failures a swap
// absorbs before it is stranded as Failed for manual intervention.
const maxSettlementFailures = 3

// noteSettlementFailure records a failed claim or refund attempt on the swap
// and strands the pairing once the failure budget is exhausted. Errors here
// are deliberately swallowed; the caller already carries the settlement error.
func (e *Engine) noteSettlementFailure(id [32]byte, role string, cause error) {
	s, err := e.loadSwap(id)
	if err != nil || s.State.Terminal() {
		return
	}
	now := e.now()
	s.FailedTxCount++
	s.appendLog(LogTransactionFailed, now, map[string]string{
		"role":  role,
		"cause": cause.Error(),
		"count": strconv.FormatUint(s.FailedTxCount, 10),
	})
	s.UpdatedAt = now
	if s.FailedTxCount < maxSettlementFailures {
		_ = e.storeSwap(s)
		return
	}
	if err := e.transition(s, StateFailed); err != nil {
		_ = e.storeSwap(s)
		return
	}
	s.appendLog(LogSwapFailed, now, map[string]string{"reason": "settlement failure budget exhausted"})
	if err := e.storeSwap(s); err != nil {
		return
	}
	e.emit(newSwapEvent(EventTypeSwapFailed, s))
}

// Fail strands an open pairing as Failed. Used by operators when a swap
// cannot make progress for reasons the engine cannot observe.
func (e *Engine) Fail(id [32]byte, reason string) error {
	s, err := e.loadSwap(id)
	if err != nil {
		return err
	}
	if err := e.transition(s, StateFailed); err != nil {
		return err
	}
	s.appendLog(LogSwapFailed, e.now(), map[string]string{"reason": reason})
	if err := e.storeSwap(s); err != nil {
		return err
	}
	e.emit(newSwapEvent(EventTypeSwapFailed, s))
	return nil
}

// RecordPartition notes a network partition with the observed finality lag
// (in seconds) and extends both timelocks to absorb it, preserving the gap
// between the legs. The new pair is returned.
func (e *Engine) RecordPartition(id [32]byte, observedLag int64) (htlc.CoordinatedTimelocks, error) {
	s, err := e.loadSwap(id)
	if err != nil {
		return htlc.CoordinatedTimelocks{}, err
	}
	if s.State.Terminal() {
		return htlc.CoordinatedTimelocks{}, fmt.Errorf("%w: swap %s", ErrInvalidState, s.State)
	}
	extension := e.coordinator.PartitionExtension(observedLag)
	if extension == 0 {
		return s.Timelocks, nil
	}
	extended := s.Timelocks.Extend(extension)
	if err := e.escrows.ExtendTimelock(s.SourceEscrow, extended.Source); err != nil {
		return htlc.CoordinatedTimelocks{}, err
	}
	if err := e.escrows.ExtendTimelock(s.DestEscrow, extended.Destination); err != nil {
		return htlc.CoordinatedTimelocks{}, err
	}
	now := e.now()
	s.Timelocks = extended
	s.ExtendedBy += extension
	s.FinalityLagSource = observedLag
	s.FinalityLagDest = observedLag
	s.UpdatedAt = now
	s.appendLog(LogPartitionDetected, now, map[string]string{
		"observedLag": strconv.FormatInt(observedLag, 10),
		"extension":   strconv.FormatInt(extension, 10),
	})
	if err := e.storeSwap(s); err != nil {
		return htlc.CoordinatedTimelocks{}, err
	}
	e.emit(newSwapEvent(EventTypeSwapPartition, s))
	return extended, nil
}

// HealthCheck probes the signer backend. A failed probe is logged on every
// open pairing and surfaced as an event.
func (e *Engine) HealthCheck(ctx context.Context) signer.HealthReport {
	if e == nil || e.health == nil {
		return signer.HealthReport{Status: signer.HealthUnavailable, Detail: "health checker not configured"}
	}
	report := e.health.Check(ctx)
	if report.Status == signer.HealthHealthy {
		return report
	}
	now := e.now()
	for _, s := range e.state.Swaps() {
		if s.State.Terminal() {
			continue
		}
		s.appendLog(LogHealthCheckFailed, now, map[string]string{
			"status": string(report.Status),
			"detail": report.Detail,
		})
		s.UpdatedAt = now
		if err := e.storeSwap(s); err != nil {
			continue
		}
		e.emit(newSwapEvent(EventTypeSwapHealthFailed, s))
	}
	return report
}

// ExpireSweep runs TryExpire over every open pairing and returns how many
// transitioned.
func (e *Engine) ExpireSweep(ctx context.Context) int {
	if e == nil || e.state == nil {
		return 0
	}
	count := 0
	for _, s := range e.state.Swaps() {
		if s.State.Terminal() {
			continue
		}
		if expired, err := e.TryExpire(ctx, s.ID); err == nil && expired {
			count++
		}
	}
	return count
}
