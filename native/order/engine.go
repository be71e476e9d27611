package order

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fusiond/core/events"
	"fusiond/native/htlc"
	"fusiond/native/ledger"
)

var (
	errNilState   = errors.New("order engine: state not configured")
	errNilLedgers = errors.New("order engine: ledger registry not configured")
)

type engineState interface {
	OrderPut(*Order) error
	OrderGet(id uint64) (*Order, bool)
	Orders() []*Order
	NextOrderID() uint64
}

// Engine drives the order book: creation, cancellation, Dutch-auction priced
// fills and partial fills. Transfers run through per-token ledgers with
// best-effort compensation when the second leg of a fill fails.
type Engine struct {
	state   engineState
	ledgers *ledger.Registry
	emitter events.Emitter
	nowFn   func() int64
	limiter *rate.Limiter

	// allowedAssets, when non-empty, restricts the assets orders may
	// reference.
	allowedAssets map[string]struct{}
	maxActive     int
	maxPerMaker   int

	statsMu sync.Mutex
	stats   statsCounters
}

type statsCounters struct {
	created     uint64
	filled      uint64
	cancelled   uint64
	expired     uint64
	failedFills uint64
	volume      map[string]*big.Int
	errorCounts map[string]uint64
}

// Stats is a point-in-time snapshot of the engine counters.
type Stats struct {
	OrdersCreated   uint64              `json:"ordersCreated"`
	OrdersFilled    uint64              `json:"ordersFilled"`
	OrdersCancelled uint64              `json:"ordersCancelled"`
	OrdersExpired   uint64              `json:"ordersExpired"`
	FailedFills     uint64              `json:"failedFills"`
	VolumeByToken   map[string]*big.Int `json:"volumeByToken"`
	ErrorCounts     map[string]uint64   `json:"errorCounts"`
}

// NewEngine creates an order engine with a no-op emitter and the default
// limits.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
		limiter:     rate.NewLimiter(rate.Every(time.Second), 10),
		maxActive:   DefaultMaxActiveOrders,
		maxPerMaker: DefaultMaxOrdersPerMaker,
		stats: statsCounters{
			volume:      make(map[string]*big.Int),
			errorCounts: make(map[string]uint64),
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedgers configures the per-token ledger registry.
func (e *Engine) SetLedgers(reg *ledger.Registry) { e.ledgers = reg }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetRateLimit configures order-creation throttling. A nil limiter disables
// throttling.
func (e *Engine) SetRateLimit(limiter *rate.Limiter) { e.limiter = limiter }

// SetAllowedAssets restricts orders to the supplied asset symbols. An empty
// list removes the restriction.
func (e *Engine) SetAllowedAssets(assets []string) {
	if len(assets) == 0 {
		e.allowedAssets = nil
		return
	}
	allowed := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		if normalized, err := ledger.NormalizeToken(a); err == nil {
			allowed[normalized] = struct{}{}
		}
	}
	e.allowedAssets = allowed
}

// SetLimits overrides the active-order ceilings. Non-positive values keep
// the defaults.
func (e *Engine) SetLimits(maxActive, maxPerMaker int) {
	if maxActive > 0 {
		e.maxActive = maxActive
	}
	if maxPerMaker > 0 {
		e.maxPerMaker = maxPerMaker
	}
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

// Now returns the engine's current unix time. Read-only callers use it to
// evaluate auction prices consistently with the engine clock.
func (e *Engine) Now() int64 { return e.now() }

func (e *Engine) loadOrder(id uint64) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	o, ok := e.state.OrderGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (e *Engine) storeOrder(o *Order) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.OrderPut(o)
}

func (e *Engine) countError(label string) {
	e.statsMu.Lock()
	e.stats.errorCounts[label]++
	e.statsMu.Unlock()
}

func (e *Engine) addVolume(token string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	if existing, ok := e.stats.volume[token]; ok {
		existing.Add(existing, amount)
		return
	}
	e.stats.volume[token] = new(big.Int).Set(amount)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := Stats{
		OrdersCreated:   e.stats.created,
		OrdersFilled:    e.stats.filled,
		OrdersCancelled: e.stats.cancelled,
		OrdersExpired:   e.stats.expired,
		FailedFills:     e.stats.failedFills,
		VolumeByToken:   make(map[string]*big.Int, len(e.stats.volume)),
		ErrorCounts:     make(map[string]uint64, len(e.stats.errorCounts)),
	}
	for token, v := range e.stats.volume {
		out.VolumeByToken[token] = new(big.Int).Set(v)
	}
	for label, n := range e.stats.errorCounts {
		out.ErrorCounts[label] = n
	}
	return out
}

// RestoreStats reloads the engine counters from a snapshot taken by Stats.
// Used when rebuilding state after a restart.
func (e *Engine) RestoreStats(snap Stats) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = statsCounters{
		created:     snap.OrdersCreated,
		filled:      snap.OrdersFilled,
		cancelled:   snap.OrdersCancelled,
		expired:     snap.OrdersExpired,
		failedFills: snap.FailedFills,
		volume:      make(map[string]*big.Int, len(snap.VolumeByToken)),
		errorCounts: make(map[string]uint64, len(snap.ErrorCounts)),
	}
	for token, v := range snap.VolumeByToken {
		if v != nil {
			e.stats.volume[token] = new(big.Int).Set(v)
		}
	}
	for label, n := range snap.ErrorCounts {
		e.stats.errorCounts[label] = n
	}
}

// CreateParams describes a new order.
type CreateParams struct {
	Maker          [20]byte
	Receiver       [20]byte
	MakerAsset     string
	TakerAsset     string
	MakingAmount   *big.Int
	TakingAmount   *big.Int
	ExclusiveTaker [20]byte
	Expiration     int64
	Auction        *AuctionParams
	PartsCount     uint32
	SecretHashes   []htlc.Hashlock
	Signature      []byte
}

// Create registers a new order in the Pending state.
func (e *Engine) Create(ctx context.Context, params CreateParams) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.limiter != nil && !e.limiter.Allow() {
		e.countError("rate_limited")
		return nil, ErrRateLimited
	}
	now := e.now()
	parts := params.PartsCount
	if parts == 0 {
		parts = 1
	}
	receiver := params.Receiver
	if receiver == ([20]byte{}) {
		receiver = params.Maker
	}
	o := &Order{
		Maker:          params.Maker,
		Receiver:       receiver,
		MakerAsset:     params.MakerAsset,
		TakerAsset:     params.TakerAsset,
		MakingAmount:   params.MakingAmount,
		TakingAmount:   params.TakingAmount,
		ExclusiveTaker: params.ExclusiveTaker,
		Expiration:     params.Expiration,
		Status:         StatusPending,
		Auction:        params.Auction.Clone(),
		PartsCount:     parts,
		SecretHashes:   append([]htlc.Hashlock(nil), params.SecretHashes...),
		Signature:      append([]byte(nil), params.Signature...),
		FilledMaking:   big.NewInt(0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.Validate(now); err != nil {
		e.countError("validation")
		return nil, err
	}
	makerAsset, _ := ledger.NormalizeToken(o.MakerAsset)
	takerAsset, _ := ledger.NormalizeToken(o.TakerAsset)
	if e.allowedAssets != nil {
		if _, ok := e.allowedAssets[makerAsset]; !ok {
			return nil, fmt.Errorf("%w: %s not allowed", ErrInvalidAssetPair, makerAsset)
		}
		if _, ok := e.allowedAssets[takerAsset]; !ok {
			return nil, fmt.Errorf("%w: %s not allowed", ErrInvalidAssetPair, takerAsset)
		}
	}
	o.MakerAsset = makerAsset
	o.TakerAsset = takerAsset
	o.MakingAmount = new(big.Int).Set(params.MakingAmount)
	o.TakingAmount = new(big.Int).Set(params.TakingAmount)
	if err := e.checkSystemLimits(o.Maker); err != nil {
		return nil, err
	}
	if e.ledgers != nil {
		makerLedger, err := e.ledgers.Resolve(o.MakerAsset)
		if err != nil {
			return nil, err
		}
		balance, err := makerLedger.BalanceOf(ctx, o.Maker)
		if err != nil {
			e.countError("ledger")
			return nil, err
		}
		if balance.Cmp(o.MakingAmount) < 0 {
			e.countError("insufficient_balance")
			return nil, fmt.Errorf("%w: maker holds %s of %s", ledger.ErrInsufficientFunds, balance, o.MakerAsset)
		}
	}
	o.ID = e.state.NextOrderID()
	if err := e.storeOrder(o); err != nil {
		return nil, err
	}
	e.statsMu.Lock()
	e.stats.created++
	e.statsMu.Unlock()
	e.emit(NewCreatedEvent(o))
	return o.Clone(), nil
}

func (e *Engine) checkSystemLimits(maker [20]byte) error {
	active, perMaker := 0, 0
	for _, o := range e.state.Orders() {
		if o.Status.Terminal() {
			continue
		}
		active++
		if o.Maker == maker {
			perMaker++
		}
	}
	if active >= e.maxActive {
		e.countError("system_limit")
		return fmt.Errorf("%w: %d active orders", ErrTooManyOrders, active)
	}
	if perMaker >= e.maxPerMaker {
		e.countError("maker_limit")
		return fmt.Errorf("%w: maker holds %d open orders", ErrTooManyOrders, perMaker)
	}
	return nil
}

// Get returns a copy of the order.
func (e *Engine) Get(id uint64) (*Order, error) {
	o, err := e.loadOrder(id)
	if err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

// List returns copies of all orders, optionally filtered by status. A zero
// status returns everything.
func (e *Engine) List(status Status) []*Order {
	if e == nil || e.state == nil {
		return nil
	}
	var out []*Order
	for _, o := range e.state.Orders() {
		if status != 0 && o.Status != status {
			continue
		}
		out = append(out, o.Clone())
	}
	return out
}

// ListByMaker returns copies of all orders created by the maker.
func (e *Engine) ListByMaker(maker [20]byte) []*Order {
	if e == nil || e.state == nil {
		return nil
	}
	var out []*Order
	for _, o := range e.state.Orders() {
		if o.Maker != maker {
			continue
		}
		out = append(out, o.Clone())
	}
	return out
}

// ListByPair returns copies of all orders trading the given asset pair.
func (e *Engine) ListByPair(makerAsset, takerAsset string) []*Order {
	if e == nil || e.state == nil {
		return nil
	}
	makerAsset, _ = ledger.NormalizeToken(makerAsset)
	takerAsset, _ = ledger.NormalizeToken(takerAsset)
	var out []*Order
	for _, o := range e.state.Orders() {
		if o.MakerAsset != makerAsset || o.TakerAsset != takerAsset {
			continue
		}
		out = append(out, o.Clone())
	}
	return out
}

// Cancel withdraws a pending order. Only the maker may cancel, and a
// cancelled order cannot be cancelled again.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	o, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	switch o.Status {
	case StatusCancelled:
		return ErrCancelled
	case StatusCompleted:
		return ErrAlreadyFilled
	case StatusExpired:
		return ErrExpired
	case StatusAccepted:
		return ErrFillInProgress
	case StatusFailed:
		return fmt.Errorf("%w: order is frozen", ErrManualIntervention)
	}
	if o.Filling {
		return ErrFillInProgress
	}
	if caller != o.Maker {
		return fmt.Errorf("%w: only the maker may cancel", ErrUnauthorized)
	}
	o.Status = StatusCancelled
	o.UpdatedAt = e.now()
	if err := e.storeOrder(o); err != nil {
		return err
	}
	e.statsMu.Lock()
	e.stats.cancelled++
	e.statsMu.Unlock()
	e.emit(NewCancelledEvent(o))
	return nil
}

// checkFillable validates the order's status and expiry for a fill attempt
// by taker. Expired orders are transitioned as a side effect.
func (e *Engine) checkFillable(o *Order, taker [20]byte) error {
	switch o.Status {
	case StatusCompleted:
		return ErrAlreadyFilled
	case StatusCancelled:
		return ErrCancelled
	case StatusExpired:
		return ErrExpired
	case StatusAccepted:
		return ErrFillInProgress
	case StatusFailed:
		return fmt.Errorf("%w: order is frozen", ErrManualIntervention)
	}
	if o.Filling {
		return ErrFillInProgress
	}
	if now := e.now(); now >= o.Expiration {
		o.Status = StatusExpired
		o.UpdatedAt = now
		if err := e.storeOrder(o); err != nil {
			return err
		}
		e.statsMu.Lock()
		e.stats.expired++
		e.statsMu.Unlock()
		e.emit(NewExpiredEvent(o))
		return ErrExpired
	}
	if o.ExclusiveTaker != ([20]byte{}) && taker != o.ExclusiveTaker {
		return fmt.Errorf("%w: order reserved for another taker", ErrUnauthorized)
	}
	return nil
}

// Fill takes the whole order at the current auction price: the taker pays
// the price in the taker asset to the receiver and collects the full making
// amount. The fill is at-most-once; the order is marked Accepted before any
// transfer and re-validated after each ledger call.
func (e *Engine) Fill(ctx context.Context, id uint64, taker [20]byte, fee *big.Int) error {
	if e == nil || e.ledgers == nil {
		return errNilLedgers
	}
	o, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if o.PartialFillEnabled() {
		return fmt.Errorf("%w: order with %d parts must be filled in parts", ErrInvalidSecretIndex, o.PartsCount)
	}
	if err := e.checkFillable(o, taker); err != nil {
		return err
	}
	now := e.now()
	if !o.ProfitableAt(now, fee) {
		e.countError("not_profitable")
		return fmt.Errorf("%w: price %s plus fee exceeds taking amount %s", ErrNotProfitable, o.PriceAt(now), o.TakingAmount)
	}
	price := o.PriceAt(now)

	o.Status = StatusAccepted
	o.Filling = true
	o.UpdatedAt = now
	if err := e.storeOrder(o); err != nil {
		return err
	}

	fill := Fill{
		Resolver:     taker,
		MakingAmount: new(big.Int).Set(o.MakingAmount),
		TakingAmount: price,
		FilledAt:     now,
	}
	refs, err := e.settleFill(ctx, o, taker, fill.MakingAmount, price)
	if err != nil {
		return err
	}
	fill.TxRefs = refs

	fresh, loadErr := e.loadOrder(id)
	if loadErr != nil {
		return loadErr
	}
	fresh.Status = StatusCompleted
	fresh.Filling = false
	fresh.FilledMaking = new(big.Int).Set(fresh.MakingAmount)
	fresh.Fills = append(fresh.Fills, fill)
	fresh.UpdatedAt = e.now()
	if err := e.storeOrder(fresh); err != nil {
		return err
	}
	e.statsMu.Lock()
	e.stats.filled++
	e.statsMu.Unlock()
	e.addVolume(fresh.MakerAsset, fill.MakingAmount)
	e.addVolume(fresh.TakerAsset, fill.TakingAmount)
	e.emit(NewFilledEvent(fresh, fill))
	return nil
}

// PartialFill takes fillMaking of the order's remaining making amount. The
// resolver must present the secret index implied by the cumulative fill
// level, which forces in-order consumption of the per-part secrets.
func (e *Engine) PartialFill(ctx context.Context, id uint64, resolver [20]byte, fillMaking *big.Int, secretIndex uint32, fee *big.Int) error {
	if e == nil || e.ledgers == nil {
		return errNilLedgers
	}
	o, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if !o.PartialFillEnabled() {
		return fmt.Errorf("%w: order is not splittable", ErrInvalidSecretIndex)
	}
	if err := e.checkFillable(o, resolver); err != nil {
		return err
	}
	if fillMaking == nil || fillMaking.Sign() <= 0 {
		return fmt.Errorf("%w: fill must be positive", ErrInvalidAmount)
	}
	remaining := o.RemainingMaking()
	if fillMaking.Cmp(remaining) > 0 {
		e.countError("insufficient_remaining")
		return fmt.Errorf("%w: %s requested, %s remaining", ErrInsufficientRemaining, fillMaking, remaining)
	}
	required, err := RequiredSecretIndex(o.FilledMaking, fillMaking, o.MakingAmount, o.PartsCount)
	if err != nil {
		return err
	}
	if secretIndex != required {
		e.countError("secret_index")
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidSecretIndex, secretIndex, required)
	}
	now := e.now()
	if !o.ProfitableAt(now, fee) {
		e.countError("not_profitable")
		return fmt.Errorf("%w: price %s plus fee exceeds taking amount %s", ErrNotProfitable, o.PriceAt(now), o.TakingAmount)
	}
	takingDue := TakingForMaking(o.PriceAt(now), fillMaking, o.MakingAmount)

	o.Filling = true
	o.UpdatedAt = now
	if err := e.storeOrder(o); err != nil {
		return err
	}

	fill := Fill{
		Resolver:     resolver,
		MakingAmount: new(big.Int).Set(fillMaking),
		TakingAmount: takingDue,
		SecretIndex:  required,
		FilledAt:     now,
	}
	refs, err := e.settleFill(ctx, o, resolver, fill.MakingAmount, takingDue)
	if err != nil {
		return err
	}
	fill.TxRefs = refs

	fresh, loadErr := e.loadOrder(id)
	if loadErr != nil {
		return loadErr
	}
	fresh.Filling = false
	if fresh.FilledMaking == nil {
		fresh.FilledMaking = big.NewInt(0)
	}
	fresh.FilledMaking.Add(fresh.FilledMaking, fillMaking)
	fresh.Fills = append(fresh.Fills, fill)
	fresh.UpdatedAt = e.now()
	completed := fresh.FilledMaking.Cmp(fresh.MakingAmount) >= 0
	if completed {
		fresh.Status = StatusCompleted
	}
	if err := e.storeOrder(fresh); err != nil {
		return err
	}
	e.addVolume(fresh.MakerAsset, fill.MakingAmount)
	e.addVolume(fresh.TakerAsset, fill.TakingAmount)
	if completed {
		e.statsMu.Lock()
		e.stats.filled++
		e.statsMu.Unlock()
		e.emit(NewFilledEvent(fresh, fill))
	} else {
		e.emit(NewPartiallyFilledEvent(fresh, fill))
	}
	return nil
}

// settleFill runs the two transfer legs of a fill: the taker pays takingDue
// to the receiver, then the maker's making amount moves to the taker. A
// failure on the second leg triggers a best-effort compensation of the
// first; when even the compensation fails the order is frozen for operator
// review.
func (e *Engine) settleFill(ctx context.Context, o *Order, taker [20]byte, making, takingDue *big.Int) ([]string, error) {
	takerLedger, err := e.ledgers.Resolve(o.TakerAsset)
	if err != nil {
		e.releaseFill(o.ID)
		return nil, err
	}
	makerLedger, err := e.ledgers.Resolve(o.MakerAsset)
	if err != nil {
		e.releaseFill(o.ID)
		return nil, err
	}

	takerBal, err := takerLedger.BalanceOf(ctx, taker)
	if err != nil {
		e.releaseFill(o.ID)
		return nil, fmt.Errorf("%w: %v", ledger.ErrCallFailed, err)
	}
	if takerBal.Cmp(takingDue) < 0 {
		e.releaseFill(o.ID)
		e.countError("insufficient_funds")
		return nil, fmt.Errorf("%w: taker balance %s below %s", ledger.ErrInsufficientFunds, takerBal, takingDue)
	}
	makerBal, err := makerLedger.BalanceOf(ctx, o.Maker)
	if err != nil {
		e.releaseFill(o.ID)
		return nil, fmt.Errorf("%w: %v", ledger.ErrCallFailed, err)
	}
	if makerBal.Cmp(making) < 0 {
		e.releaseFill(o.ID)
		e.countError("insufficient_funds")
		return nil, fmt.Errorf("%w: maker balance %s below %s", ledger.ErrInsufficientFunds, makerBal, making)
	}

	takerRef, err := takerLedger.Transfer(ctx, taker, o.Receiver, takingDue)
	if err != nil {
		e.releaseFill(o.ID)
		e.countError("transfer")
		return nil, err
	}
	makerRef, err := makerLedger.Transfer(ctx, o.Maker, taker, making)
	if err != nil {
		// Unwind the first leg before releasing the order.
		if _, compErr := takerLedger.Transfer(ctx, o.Receiver, taker, takingDue); compErr != nil {
			e.freezeOrder(o.ID, fmt.Sprintf("leg rollback failed: %v after %v", compErr, err))
			e.countError("rollback_failed")
			return nil, fmt.Errorf("%w: %v (rollback: %v)", ErrManualIntervention, err, compErr)
		}
		e.releaseFill(o.ID)
		e.countError("transfer")
		return nil, err
	}
	return []string{takerRef, makerRef}, nil
}

// releaseFill clears the fill marker, returning an Accepted order to
// Pending.
func (e *Engine) releaseFill(id uint64) {
	o, err := e.loadOrder(id)
	if err != nil {
		return
	}
	o.Filling = false
	if o.Status == StatusAccepted {
		o.Status = StatusPending
	}
	o.UpdatedAt = e.now()
	_ = e.storeOrder(o)
}

// freezeOrder parks the order in the Failed state after a stranded transfer.
func (e *Engine) freezeOrder(id uint64, detail string) {
	o, err := e.loadOrder(id)
	if err != nil {
		return
	}
	o.Filling = false
	o.Status = StatusFailed
	o.UpdatedAt = e.now()
	if storeErr := e.storeOrder(o); storeErr != nil {
		return
	}
	e.statsMu.Lock()
	e.stats.failedFills++
	e.statsMu.Unlock()
	e.emit(NewFailedEvent(o, detail))
}

// ExpireSweep transitions pending orders past their expiration to Expired
// and returns how many transitioned.
func (e *Engine) ExpireSweep() int {
	if e == nil || e.state == nil {
		return 0
	}
	now := e.now()
	count := 0
	for _, o := range e.state.Orders() {
		if o.Status != StatusPending || o.Filling || now < o.Expiration {
			continue
		}
		o.Status = StatusExpired
		o.UpdatedAt = now
		if err := e.storeOrder(o); err != nil {
			continue
		}
		count++
		e.emit(NewExpiredEvent(o))
	}
	if count > 0 {
		e.statsMu.Lock()
		e.stats.expired += uint64(count)
		e.statsMu.Unlock()
	}
	return count
}
