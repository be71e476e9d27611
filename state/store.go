package state

import (
	"sync"
	"time"

	"fusiond/native/coordination"
	"fusiond/native/escrow"
	"fusiond/native/order"
)

// Store is the in-process state backend shared by the escrow, order and
// coordination engines. All access goes through a single mutex; the engines
// hold entities only briefly and re-read around ledger calls, so contention
// stays low.
type Store struct {
	mu          sync.RWMutex
	escrows     map[[32]byte]*escrow.Escrow
	orders      map[uint64]*order.Order
	swaps       map[[32]byte]*coordination.Swap
	nextOrderID uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		escrows: make(map[[32]byte]*escrow.Escrow),
		orders:  make(map[uint64]*order.Order),
		swaps:   make(map[[32]byte]*coordination.Swap),
	}
}

// EscrowPut stores a copy of the escrow.
func (s *Store) EscrowPut(e *escrow.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escrows[e.ID] = e.Clone()
	return nil
}

// EscrowGet returns a copy of the escrow.
func (s *Store) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Escrows returns copies of all escrows.
func (s *Store) Escrows() []*escrow.Escrow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*escrow.Escrow, 0, len(s.escrows))
	for _, e := range s.escrows {
		out = append(out, e.Clone())
	}
	return out
}

// OrderPut stores a copy of the order.
func (s *Store) OrderPut(o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.Clone()
	return nil
}

// OrderGet returns a copy of the order.
func (s *Store) OrderGet(id uint64) (*order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Orders returns copies of all orders.
func (s *Store) Orders() []*order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	return out
}

// NextOrderID hands out the next monotonically increasing order identifier.
func (s *Store) NextOrderID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	return s.nextOrderID
}

// SwapPut stores a copy of the swap.
func (s *Store) SwapPut(sw *coordination.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps[sw.ID] = sw.Clone()
	return nil
}

// SwapGet returns a copy of the swap.
func (s *Store) SwapGet(id [32]byte) (*coordination.Swap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sw, ok := s.swaps[id]
	if !ok {
		return nil, false
	}
	return sw.Clone(), true
}

// Swaps returns copies of all swaps.
func (s *Store) Swaps() []*coordination.Swap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*coordination.Swap, 0, len(s.swaps))
	for _, sw := range s.swaps {
		out = append(out, sw.Clone())
	}
	return out
}

// Snapshot is a serializable image of the full store, taken for durable
// persistence and restored on startup.
type Snapshot struct {
	TakenAt     int64                `json:"takenAt"`
	NextOrderID uint64               `json:"nextOrderId"`
	Escrows     []*escrow.Escrow     `json:"escrows,omitempty"`
	Orders      []*order.Order       `json:"orders,omitempty"`
	Swaps       []*coordination.Swap `json:"swaps,omitempty"`
	// OrderStats carries the order engine counters, which live outside the
	// store, so they survive a restart with the rest of the state.
	OrderStats *order.Stats `json:"orderStats,omitempty"`
}

// Snapshot captures a consistent image of the store.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{
		TakenAt:     time.Now().Unix(),
		NextOrderID: s.nextOrderID,
	}
	for _, e := range s.escrows {
		snap.Escrows = append(snap.Escrows, e.Clone())
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o.Clone())
	}
	for _, sw := range s.swaps {
		snap.Swaps = append(snap.Swaps, sw.Clone())
	}
	return snap
}

// Restore replaces the store contents with the snapshot. A nil snapshot
// resets to empty, which covers first startup with no persisted state.
func (s *Store) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escrows = make(map[[32]byte]*escrow.Escrow)
	s.orders = make(map[uint64]*order.Order)
	s.swaps = make(map[[32]byte]*coordination.Swap)
	s.nextOrderID = 0
	if snap == nil {
		return
	}
	s.nextOrderID = snap.NextOrderID
	for _, e := range snap.Escrows {
		s.escrows[e.ID] = e.Clone()
	}
	for _, o := range snap.Orders {
		s.orders[o.ID] = o.Clone()
	}
	for _, sw := range snap.Swaps {
		s.swaps[sw.ID] = sw.Clone()
	}
}
