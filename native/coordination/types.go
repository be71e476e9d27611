package coordination

import "fusiond/native/htlc"

// State tracks the lifecycle of a cross-chain swap pairing.
type State uint8

const (
	// StatePending means the pairing exists but its escrows do not yet.
	StatePending State = iota + 1
	// StateEscrowsCreated means both escrows are registered on their
	// chains.
	StateEscrowsCreated
	// StateActive means both escrows are funded and the swap can settle.
	StateActive
	// StateSecretRevealed means the preimage is public and claims are in
	// flight.
	StateSecretRevealed
	// StateCompleted means both legs were claimed.
	StateCompleted
	// StateExpired means the coordination window lapsed and funded legs
	// were refunded.
	StateExpired
	// StateFailed means the swap stranded in a shape that needs operator
	// attention.
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEscrowsCreated:
		return "escrows_created"
	case StateActive:
		return "active"
	case StateSecretRevealed:
		return "secret_revealed"
	case StateCompleted:
		return "completed"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateFailed
}

// canTransition encodes the pairing state machine. Expired and Failed are
// reachable from any non-terminal state.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateExpired || to == StateFailed {
		return true
	}
	switch from {
	case StatePending:
		return to == StateEscrowsCreated
	case StateEscrowsCreated:
		return to == StateActive
	case StateActive:
		return to == StateSecretRevealed
	case StateSecretRevealed:
		return to == StateCompleted
	default:
		return false
	}
}

// Log entry types recorded in a pairing's append-only event log.
const (
	LogEscrowCreated     = "escrow_created"
	LogEscrowFunded      = "escrow_funded"
	LogSecretRevealed    = "secret_revealed"
	LogEscrowCompleted   = "escrow_completed"
	LogEscrowCancelled   = "escrow_cancelled"
	LogPartitionDetected = "network_partition_detected"
	LogHealthCheckFailed = "health_check_failed"
	LogTransactionFailed = "transaction_failed"
	LogSwapFailed        = "swap_failed"
)

// LogEntry is one record in a pairing's append-only log. Sequence numbers
// are assigned in emission order and never reused.
type LogEntry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	At         int64             `json:"at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Swap pairs the two escrows of a cross-chain exchange and carries the
// coordination state between them.
type Swap struct {
	ID           [32]byte                  `json:"id"`
	OrderID      uint64                    `json:"orderId"`
	Maker        [20]byte                  `json:"maker"`
	Taker        [20]byte                  `json:"taker"`
	SourceEscrow [32]byte                  `json:"sourceEscrow"`
	DestEscrow   [32]byte                  `json:"destEscrow"`
	State        State                     `json:"state"`
	Timelocks    htlc.CoordinatedTimelocks `json:"timelocks"`
	Hashlock     htlc.Hashlock             `json:"hashlock"`
	// Secret is recorded once revealed.
	Secret       []byte `json:"secret,omitempty"`
	SourceFunded bool   `json:"sourceFunded"`
	DestFunded   bool   `json:"destFunded"`
	// ExtendedBy accumulates partition extensions in seconds.
	ExtendedBy int64 `json:"extendedBy,omitempty"`
	// FinalityLagSource and FinalityLagDest hold the last observed
	// finality lag per chain, in seconds.
	FinalityLagSource int64 `json:"finalityLagSrc,omitempty"`
	FinalityLagDest   int64 `json:"finalityLagDst,omitempty"`
	// FailedTxCount counts failed settlement attempts across both legs.
	FailedTxCount uint64     `json:"failedTxCount,omitempty"`
	CreatedAt     int64      `json:"createdAt"`
	UpdatedAt     int64      `json:"updatedAt"`
	Log           []LogEntry `json:"log,omitempty"`
}

// Clone returns a deep copy of the swap.
func (s *Swap) Clone() *Swap {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Secret != nil {
		cp.Secret = append([]byte(nil), s.Secret...)
	}
	if s.Log != nil {
		cp.Log = make([]LogEntry, len(s.Log))
		for i, entry := range s.Log {
			cp.Log[i] = entry
			if entry.Attributes != nil {
				attrs := make(map[string]string, len(entry.Attributes))
				for k, v := range entry.Attributes {
					attrs[k] = v
				}
				cp.Log[i].Attributes = attrs
			}
		}
	}
	return &cp
}

func (s *Swap) appendLog(entryType string, at int64, attrs map[string]string) {
	s.Log = append(s.Log, LogEntry{
		Sequence:   uint64(len(s.Log) + 1),
		Type:       entryType,
		At:         at,
		Attributes: attrs,
	})
}
