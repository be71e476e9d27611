package coordination

import (
	"encoding/hex"
	"strconv"

	"fusiond/core/events"
)

const (
	EventTypeSwapInitiated      = "swap.initiated"
	EventTypeSwapActive         = "swap.active"
	EventTypeSwapSecretRevealed = "swap.secret_revealed"
	EventTypeSwapCompleted      = "swap.completed"
	EventTypeSwapExpired        = "swap.expired"
	EventTypeSwapFailed         = "swap.failed"
	EventTypeSwapPartition      = "swap.partition_detected"
	EventTypeSwapHealthFailed   = "swap.health_check_failed"
)

func newSwapEvent(eventType string, s *Swap) *events.Event {
	attrs := make(map[string]string)
	if s == nil {
		return &events.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(s.ID[:])
	attrs["orderId"] = strconv.FormatUint(s.OrderID, 10)
	attrs["state"] = s.State.String()
	attrs["sourceEscrow"] = hex.EncodeToString(s.SourceEscrow[:])
	attrs["destEscrow"] = hex.EncodeToString(s.DestEscrow[:])
	attrs["sourceTimelock"] = strconv.FormatInt(s.Timelocks.Source, 10)
	attrs["destTimelock"] = strconv.FormatInt(s.Timelocks.Destination, 10)
	return &events.Event{Type: eventType, Attributes: attrs}
}
