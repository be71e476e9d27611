package order

import (
	"encoding/hex"
	"strconv"

	"fusiond/core/events"
)

const (
	EventTypeOrderCreated         = "order.created"
	EventTypeOrderCancelled       = "order.cancelled"
	EventTypeOrderFilled          = "order.filled"
	EventTypeOrderPartiallyFilled = "order.partially_filled"
	EventTypeOrderExpired         = "order.expired"
	EventTypeOrderFailed          = "order.failed"
)

// NewCreatedEvent returns the canonical payload for a newly created order.
func NewCreatedEvent(o *Order) *events.Event { return newOrderEvent(EventTypeOrderCreated, o) }

// NewCancelledEvent returns the payload emitted when the maker withdraws the
// order.
func NewCancelledEvent(o *Order) *events.Event { return newOrderEvent(EventTypeOrderCancelled, o) }

// NewFilledEvent returns the payload emitted when the order completes.
func NewFilledEvent(o *Order, fill Fill) *events.Event {
	evt := newOrderEvent(EventTypeOrderFilled, o)
	addFillAttributes(evt, fill)
	return evt
}

// NewPartiallyFilledEvent returns the payload emitted for each partial fill
// that leaves the order open.
func NewPartiallyFilledEvent(o *Order, fill Fill) *events.Event {
	evt := newOrderEvent(EventTypeOrderPartiallyFilled, o)
	addFillAttributes(evt, fill)
	return evt
}

// NewExpiredEvent returns the payload emitted when the order lapses.
func NewExpiredEvent(o *Order) *events.Event { return newOrderEvent(EventTypeOrderExpired, o) }

// NewFailedEvent returns the payload emitted when a fill strands funds and
// operator attention is required.
func NewFailedEvent(o *Order, detail string) *events.Event {
	evt := newOrderEvent(EventTypeOrderFailed, o)
	evt.Attributes["detail"] = detail
	return evt
}

func newOrderEvent(eventType string, o *Order) *events.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &events.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(o.ID, 10)
	attrs["maker"] = hex.EncodeToString(o.Maker[:])
	attrs["makerAsset"] = o.MakerAsset
	attrs["takerAsset"] = o.TakerAsset
	if o.MakingAmount != nil {
		attrs["makingAmount"] = o.MakingAmount.String()
	}
	if o.TakingAmount != nil {
		attrs["takingAmount"] = o.TakingAmount.String()
	}
	if o.FilledMaking != nil && o.FilledMaking.Sign() > 0 {
		attrs["filledMaking"] = o.FilledMaking.String()
	}
	attrs["status"] = o.Status.String()
	return &events.Event{Type: eventType, Attributes: attrs}
}

func addFillAttributes(evt *events.Event, fill Fill) {
	evt.Attributes["resolver"] = hex.EncodeToString(fill.Resolver[:])
	if fill.MakingAmount != nil {
		evt.Attributes["fillMaking"] = fill.MakingAmount.String()
	}
	if fill.TakingAmount != nil {
		evt.Attributes["fillTaking"] = fill.TakingAmount.String()
	}
	evt.Attributes["secretIndex"] = strconv.FormatUint(uint64(fill.SecretIndex), 10)
}
