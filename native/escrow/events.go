package escrow

import (
	"encoding/hex"
	"strconv"

	"fusiond/core/events"
)

const (
	EventTypeEscrowCreated  = "escrow.created"
	EventTypeEscrowFunded   = "escrow.funded"
	EventTypeEscrowClaimed  = "escrow.claimed"
	EventTypeEscrowRefunded = "escrow.refunded"
	EventTypeEscrowExpired  = "escrow.expired"
)

// NewCreatedEvent returns the canonical payload for a newly created escrow.
func NewCreatedEvent(e *Escrow) *events.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewFundedEvent returns the payload emitted when the deposit lands in the
// vault.
func NewFundedEvent(e *Escrow) *events.Event { return newEscrowEvent(EventTypeEscrowFunded, e) }

// NewClaimedEvent returns the payload emitted when the recipient claims the
// escrow with the secret.
func NewClaimedEvent(e *Escrow) *events.Event {
	evt := newEscrowEvent(EventTypeEscrowClaimed, e)
	if e != nil && len(e.Secret) > 0 {
		evt.Attributes["secret"] = hex.EncodeToString(e.Secret)
	}
	return evt
}

// NewRefundedEvent returns the payload emitted when the funder recovers the
// deposit after expiry.
func NewRefundedEvent(e *Escrow) *events.Event { return newEscrowEvent(EventTypeEscrowRefunded, e) }

// NewExpiredEvent returns the payload emitted when an unfunded escrow lapses.
func NewExpiredEvent(e *Escrow) *events.Event { return newEscrowEvent(EventTypeEscrowExpired, e) }

func newEscrowEvent(eventType string, e *Escrow) *events.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &events.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(e.ID[:])
	attrs["role"] = e.Role.String()
	attrs["token"] = e.Token
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	attrs["maker"] = hex.EncodeToString(e.Maker[:])
	attrs["taker"] = hex.EncodeToString(e.Taker[:])
	attrs["hashlock"] = e.Hashlock.String()
	attrs["timelock"] = strconv.FormatInt(e.Timelock, 10)
	attrs["status"] = e.Status.String()
	return &events.Event{Type: eventType, Attributes: attrs}
}
