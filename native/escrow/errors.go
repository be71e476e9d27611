package escrow

import "errors"

var (
	// ErrNotFound indicates an unknown escrow identifier.
	ErrNotFound = errors.New("escrow engine: escrow not found")
	// ErrInvalidAmount indicates a zero or negative escrow amount, or a
	// deposit that does not match it.
	ErrInvalidAmount = errors.New("escrow engine: invalid amount")
	// ErrInvalidState indicates the escrow is not in a state that permits
	// the requested transition.
	ErrInvalidState = errors.New("escrow engine: invalid state for operation")
	// ErrAlreadySettled indicates the escrow already reached a terminal
	// status and cannot settle again.
	ErrAlreadySettled = errors.New("escrow engine: escrow already settled")
	// ErrUnauthorized indicates the caller has no claim to the requested
	// operation under the escrow's role.
	ErrUnauthorized = errors.New("escrow engine: caller not authorized")
)
