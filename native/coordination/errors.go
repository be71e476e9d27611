package coordination

import "errors"

var (
	// ErrNotFound indicates an unknown swap identifier.
	ErrNotFound = errors.New("coordination engine: swap not found")
	// ErrInvalidState indicates the swap is not in a state that permits
	// the requested transition.
	ErrInvalidState = errors.New("coordination engine: invalid state for operation")
	// ErrSignerUnhealthy indicates the signing backend is degraded or
	// unavailable and new pairings are refused.
	ErrSignerUnhealthy = errors.New("coordination engine: signer unhealthy")
	// ErrSecretMismatch indicates a revealed secret that does not match
	// the pairing's hashlock.
	ErrSecretMismatch = errors.New("coordination engine: secret does not match hashlock")
)
