package htlc

import (
	"errors"
	"fmt"
	"time"
)

// Timing constants for cross-chain timelock coordination, expressed as
// durations. The coordinator converts these to unix-second offsets.
const (
	// DefaultFinalityBuffer covers block finality on the slower chain.
	DefaultFinalityBuffer = 2 * time.Minute
	// DefaultCoordinationBuffer covers relayer and signing latency between
	// the two legs.
	DefaultCoordinationBuffer = 1 * time.Minute
	// DefaultSafetyMargin is additional headroom applied on top of the
	// chain buffers.
	DefaultSafetyMargin = 5 * time.Minute
	// MinTimelockDuration is the minimum distance between now and any
	// escrow timelock.
	MinTimelockDuration = 10 * time.Minute
)

var (
	// ErrInvalidTimelock indicates a timelock in the past or otherwise
	// malformed.
	ErrInvalidTimelock = errors.New("htlc: invalid timelock")
	// ErrTimelockTooShort indicates a base timelock that does not leave
	// room for the coordination buffers.
	ErrTimelockTooShort = errors.New("htlc: timelock too short for coordination")
	// ErrTimelockExpired indicates an operation gated on an unexpired
	// timelock arriving too late.
	ErrTimelockExpired = errors.New("htlc: timelock expired")
	// ErrTimelockNotExpired indicates an operation gated on an expired
	// timelock arriving too early.
	ErrTimelockNotExpired = errors.New("htlc: timelock not expired")
	// ErrTimelockCoordination indicates a source/destination pair whose
	// gap is below the required buffer.
	ErrTimelockCoordination = errors.New("htlc: timelock coordination violated")
)

// TimelockStatus describes a timelock relative to a point in time.
type TimelockStatus struct {
	Expired bool `json:"expired"`
	// Remaining is the number of seconds until expiry when the timelock is
	// active, zero otherwise.
	Remaining int64 `json:"remaining,omitempty"`
	// Overdue is the number of seconds since expiry when the timelock has
	// lapsed, zero otherwise.
	Overdue int64 `json:"overdue,omitempty"`
}

// StatusAt classifies the timelock (unix seconds) against now.
func StatusAt(timelock, now int64) TimelockStatus {
	if now >= timelock {
		return TimelockStatus{Expired: true, Overdue: now - timelock}
	}
	return TimelockStatus{Remaining: timelock - now}
}

// ValidateFuture checks that the timelock lies strictly in the future. This
// is the bare contract-level requirement; new escrows additionally go through
// ValidateTimelock for the coordination floor.
func ValidateFuture(timelock, now int64) error {
	if timelock <= now {
		return fmt.Errorf("%w: timelock %d not in the future (now %d)", ErrInvalidTimelock, timelock, now)
	}
	return nil
}

// ValidateTimelock checks that the timelock lies at least MinTimelockDuration
// in the future. The floor keeps a claim window open across both legs of a
// coordinated swap; callers that only need a future timestamp use
// ValidateFuture.
func ValidateTimelock(timelock, now int64) error {
	min := now + int64(MinTimelockDuration/time.Second)
	if timelock < min {
		return fmt.Errorf("%w: timelock %d below minimum %d", ErrInvalidTimelock, timelock, min)
	}
	return nil
}
