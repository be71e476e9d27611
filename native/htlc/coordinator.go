package htlc

import (
	"fmt"
	"time"
)

// CoordinatedTimelocks carries the two escrow expirations produced by the
// conservative coordination strategy. The source leg always outlives the
// destination leg so the party revealing the secret on the destination chain
// can still claim the source escrow afterwards.
type CoordinatedTimelocks struct {
	// Source is the unix-second expiration of the source-chain escrow.
	Source int64 `json:"source"`
	// Destination is the unix-second expiration of the destination-chain
	// escrow, always earlier than Source by at least Buffer.
	Destination int64 `json:"destination"`
	// Buffer is the enforced gap in seconds between the two legs.
	Buffer int64 `json:"buffer"`
}

// Coordinator derives and validates cross-chain timelock pairs. The zero
// value is not usable; construct with NewCoordinator.
type Coordinator struct {
	finality     int64
	coordination int64
	safety       int64
	minDuration  int64
}

// NewCoordinator returns a coordinator with the default buffers.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		finality:     int64(DefaultFinalityBuffer / time.Second),
		coordination: int64(DefaultCoordinationBuffer / time.Second),
		safety:       int64(DefaultSafetyMargin / time.Second),
		minDuration:  int64(MinTimelockDuration / time.Second),
	}
}

// WithBuffers overrides the finality and coordination buffers. Non-positive
// values keep the existing setting.
func (c *Coordinator) WithBuffers(finality, coordination, safety, minDuration time.Duration) *Coordinator {
	if c == nil {
		return nil
	}
	if finality > 0 {
		c.finality = int64(finality / time.Second)
	}
	if coordination > 0 {
		c.coordination = int64(coordination / time.Second)
	}
	if safety > 0 {
		c.safety = int64(safety / time.Second)
	}
	if minDuration > 0 {
		c.minDuration = int64(minDuration / time.Second)
	}
	return c
}

// Buffer returns the enforced gap in seconds between the source and
// destination timelocks.
func (c *Coordinator) Buffer() int64 {
	if c == nil {
		return 0
	}
	return c.finality + c.coordination
}

// SafetyMargin returns the additional headroom in seconds applied on top of
// the buffers when deriving pairs.
func (c *Coordinator) SafetyMargin() int64 {
	if c == nil {
		return 0
	}
	return c.safety
}

// ConservativeTimelocks derives a source/destination pair from a base
// timelock. The source chain keeps the base expiration and the destination
// chain expires one buffer earlier. The base must leave the destination leg
// at least the minimum duration plus the safety margin from now.
func (c *Coordinator) ConservativeTimelocks(base, now int64) (CoordinatedTimelocks, error) {
	if c == nil {
		return CoordinatedTimelocks{}, fmt.Errorf("%w: coordinator not configured", ErrInvalidTimelock)
	}
	buffer := c.Buffer()
	destination := base - buffer
	floor := now + c.minDuration + c.safety
	if destination < floor {
		return CoordinatedTimelocks{}, fmt.Errorf("%w: base %d leaves destination %d below floor %d", ErrTimelockTooShort, base, destination, floor)
	}
	return CoordinatedTimelocks{Source: base, Destination: destination, Buffer: buffer}, nil
}

// ValidateCoordination checks an externally supplied pair: the source leg
// must outlive the destination leg by at least the buffer, and both must be
// in the future.
func (c *Coordinator) ValidateCoordination(source, destination, now int64) error {
	if c == nil {
		return fmt.Errorf("%w: coordinator not configured", ErrInvalidTimelock)
	}
	if source <= now || destination <= now {
		return fmt.Errorf("%w: timelock in the past", ErrInvalidTimelock)
	}
	if gap := source - destination; gap < c.Buffer() {
		return fmt.Errorf("%w: gap %ds below buffer %ds", ErrTimelockCoordination, gap, c.Buffer())
	}
	return nil
}

// PartitionExtension returns the number of seconds both timelocks should be
// extended by when a network partition with the observed finality lag is
// detected. Extending by half the lag keeps the pair's relative gap intact
// while absorbing the delayed finality.
func (c *Coordinator) PartitionExtension(finalityLag int64) int64 {
	if c == nil || finalityLag <= 0 {
		return 0
	}
	return finalityLag / 2
}

// Extend shifts both legs of the pair forward by the supplied number of
// seconds, preserving the buffer.
func (t CoordinatedTimelocks) Extend(seconds int64) CoordinatedTimelocks {
	if seconds <= 0 {
		return t
	}
	return CoordinatedTimelocks{
		Source:      t.Source + seconds,
		Destination: t.Destination + seconds,
		Buffer:      t.Buffer,
	}
}
