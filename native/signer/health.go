package signer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"sync"
	"time"
)

// HealthStatus classifies the signing backend.
type HealthStatus string

const (
	// HealthHealthy means signing and derivation both succeed and the
	// recent failure count is within tolerance.
	HealthHealthy HealthStatus = "healthy"
	// HealthDegraded means the backend still works but has accumulated
	// recent failures; new swap pairings should be refused.
	HealthDegraded HealthStatus = "degraded"
	// HealthUnavailable means the backend cannot sign at all.
	HealthUnavailable HealthStatus = "unavailable"
)

// failureTolerance is the number of recent failures above which a working
// backend is reported as degraded.
const failureTolerance = 3

// failureWindow bounds how long a recorded failure counts against the
// backend.
const failureWindow = 10 * time.Minute

// HealthReport is the result of a single health probe.
type HealthReport struct {
	Status         HealthStatus `json:"status"`
	RecentFailures int          `json:"recentFailures"`
	CheckedAt      int64        `json:"checkedAt"`
	Detail         string       `json:"detail,omitempty"`
}

// HealthChecker probes a Signer by running a test signature and a test
// derivation, and tracks recent signing failures reported by callers.
type HealthChecker struct {
	signer Signer
	nowFn  func() time.Time

	mu       sync.Mutex
	failures []time.Time
}

// NewHealthChecker returns a checker for the supplied signer.
func NewHealthChecker(s Signer) *HealthChecker {
	return &HealthChecker{signer: s, nowFn: time.Now}
}

// SetNowFunc overrides the time source. Intended for tests.
func (h *HealthChecker) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	h.nowFn = now
}

// RecordFailure notes a signing failure observed by a caller. Failures age
// out after the failure window.
func (h *HealthChecker) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, h.nowFn())
}

func (h *HealthChecker) recentFailures(now time.Time) int {
	cutoff := now.Add(-failureWindow)
	kept := h.failures[:0]
	for _, ts := range h.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	h.failures = kept
	return len(kept)
}

// Check probes the signer and returns a health report.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	now := h.nowFn()
	report := HealthReport{CheckedAt: now.Unix()}
	if h.signer == nil {
		report.Status = HealthUnavailable
		report.Detail = "signer not configured"
		return report
	}

	digest := sha256.Sum256([]byte("fusiond health probe"))
	if _, err := h.signer.Sign(ctx, digest[:]); err != nil {
		h.mu.Lock()
		h.failures = append(h.failures, now)
		h.mu.Unlock()
		report.Status = HealthUnavailable
		report.Detail = err.Error()
		return report
	}

	// Derivation must be deterministic for vault addresses to be
	// recomputable.
	a := h.signer.DeriveAddress([]byte("probe"))
	b := h.signer.DeriveAddress([]byte("probe"))
	if !bytes.Equal(a[:], b[:]) {
		report.Status = HealthUnavailable
		report.Detail = "address derivation not deterministic"
		return report
	}

	h.mu.Lock()
	report.RecentFailures = h.recentFailures(now)
	h.mu.Unlock()
	if report.RecentFailures > failureTolerance {
		report.Status = HealthDegraded
		return report
	}
	report.Status = HealthHealthy
	return report
}
