package registry

import (
	"sync/atomic"

	"snowcast/internal/limits"
)

// sendHealth is a per-client circuit breaker over datagram sends, grounded
// on the teacher's client.go sendHealth type. It isolates one client's
// persistent send failures from the rest of the broadcast fan-out: once
// open, the breaker skips sends except for a periodic probe.
type sendHealth struct {
	failures atomic.Uint32
	skips    atomic.Uint32
}

// shouldSkip reports whether the next send should be skipped without being
// attempted. While the breaker is open it lets through one probe send every
// CircuitBreakerProbeInterval skips.
func (h *sendHealth) shouldSkip() bool {
	if h.failures.Load() < limits.CircuitBreakerThreshold {
		return false
	}
	n := h.skips.Add(1)
	if n%limits.CircuitBreakerProbeInterval == 0 {
		return false
	}
	return true
}

// recordFailure counts a failed send attempt.
func (h *sendHealth) recordFailure() {
	h.failures.Add(1)
}

// recordSuccess resets the breaker after a send succeeds.
func (h *sendHealth) recordSuccess() {
	h.failures.Store(0)
	h.skips.Store(0)
}

// open reports whether the breaker is currently tripped.
func (h *sendHealth) open() bool {
	return h.failures.Load() >= limits.CircuitBreakerThreshold
}
