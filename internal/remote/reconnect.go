package remote

import (
	"sync"
	"time"
)

// Default reconnection and watchdog parameters.
const (
	defaultBaseDelay         = 500 * time.Millisecond
	defaultMaxDelay          = 30 * time.Second
	defaultHeartbeatInterval = 5 * time.Second
	defaultIdleThreshold     = 30 * time.Second
)

// growthCap bounds the backoff exponent so the shift cannot overflow.
// Delays hit the ceiling long before this matters for sane configurations.
const growthCap = 16

// reconnectPolicy computes exponential reconnect delays with a ceiling.
// The attempt counter resets to zero on any successful connection. The run
// loop is the only scheduler, so at most one reconnect is ever pending.
type reconnectPolicy struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// next increments the attempt counter and returns the delay before the
// next connection attempt: min(maxDelay, baseDelay * 2^(attempt-1)).
func (p *reconnectPolicy) next() time.Duration {
	p.attempt++
	return backoffDelay(p.attempt, p.baseDelay, p.maxDelay)
}

// reset clears the attempt counter after a successful connection.
func (p *reconnectPolicy) reset() { p.attempt = 0 }

// backoffDelay returns min(maxDelay, baseDelay << (attempt-1)) for
// attempt >= 1.
func backoffDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > growthCap {
		shift = growthCap
	}
	d := baseDelay << uint(shift)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// heartbeat tracks inbound-message recency for the idle watchdog. It is
// written by the socket read loop and read by the watchdog goroutine.
type heartbeat struct {
	mu   sync.Mutex
	last time.Time
}

// touch records an inbound message at now.
func (h *heartbeat) touch(now time.Time) {
	h.mu.Lock()
	h.last = now
	h.mu.Unlock()
}

// idleFor returns how long the connection has gone without an inbound
// message as of now.
func (h *heartbeat) idleFor(now time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return now.Sub(h.last)
}
