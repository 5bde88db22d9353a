package httpclient

import (
	"sync"
	"time"
)

// CircuitState is the position of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed lets every request through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the cool-down has passed.
	CircuitOpen
	// CircuitHalfOpen admits a limited number of probe requests.
	CircuitHalfOpen
)

var circuitStateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if name, ok := circuitStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// CircuitBreaker stops requests to a failing feed host for a while.
type CircuitBreaker struct {
	threshold int
	coolDown  time.Duration
	maxProbes int
	now       func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	probes    int
	trippedAt time.Time
}

// NewCircuitBreaker returns a closed breaker that trips after threshold
// consecutive failures, stays open for coolDown and then admits up to
// maxProbes requests to test the host.
func NewCircuitBreaker(threshold int, coolDown time.Duration, maxProbes int) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		coolDown:  coolDown,
		maxProbes: maxProbes,
		now:       time.Now,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.trippedAt) < cb.coolDown {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probes = 0
	}
	if cb.state == CircuitHalfOpen {
		if cb.probes >= cb.maxProbes {
			return false
		}
		cb.probes++
	}
	return true
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probes = 0
	cb.mu.Unlock()
}

// RecordFailure counts a failure. A failed probe trips the breaker again
// straight away.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || (cb.state == CircuitClosed && cb.failures >= cb.threshold) {
		cb.state = CircuitOpen
		cb.trippedAt = cb.now()
	}
}

// Abandon hands back the admission of a request that ended without telling
// anything about the host, such as one cancelled by its caller.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	if cb.state == CircuitHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	cb.mu.Unlock()
}

// Reset closes the breaker as if the last request had succeeded.
func (cb *CircuitBreaker) Reset() {
	cb.RecordSuccess()
}

// State returns the current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the failure count since the last success.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
