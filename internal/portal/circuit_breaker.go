package portal

import (
	"sync"
	"time"

	"github.com/pitabwire/hibah/internal/config"
)

// BreakerState is the state of the portal circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets trial calls through after the cool-down.
	BreakerHalfOpen
	// BreakerOpen rejects calls without contacting the backend.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	}
	return "unknown"
}

// minRateSamples is how many calls a window must hold before the error rate
// can trip the breaker.
const minRateSamples = 10

// CircuitBreaker trips after a run of consecutive failures, or when the error
// rate within a tumbling window crosses a threshold. It is safe for
// concurrent use.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg config.CircuitBreakerConfig
	now func() time.Time

	state     BreakerState
	openedAt  time.Time
	failures  int
	successes int

	windowStart    time.Time
	windowCalls    int
	windowFailures int

	onChange func(BreakerState)
}

// NewCircuitBreaker creates a closed breaker. Zero thresholds fall back to
// 5 failures, 2 half-open successes and a 30s cool-down. A zero error rate
// threshold or window disables rate-based tripping.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cb := &CircuitBreaker{cfg: cfg, now: time.Now}
	cb.windowStart = cb.now()
	return cb
}

// OnStateChange registers fn to be called, under the breaker lock, whenever
// the state changes.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.coolDown()
	return cb.state != BreakerOpen
}

// RecordSuccess records a call the backend answered without a server error.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.countCall(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(BreakerClosed)
		}
	}
}

// RecordFailure records a transport failure or server error.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.countCall(true)
		if cb.failures >= cb.cfg.FailureThreshold || cb.rateExceeded() {
			cb.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.transition(BreakerOpen)
	}
}

// State returns the current state, applying the cool-down first.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.coolDown()
	return cb.state
}

// ErrorRate returns the failure ratio and call count of the current window.
func (cb *CircuitBreaker) ErrorRate() (rate float64, calls int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollWindow()
	if cb.windowCalls == 0 {
		return 0, 0
	}
	return float64(cb.windowFailures) / float64(cb.windowCalls), cb.windowCalls
}

// The helpers below require cb.mu.

func (cb *CircuitBreaker) coolDown() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.cfg.Timeout {
		cb.transition(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	cb.successes = 0
	switch to {
	case BreakerOpen:
		cb.openedAt = cb.now()
		cb.resetWindow()
	case BreakerClosed:
		cb.failures = 0
		cb.resetWindow()
	}
	if cb.onChange != nil {
		cb.onChange(to)
	}
}

func (cb *CircuitBreaker) rateEnabled() bool {
	return cb.cfg.ErrorRateThreshold > 0 && cb.cfg.ErrorRateWindow > 0
}

func (cb *CircuitBreaker) countCall(failed bool) {
	if cb.cfg.ErrorRateWindow <= 0 {
		return
	}
	cb.rollWindow()
	cb.windowCalls++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) rollWindow() {
	if cb.cfg.ErrorRateWindow > 0 && cb.now().Sub(cb.windowStart) > cb.cfg.ErrorRateWindow {
		cb.resetWindow()
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowCalls = 0
	cb.windowFailures = 0
}

func (cb *CircuitBreaker) rateExceeded() bool {
	if !cb.rateEnabled() || cb.windowCalls < minRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowCalls) >= cb.cfg.ErrorRateThreshold
}
