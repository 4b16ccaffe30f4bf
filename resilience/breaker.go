package resilience

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

// Circuit breaker states.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the conventional uppercase state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrBreakerOpen is returned when a call is rejected by an open breaker.
var ErrBreakerOpen = errors.New("Circuit breaker is OPEN")

// CircuitBreaker protects an external service client. It is process-global
// per service, mutex-guarded, and reports state changes to a HealthMonitor.
//
// State machine: CLOSED -> OPEN on reaching the failure threshold;
// OPEN -> HALF_OPEN after the recovery timeout elapses; HALF_OPEN -> CLOSED
// on a successful trial, HALF_OPEN -> OPEN on a failed one.
type CircuitBreaker struct {
	mu sync.Mutex

	service          string
	failureThreshold int
	recoveryTimeout  time.Duration

	state         BreakerState
	failures      int
	lastFailure   time.Time
	trialInFlight bool
	monitor       *HealthMonitor
	onTransition  func(from, to BreakerState)

	now func() time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithMonitor wires the breaker into a health monitor. Opening the breaker
// records service errors; closing it records a recovery.
func WithMonitor(m *HealthMonitor) BreakerOption {
	return func(b *CircuitBreaker) {
		b.monitor = m
	}
}

// WithTransitionHook registers a callback invoked on every state change.
// Used by the metrics package.
func WithTransitionHook(fn func(from, to BreakerState)) BreakerOption {
	return func(b *CircuitBreaker) {
		b.onTransition = fn
	}
}

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) {
		b.now = now
	}
}

// NewCircuitBreaker creates a breaker for the named service.
func NewCircuitBreaker(service string, failureThreshold int, recoveryTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	b := &CircuitBreaker{
		service:          service,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            BreakerClosed,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn under the breaker. When the breaker is OPEN and the
// recovery timeout has not elapsed, fn is not called and ErrBreakerOpen is
// returned.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State returns the current breaker state, applying the OPEN -> HALF_OPEN
// timeout transition if due.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

// Reset forces the breaker to CLOSED and clears the failure count.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(BreakerClosed)
	b.failures = 0
	b.trialInFlight = false
}

// allow decides whether a call may proceed. In HALF_OPEN only a single
// trial is allowed at a time; concurrent callers are rejected.
func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpenLocked()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.trialInFlight {
			return ErrBreakerOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return ErrBreakerOpen
	}
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen {
		b.trialInFlight = false
		b.transitionLocked(BreakerOpen)
		if b.monitor != nil {
			b.monitor.RecordError(b.service)
		}
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold && b.state == BreakerClosed {
		b.transitionLocked(BreakerOpen)
		if b.monitor != nil {
			b.monitor.RecordError(b.service)
		}
	}
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.trialInFlight = false
		b.transitionLocked(BreakerClosed)
		b.failures = 0
		if b.monitor != nil {
			b.monitor.RecordRecovery(b.service)
		}
		return
	}
	b.failures = 0
}

// maybeHalfOpenLocked applies the OPEN -> HALF_OPEN transition when the
// recovery timeout has elapsed. Must be called with the mutex held.
func (b *CircuitBreaker) maybeHalfOpenLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
		b.transitionLocked(BreakerHalfOpen)
	}
}

func (b *CircuitBreaker) transitionLocked(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
