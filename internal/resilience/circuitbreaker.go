// Package resilience provides circuit breaker and provider failover primitives.
//
// The central type is [CircuitBreaker], a four-state breaker
// (healthy → degraded → broken → half-open) that protects callers from
// cascading provider failures. [FallbackGroup] composes multiple instances of
// any provider type with per-entry circuit breakers so that a failing primary
// is automatically bypassed in favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the broken state and the cool-down has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is broken")

// State represents the current operating mode of a [CircuitBreaker].
//
//	       success                   cool-down elapsed
//	   ┌──────────────┐            ┌──────────────────┐
//	   │              ▼            │                  ▼
//	Healthy ─fail→ Degraded ─fail→ Broken ─probe→ HalfOpen
//	   ▲                              │               │
//	   │                              └───── fail ────┘
//	   └────────────── success ────────── success ────┘
type State int

const (
	// StateHealthy is the normal operating state — all calls are forwarded.
	StateHealthy State = iota

	// StateDegraded is entered after fail_to_degraded consecutive failures.
	// Calls are still attempted; a further run of failures advances to Broken.
	StateDegraded

	// StateBroken means the provider is skipped during candidate selection
	// until cool_down elapses since the last failure, at which point the next
	// call is allowed through as a single HalfOpen probe.
	StateBroken

	// StateHalfOpen allows exactly one probe call. Success returns to Healthy;
	// failure returns to Broken and resets the cool-down.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateBroken:
		return "broken"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages and state-change events.
	Name string

	// FailToDegraded is the number of consecutive failures from Healthy before
	// the breaker moves to Degraded. Default: 3.
	FailToDegraded int

	// FailToBroken is the number of consecutive failures before the breaker
	// moves to Broken regardless of the state it was in. Default: 5.
	FailToBroken int

	// CoolDown is how long the breaker stays Broken before allowing a single
	// HalfOpen probe. Default: 60s.
	CoolDown time.Duration

	// OnStateChange, if set, is invoked whenever the breaker transitions,
	// reporting the previous and new state. Used to emit
	// router.provider_state_changed events.
	OnStateChange func(from, to State)
}

// CircuitBreaker implements the four-state circuit breaker described by
// [State]. It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name           string
	failToDegraded int
	failToBroken   int
	coolDown       time.Duration
	onStateChange  func(from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenInUse   bool
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with the spec's defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailToDegraded <= 0 {
		cfg.FailToDegraded = 3
	}
	if cfg.FailToBroken <= 0 {
		cfg.FailToBroken = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 60 * time.Second
	}
	return &CircuitBreaker{
		name:           cfg.Name,
		failToDegraded: cfg.FailToDegraded,
		failToBroken:   cfg.FailToBroken,
		coolDown:       cfg.CoolDown,
		onStateChange:  cfg.OnStateChange,
		state:          StateHealthy,
	}
}

// Execute runs fn if the breaker allows it. In the Broken state it returns
// [ErrCircuitOpen] without calling fn unless the cool-down has elapsed, in
// which case exactly one HalfOpen probe is allowed through.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	probing := false
	switch cb.state {
	case StateBroken:
		if time.Since(cb.lastFailure) >= cb.coolDown && !cb.halfOpenInUse {
			cb.transition(StateHalfOpen)
			probing = true
			cb.halfOpenInUse = true
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	case StateHalfOpen:
		if cb.halfOpenInUse {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		probing = true
		cb.halfOpenInUse = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probing {
		cb.halfOpenInUse = false
	}
	if err != nil {
		cb.recordFailureLocked()
	} else {
		cb.recordSuccessLocked()
	}
	return err
}

// recordFailureLocked handles failure accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailureLocked() {
	cb.lastFailure = time.Now()

	if cb.state == StateHalfOpen {
		cb.transition(StateBroken)
		cb.consecutiveFail = cb.failToBroken
		return
	}

	cb.consecutiveFail++
	switch {
	case cb.consecutiveFail >= cb.failToBroken:
		cb.transition(StateBroken)
	case cb.consecutiveFail >= cb.failToDegraded && cb.state == StateHealthy:
		cb.transition(StateDegraded)
	}
}

// recordSuccessLocked handles success accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccessLocked() {
	cb.consecutiveFail = 0
	if cb.state != StateHealthy {
		cb.transition(StateHealthy)
	}
}

// transition moves the breaker to a new state and notifies OnStateChange.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	slog.Info("circuit breaker state changed", "name", cb.name, "from", from, "to", to)
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}

// State returns the current [State] of the breaker. If the breaker is Broken
// and the cool-down has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [Execute] call) — this lets callers
// building a candidate list treat a cooled-down provider as selectable.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateBroken && time.Since(cb.lastFailure) >= cb.coolDown {
		return StateHalfOpen
	}
	return cb.state
}

// Available reports whether the breaker currently permits a call attempt
// (Healthy, Degraded, or a cooled-down Broken/HalfOpen).
func (cb *CircuitBreaker) Available() bool {
	return cb.State() != StateBroken
}

// Reset manually forces the breaker back to [StateHealthy], clearing all
// failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateHealthy)
	cb.consecutiveFail = 0
	cb.halfOpenInUse = false
}
