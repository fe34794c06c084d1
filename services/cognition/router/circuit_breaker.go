// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a tier's circuit is open. No network
// attempt is made on this error.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a tier's circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows calls through normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen fast-fails all calls.
	CircuitOpen

	// CircuitHalfOpen allows exactly one trial call.
	CircuitHalfOpen
)

// String returns the human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures one tier's breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failures before opening.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold" validate:"gt=0"`

	// Cooldown is how long the circuit stays open before allowing a
	// half-open trial call. A failed trial restarts the cooldown.
	// Default: 30s
	Cooldown time.Duration `yaml:"cooldown" validate:"gt=0"`
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker tracks consecutive failures for one tier and fast-fails
// calls to a degraded tier.
//
// State transitions:
//
//	CLOSED --[threshold consecutive failures]--> OPEN
//	OPEN   --[cooldown elapsed]--> HALF_OPEN (one trial call)
//	HALF_OPEN --[trial success]--> CLOSED
//	HALF_OPEN --[trial failure]--> OPEN (cooldown restarts)
//
// Thread Safety: safe for concurrent use. The lock covers only state
// bookkeeping, never the network call itself.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	probeInFlight       bool
	lastFailureTime     time.Time
	lastStateChange     time.Time

	now func() time.Time // injectable clock for tests
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCircuitBreakerConfig().Cooldown
	}
	return &CircuitBreaker{
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// WithClock replaces the internal clock. Test hook.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	return cb
}

// Allow reports whether a call may proceed.
//
// In the open state, Allow transitions to half-open once the cooldown
// has elapsed and grants the single trial slot to the caller that
// observed the transition; everyone else keeps failing fast.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.transitionTo(CircuitHalfOpen)
			cb.probeInFlight = true
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful call. A half-open trial success
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures = 0
	case CircuitHalfOpen:
		cb.transitionTo(CircuitClosed)
	}
}

// RecordFailure records a failed call. Reaching the threshold in the
// closed state opens the circuit; any half-open failure reopens it and
// restarts the cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// RecordCancellation releases the caller's admission without judging
// the tier. Cancellation reflects the caller's deadline, not tier
// health, so it counts neither as success nor failure; a cancelled
// half-open trial hands its slot back so the next caller can try.
func (cb *CircuitBreaker) RecordCancellation() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.probeInFlight = false
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Reset forces the breaker back to closed. Testing and manual
// intervention only.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(CircuitClosed)
}

// transitionTo changes state. Must be called with the lock held.
func (cb *CircuitBreaker) transitionTo(next CircuitState) {
	cb.state = next
	cb.lastStateChange = cb.now()
	cb.probeInFlight = false
	if next == CircuitClosed {
		cb.consecutiveFailures = 0
	}
}
