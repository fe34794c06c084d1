// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock is a settable clock for breaker tests.
type manualClock struct {
	t time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *manualClock) {
	clock := newManualClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
	}).WithClock(clock.Now)
	return cb, clock
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := testBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		require.True(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State())
	}

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := testBreaker(3, 30*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, 2, cb.ConsecutiveFailures())

	cb.RecordSuccess()
	assert.Equal(t, 0, cb.ConsecutiveFailures())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb, clock := testBreaker(1, 30*time.Second)

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	clock.Advance(29 * time.Second)
	assert.False(t, cb.Allow())

	clock.Advance(time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	cb, clock := testBreaker(1, time.Second)

	cb.RecordFailure()
	clock.Advance(time.Second)

	require.True(t, cb.Allow())
	// Probe in flight: concurrent callers fail fast.
	assert.False(t, cb.Allow())
	assert.False(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_CancelledTrialReleasesSlot(t *testing.T) {
	cb, clock := testBreaker(1, time.Second)

	cb.RecordFailure()
	clock.Advance(time.Second)
	require.True(t, cb.Allow())
	require.Equal(t, CircuitHalfOpen, cb.State())

	// The trial's caller hit its own deadline mid-call. The tier was
	// never judged: the breaker stays half-open, but the slot must be
	// free for the next caller or the tier is stuck forever.
	cb.RecordCancellation()
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_CancellationInClosedIsNoOp(t *testing.T) {
	cb, _ := testBreaker(3, time.Second)

	cb.RecordFailure()
	cb.RecordCancellation()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 1, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_FailedProbeRestartsCooldown(t *testing.T) {
	cb, clock := testBreaker(1, 10*time.Second)

	cb.RecordFailure()
	clock.Advance(10 * time.Second)
	require.True(t, cb.Allow())

	clock.Advance(5 * time.Second)
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	// Cooldown restarts from the probe failure, not the original one.
	clock.Advance(9 * time.Second)
	assert.False(t, cb.Allow())
	clock.Advance(time.Second)
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := testBreaker(1, time.Hour)

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
	assert.True(t, cb.Allow())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
