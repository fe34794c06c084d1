// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"math/rand"
	"time"
)

// RetryPolicy configures bounded retry with exponential backoff.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1"`

	// BaseDelay is the delay before the first retry.
	// Default: 200ms
	BaseDelay time.Duration `yaml:"base_delay" validate:"gt=0"`

	// MaxDelay caps the exponential growth.
	// Default: 5s
	MaxDelay time.Duration `yaml:"max_delay" validate:"gt=0"`

	// Multiplier is the exponential factor.
	// Default: 2.0
	Multiplier float64 `yaml:"multiplier" validate:"gte=1"`

	// Jitter is the maximum random fraction added or removed (0-1).
	// Default: 0.2 (±20%)
	Jitter float64 `yaml:"jitter" validate:"gte=0,lte=1"`
}

// DefaultRetryPolicy returns production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// applyDefaults fills zero fields with defaults.
func (p *RetryPolicy) applyDefaults() {
	d := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = d.Multiplier
	}
}

// Delay is the pure backoff function: the wait before retrying after
// the given 1-based attempt, without jitter. Exponential in the attempt
// number, capped at MaxDelay.
//
// Keeping this pure (no sleeping, no randomness) makes the schedule
// directly assertable in tests; jitter is layered on by the caller.
func Delay(attempt int, p RetryPolicy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// withJitter spreads d by ±p.Jitter to avoid thundering herds.
func withJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * jitter // [-jitter, +jitter]
	return time.Duration(float64(d) * (1 + spread))
}
