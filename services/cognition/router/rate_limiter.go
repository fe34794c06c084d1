// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned in fail-fast mode when a tier's window
// has no capacity. The event is never dropped on this error; the
// controller decides what to do with the failed call.
var ErrRateLimited = errors.New("tier rate limit exceeded")

// WaitMode selects what Acquire does when a tier is at its limit.
//
// The choice is explicit configuration, not an implicit default buried
// in the limiter: Block waits for capacity bounded by the caller's
// context deadline; FailFast returns ErrRateLimited immediately.
type WaitMode string

const (
	// WaitModeBlock waits until capacity frees or the context expires.
	WaitModeBlock WaitMode = "block"

	// WaitModeFailFast returns ErrRateLimited without waiting.
	WaitModeFailFast WaitMode = "fail_fast"
)

// RateLimiterConfig bounds call rate for one tier.
type RateLimiterConfig struct {
	// Calls is the number of calls allowed per Window.
	Calls int `yaml:"calls" validate:"gt=0"`

	// Window is the duration the Calls budget applies to.
	Window time.Duration `yaml:"window" validate:"gt=0"`

	// Mode is Block or FailFast. Default: Block.
	Mode WaitMode `yaml:"mode" validate:"omitempty,oneof=block fail_fast"`
}

// RateLimiter is a token-bucket admission control for one tier, shared
// across every event touching that tier.
//
// Thread Safety: safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	mode    WaitMode
}

// NewRateLimiter builds a limiter refilling Calls tokens per Window,
// with a burst of Calls.
func NewRateLimiter(cfg RateLimiterConfig) (*RateLimiter, error) {
	if cfg.Calls <= 0 || cfg.Window <= 0 {
		return nil, fmt.Errorf("rate limiter: calls and window must be positive (got %d per %s)",
			cfg.Calls, cfg.Window)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = WaitModeBlock
	}
	every := cfg.Window / time.Duration(cfg.Calls)
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(every), cfg.Calls),
		mode:    mode,
	}, nil
}

// Acquire takes one call slot.
//
// In Block mode it waits for capacity, bounded by ctx; the returned
// error is the context error when the deadline wins. In FailFast mode
// it returns ErrRateLimited when the bucket is empty.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	switch l.mode {
	case WaitModeFailFast:
		if !l.limiter.Allow() {
			return ErrRateLimited
		}
		return nil
	default:
		return l.limiter.Wait(ctx)
	}
}

// Mode returns the configured wait mode.
func (l *RateLimiter) Mode() WaitMode { return l.mode }
