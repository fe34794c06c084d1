// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package router turns a single "call tier T with this prompt" request
// into a resilient operation: per-tier rate limiting, circuit breaking,
// and bounded retry with exponential backoff and jitter.
//
// Per-tier limiter and breaker state is shared across all concurrently
// processed events. Nothing here holds a lock across the network call.
//
// Thread Safety:
//
//	Router is safe for concurrent use.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
	"github.com/johanlb/scapin-sub006/services/cognition/llm"
	"github.com/johanlb/scapin-sub006/services/cognition/telemetry"
)

// TierConfig holds the resilience settings for one tier.
type TierConfig struct {
	// RateLimit bounds call rate for the tier.
	RateLimit RateLimiterConfig `yaml:"rate_limit"`

	// Breaker configures the tier's circuit breaker.
	Breaker CircuitBreakerConfig `yaml:"breaker"`
}

// Config configures the router for all tiers.
type Config struct {
	// Tiers maps each tier to its settings. Every tier the controller
	// can escalate to must be present.
	Tiers map[datatypes.Tier]TierConfig `yaml:"tiers"`

	// Retry is the shared retry policy for transient failures.
	Retry RetryPolicy `yaml:"retry"`
}

// DefaultConfig returns conservative per-tier defaults: the cheaper the
// tier, the more calls it is allowed.
func DefaultConfig() Config {
	return Config{
		Tiers: map[datatypes.Tier]TierConfig{
			datatypes.TierFast: {
				RateLimit: RateLimiterConfig{Calls: 60, Window: time.Minute, Mode: WaitModeBlock},
				Breaker:   DefaultCircuitBreakerConfig(),
			},
			datatypes.TierStandard: {
				RateLimit: RateLimiterConfig{Calls: 30, Window: time.Minute, Mode: WaitModeBlock},
				Breaker:   DefaultCircuitBreakerConfig(),
			},
			datatypes.TierDeep: {
				RateLimit: RateLimiterConfig{Calls: 10, Window: time.Minute, Mode: WaitModeBlock},
				Breaker:   DefaultCircuitBreakerConfig(),
			},
		},
		Retry: DefaultRetryPolicy(),
	}
}

// tierState is the shared mutable state for one tier, constructed once
// and referenced by every event. Never duplicated per event.
type tierState struct {
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// Router composes the rate limiter, circuit breaker, and retrier behind
// one Call operation.
type Router struct {
	endpoint llm.Endpoint
	tiers    map[datatypes.Tier]*tierState
	retry    RetryPolicy
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	sleep func(ctx context.Context, d time.Duration) error // injectable for tests
}

// Option customizes the router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics attaches instruments for per-call recording.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// withSleep replaces the backoff sleeper. Test hook.
func withSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Router) { r.sleep = sleep }
}

// New builds a router over the given endpoint.
//
// Outputs:
//
//	*Router - Ready router with fresh per-tier state.
//	error - Non-nil when a tier's configuration is invalid or missing.
func New(endpoint llm.Endpoint, cfg Config, opts ...Option) (*Router, error) {
	if endpoint == nil {
		return nil, errors.New("router: endpoint must not be nil")
	}
	retry := cfg.Retry
	retry.applyDefaults()

	r := &Router{
		endpoint: endpoint,
		tiers:    make(map[datatypes.Tier]*tierState, len(datatypes.AllTiers())),
		retry:    retry,
		logger:   slog.Default(),
		sleep:    sleepWithContext,
	}
	for _, tier := range datatypes.AllTiers() {
		tc, ok := cfg.Tiers[tier]
		if !ok {
			return nil, fmt.Errorf("router: no configuration for tier %s", tier)
		}
		limiter, err := NewRateLimiter(tc.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("router: tier %s: %w", tier, err)
		}
		r.tiers[tier] = &tierState{
			limiter: limiter,
			breaker: NewCircuitBreaker(tc.Breaker),
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Call sends one request on the given tier with full resilience.
//
// Ordering per attempt: rate limiter admission, circuit breaker check,
// network call. Transient and rate-limited endpoint errors are retried
// up to the policy's MaxAttempts with exponential backoff and jitter;
// permanent errors and open circuits are surfaced immediately.
//
// Outputs:
//
//	*llm.Response - The endpoint response on success.
//	error - ErrCircuitOpen, ErrRateLimited (fail-fast mode), a
//	        classified *llm.ModelError, or a context error.
func (r *Router) Call(ctx context.Context, tier datatypes.Tier, req *llm.Request) (*llm.Response, error) {
	state, ok := r.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("router: unknown tier %s", tier)
	}

	var lastErr error
	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			r.metrics.RecordRetry(ctx, tier.String())
			delay := withJitter(Delay(attempt-1, r.retry), r.retry.Jitter)
			r.logger.Debug("retrying model call",
				"tier", tier.String(),
				"attempt", attempt,
				"delay", delay,
			)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := r.attempt(ctx, state, tier, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrCircuitOpen):
			// Never retried: the breaker already knows the tier is down.
			r.metrics.RecordModelCall(ctx, tier.String(), "circuit_open", 0, 0)
			return nil, err
		case errors.Is(err, ErrRateLimited):
			r.metrics.RecordModelCall(ctx, tier.String(), "rate_limited", 0, 0)
			return nil, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case llm.IsPermanent(err):
			return nil, err
		case llm.IsTransient(err):
			continue
		default:
			// Unclassified endpoint error: do not guess, surface it.
			return nil, err
		}
	}

	r.logger.Warn("model call exhausted retries",
		"tier", tier.String(),
		"attempts", r.retry.MaxAttempts,
		"error", lastErr,
	)
	return nil, lastErr
}

// attempt performs one admission-checked network call and records the
// outcome on the breaker and metrics.
func (r *Router) attempt(ctx context.Context, state *tierState, tier datatypes.Tier, req *llm.Request) (*llm.Response, error) {
	if err := state.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	if !state.breaker.Allow() {
		return nil, fmt.Errorf("%w: tier %s", ErrCircuitOpen, tier)
	}

	before := state.breaker.State()
	start := time.Now()
	resp, err := r.endpoint.Invoke(ctx, tier, req)
	elapsed := time.Since(start)

	if err != nil {
		// Cancellation is the caller's deadline, not the tier's health:
		// it never counts as a failure, but it must give back any
		// half-open trial slot this call was holding.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			state.breaker.RecordCancellation()
		} else {
			state.breaker.RecordFailure()
		}
		r.metrics.RecordModelCall(ctx, tier.String(), outcomeLabel(err), elapsed, 0)
		r.observeTransition(ctx, tier, before, state.breaker.State())
		return nil, err
	}

	state.breaker.RecordSuccess()
	r.metrics.RecordModelCall(ctx, tier.String(), "ok", elapsed, resp.TokensUsed)
	r.observeTransition(ctx, tier, before, state.breaker.State())
	return resp, nil
}

// CircuitState exposes the breaker state of a tier for observability.
func (r *Router) CircuitState(tier datatypes.Tier) CircuitState {
	if state, ok := r.tiers[tier]; ok {
		return state.breaker.State()
	}
	return CircuitClosed
}

// CircuitStates returns a snapshot of every tier's breaker state.
func (r *Router) CircuitStates() map[datatypes.Tier]CircuitState {
	out := make(map[datatypes.Tier]CircuitState, len(r.tiers))
	for tier, state := range r.tiers {
		out[tier] = state.breaker.State()
	}
	return out
}

func (r *Router) observeTransition(ctx context.Context, tier datatypes.Tier, before, after CircuitState) {
	if before == after {
		return
	}
	r.logger.Info("circuit state changed",
		"tier", tier.String(),
		"from", before.String(),
		"to", after.String(),
	)
	r.metrics.RecordCircuitTransition(ctx, tier.String(), after.String())
}

func outcomeLabel(err error) string {
	switch {
	case llm.IsRateLimited(err):
		return "rate_limited"
	case llm.IsPermanent(err):
		return "permanent_error"
	case llm.IsTransient(err):
		return "transient_error"
	default:
		return "error"
	}
}

// sleepWithContext waits d or until ctx is done, whichever comes first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
