// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined instruments for the cognition service.
//
// All instruments use the "cognition_" prefix. Recording methods are
// nil-safe: a nil *Metrics silently drops recordings so callers never
// need to guard observability with conditionals.
//
// Thread Safety: safe for concurrent use after creation.
type Metrics struct {
	// --- Model call metrics ---

	// ModelCallsTotal counts model calls by tier and outcome
	// (ok, transient_error, permanent_error, rate_limited, circuit_open).
	ModelCallsTotal metric.Int64Counter

	// ModelCallDuration records model call duration in seconds by tier.
	ModelCallDuration metric.Float64Histogram

	// ModelTokensTotal counts tokens spent by tier.
	ModelTokensTotal metric.Int64Counter

	// ModelRetriesTotal counts retry attempts by tier.
	ModelRetriesTotal metric.Int64Counter

	// CircuitTransitionsTotal counts breaker state transitions by tier
	// and target state.
	CircuitTransitionsTotal metric.Int64Counter

	// --- Event metrics ---

	// EventsTotal counts finalized events by action and stop reason.
	EventsTotal metric.Int64Counter

	// EventDuration records end-to-end event processing seconds.
	EventDuration metric.Float64Histogram

	// PassesTotal counts reasoning passes by tier, type, and result.
	PassesTotal metric.Int64Counter

	// CircuitState reports each tier's breaker state on scrape
	// (0=closed, 1=open, 2=half-open). Registered lazily via
	// RegisterCircuitState once the router exists.
	CircuitState metric.Int64ObservableGauge

	meter metric.Meter
}

// NewMetrics registers all cognition instruments on the given meter.
//
// Outputs:
//
//	*Metrics - Registered instruments.
//	error - Non-nil if any instrument fails to register.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	if m.ModelCallsTotal, err = meter.Int64Counter(
		"cognition_model_calls_total",
		metric.WithDescription("Model calls by tier and outcome"),
	); err != nil {
		return nil, fmt.Errorf("register model_calls_total: %w", err)
	}
	if m.ModelCallDuration, err = meter.Float64Histogram(
		"cognition_model_call_duration_seconds",
		metric.WithDescription("Model call duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("register model_call_duration: %w", err)
	}
	if m.ModelTokensTotal, err = meter.Int64Counter(
		"cognition_model_tokens_total",
		metric.WithDescription("Model tokens spent by tier"),
	); err != nil {
		return nil, fmt.Errorf("register model_tokens_total: %w", err)
	}
	if m.ModelRetriesTotal, err = meter.Int64Counter(
		"cognition_model_retries_total",
		metric.WithDescription("Model call retry attempts by tier"),
	); err != nil {
		return nil, fmt.Errorf("register model_retries_total: %w", err)
	}
	if m.CircuitTransitionsTotal, err = meter.Int64Counter(
		"cognition_circuit_transitions_total",
		metric.WithDescription("Circuit breaker transitions by tier and state"),
	); err != nil {
		return nil, fmt.Errorf("register circuit_transitions_total: %w", err)
	}
	if m.EventsTotal, err = meter.Int64Counter(
		"cognition_events_total",
		metric.WithDescription("Finalized events by action and stop reason"),
	); err != nil {
		return nil, fmt.Errorf("register events_total: %w", err)
	}
	if m.EventDuration, err = meter.Float64Histogram(
		"cognition_event_duration_seconds",
		metric.WithDescription("End-to-end event processing duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("register event_duration: %w", err)
	}
	if m.PassesTotal, err = meter.Int64Counter(
		"cognition_passes_total",
		metric.WithDescription("Reasoning passes by tier, type, and result"),
	); err != nil {
		return nil, fmt.Errorf("register passes_total: %w", err)
	}
	return m, nil
}

// RegisterCircuitState registers the observable gauge reporting every
// tier's circuit breaker state.
//
// Inputs:
//
//	statesFunc - Invoked on each scrape; returns the state per tier
//	             label (0=closed, 1=open, 2=half-open).
//
// Outputs:
//
//	metric.Registration - Handle for cleanup. Nil on a nil receiver.
//	error - Non-nil if gauge or callback registration fails.
func (m *Metrics) RegisterCircuitState(statesFunc func() map[string]int64) (metric.Registration, error) {
	if m == nil {
		return nil, nil
	}
	var err error
	m.CircuitState, err = m.meter.Int64ObservableGauge(
		"cognition_circuit_state",
		metric.WithDescription("Circuit breaker state per tier (0=closed, 1=open, 2=half-open)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register circuit_state: %w", err)
	}
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for tier, state := range statesFunc() {
			o.ObserveInt64(m.CircuitState, state,
				metric.WithAttributes(attribute.String("tier", tier)))
		}
		return nil
	}, m.CircuitState)
}

// RecordModelCall records one model call outcome.
func (m *Metrics) RecordModelCall(ctx context.Context, tier string, outcome string, duration time.Duration, tokens int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("outcome", outcome),
	)
	m.ModelCallsTotal.Add(ctx, 1, attrs)
	m.ModelCallDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("tier", tier)))
	if tokens > 0 {
		m.ModelTokensTotal.Add(ctx, int64(tokens),
			metric.WithAttributes(attribute.String("tier", tier)))
	}
}

// RecordRetry records one retry attempt on a tier.
func (m *Metrics) RecordRetry(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	m.ModelRetriesTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCircuitTransition records a breaker state change.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, tier string, state string) {
	if m == nil {
		return
	}
	m.CircuitTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("state", state),
	))
}

// RecordEvent records a finalized event.
func (m *Metrics) RecordEvent(ctx context.Context, action string, stopReason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("stop_reason", stopReason),
	))
	m.EventDuration.Record(ctx, duration.Seconds())
}

// RecordPass records a completed or failed reasoning pass.
func (m *Metrics) RecordPass(ctx context.Context, tier string, passType string, failed bool) {
	if m == nil {
		return
	}
	result := "completed"
	if failed {
		result = "failed"
	}
	m.PassesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("type", passType),
		attribute.String("result", result),
	))
}
