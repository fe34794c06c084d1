// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements the escalation loop that turns a perceived
// event into a terminal analysis result. It starts every event on the
// cheapest model tier and spends more compute only when confidence
// stays low, the stakes are high, or the cheap tier keeps failing.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
	"github.com/johanlb/scapin-sub006/services/cognition/memory"
	"github.com/johanlb/scapin-sub006/services/cognition/retriever"
	"github.com/johanlb/scapin-sub006/services/cognition/telemetry"
)

// Engine processes perceived events through tiered reasoning passes.
// Safe for concurrent use: per-event state lives in a fresh working
// memory, never on the Engine.
type Engine struct {
	cfg       Config
	caller    ModelCaller
	retriever retriever.Retriever
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	clock     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches telemetry. A nil Metrics disables recording.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// New builds an Engine.
//
// Inputs:
//
//	caller - Routes model calls per tier. Must not be nil.
//	ret - Context retrieval backend. Must not be nil; use retriever.Nop{}
//	      to run without external context.
//	cfg - Engine configuration; zero values are filled with defaults.
func New(caller ModelCaller, ret retriever.Retriever, cfg Config, opts ...Option) (*Engine, error) {
	if caller == nil {
		return nil, fmt.Errorf("engine: model caller is required")
	}
	if ret == nil {
		return nil, fmt.Errorf("engine: retriever is required (use retriever.Nop{})")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	e := &Engine{
		cfg:       cfg,
		caller:    caller,
		retriever: ret,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Process runs one event to a terminal result.
//
// The event is validated first; invalid events are rejected without
// spending any model calls. Processing is bounded by the cognitive
// timeout: when it expires, the event is finalized with the best
// available state rather than dropped.
//
// Outputs:
//
//	*datatypes.AnalysisResult - Non-nil whenever err is nil. The result
//	    always carries a best hypothesis, a stop reason, and a terminal
//	    action of apply or needs_clarification.
//	error - Validation failures or internal state defects.
func (e *Engine) Process(ctx context.Context, event *datatypes.PerceivedEvent) (*datatypes.AnalysisResult, error) {
	if event == nil {
		return nil, fmt.Errorf("engine: event is required")
	}
	if err := event.Validate(e.clock()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CognitiveTimeout)
	defer cancel()

	start := e.clock()
	e.logger.Info("processing event",
		"event_id", event.ID,
		"kind", string(event.Kind),
		"high_stakes", event.HighStakes,
		"perception_confidence", event.PerceptionConfidence,
	)

	wm := memory.New(event).WithClock(e.clock)
	ctl := &controller{
		cfg:       e.cfg,
		caller:    e.caller,
		retriever: e.retriever,
		logger:    e.logger,
		metrics:   e.metrics,
	}

	result, err := ctl.run(ctx, wm)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordEvent(ctx, string(result.Action), string(result.StopReason), e.clock().Sub(start))
	return result, nil
}

// BatchResult pairs an event with its outcome for batch processing.
type BatchResult struct {
	EventID string
	Result  *datatypes.AnalysisResult
	Err     error
}

// ProcessBatch processes events concurrently, at most MaxConcurrentEvents
// at a time. Results are returned in input order. A failed event does
// not abort the batch; its error is carried in its BatchResult.
func (e *Engine) ProcessBatch(ctx context.Context, events []*datatypes.PerceivedEvent) []BatchResult {
	results := make([]BatchResult, len(events))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentEvents)
	for i, event := range events {
		g.Go(func() error {
			id := ""
			if event != nil {
				id = event.ID
			}
			result, err := e.Process(ctx, event)
			results[i] = BatchResult{EventID: id, Result: result, Err: err}
			return nil
		})
	}
	// Goroutines never return errors; Wait only fences completion.
	_ = g.Wait()
	return results
}
