// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory implements the per-event working memory: hypotheses,
// reasoning passes, retrieved context, and overall confidence for one
// perceived event.
//
// A WorkingMemory is created when an event enters the engine, mutated
// only by the pass controller driving that event, and discarded (or
// handed off as an audit record) once a terminal state is reached. It is
// never reused across events.
//
// Thread Safety:
//
//	WorkingMemory is NOT safe for concurrent use and does not need to
//	be: exactly one goroutine owns each instance for its whole lifetime.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

// Sentinel errors for working memory misuse. A StateError-class failure
// indicates a programming defect in the caller, not a runtime condition,
// and is never swallowed.
var (
	// ErrState is wrapped by every invalid-transition failure
	// (two open passes, completing with none open, tier regression).
	ErrState = errors.New("working memory state error")

	// ErrDuplicateHypothesis is returned by AddHypothesis when the ID
	// already exists and replace was not requested.
	ErrDuplicateHypothesis = errors.New("duplicate hypothesis id")
)

// State is the lifecycle state of a working memory.
type State string

const (
	// StateInitialized means created, no pass started yet.
	StateInitialized State = "initialized"

	// StateReasoning means a pass is currently open.
	StateReasoning State = "reasoning"

	// StateBetweenPasses means at least one pass closed, none open.
	StateBetweenPasses State = "between_passes"

	// StateFinalized means a terminal stop reason has been recorded.
	StateFinalized State = "finalized"
)

// PassOutcome carries everything CompletePass records for the open pass.
type PassOutcome struct {
	// Confidence is the new overall confidence, clamped to [0,1].
	Confidence float64

	// TokensUsed is the model token cost of the pass.
	TokensUsed int

	// Insights and OpenQuestions raised by the pass.
	Insights      []string
	OpenQuestions []string

	// HighStakes marks the pass as having derived elevated stakes.
	HighStakes bool
}

// WorkingMemory holds all mutable state for one event's analysis.
type WorkingMemory struct {
	event *datatypes.PerceivedEvent

	hypotheses map[string]*datatypes.Hypothesis
	hypOrder   []string // insertion order, for deterministic ties

	passes   []datatypes.ReasoningPass
	openPass *datatypes.ReasoningPass

	contextItems  []datatypes.ContextItem
	openQuestions []string

	overallConfidence float64
	tier              datatypes.Tier
	highStakes        bool

	state      State
	stopReason datatypes.StopReason

	now func() time.Time // injectable clock for tests
}

// New creates a working memory for the given event.
//
// Overall confidence is seeded from the event's upstream perception
// confidence (zero if absent), the tier starts at Fast, and the
// high-stakes flag starts from the event hint.
func New(event *datatypes.PerceivedEvent) *WorkingMemory {
	return &WorkingMemory{
		event:             event,
		hypotheses:        make(map[string]*datatypes.Hypothesis),
		overallConfidence: clamp01(event.PerceptionConfidence),
		tier:              datatypes.TierFast,
		highStakes:        event.HighStakes,
		state:             StateInitialized,
		now:               time.Now,
	}
}

// WithClock replaces the internal clock. Test hook.
func (wm *WorkingMemory) WithClock(now func() time.Time) *WorkingMemory {
	wm.now = now
	return wm
}

// Event returns the perceived event this memory belongs to.
func (wm *WorkingMemory) Event() *datatypes.PerceivedEvent { return wm.event }

// State returns the current lifecycle state.
func (wm *WorkingMemory) State() State { return wm.state }

// OverallConfidence returns the current overall confidence.
func (wm *WorkingMemory) OverallConfidence() float64 { return wm.overallConfidence }

// Tier returns the tier the next pass will run on.
func (wm *WorkingMemory) Tier() datatypes.Tier { return wm.tier }

// HighStakes reports the event hint ORed with anything derived since.
func (wm *WorkingMemory) HighStakes() bool { return wm.highStakes }

// SetHighStakes raises the high-stakes flag. It can never be lowered.
func (wm *WorkingMemory) SetHighStakes() { wm.highStakes = true }

// PassCount returns the number of closed passes, failed attempts included.
func (wm *WorkingMemory) PassCount() int { return len(wm.passes) }

// Passes returns a copy of the closed pass history.
func (wm *WorkingMemory) Passes() []datatypes.ReasoningPass {
	out := make([]datatypes.ReasoningPass, len(wm.passes))
	copy(out, wm.passes)
	return out
}

// ContextItems returns the retrieved context accumulated so far.
func (wm *WorkingMemory) ContextItems() []datatypes.ContextItem {
	out := make([]datatypes.ContextItem, len(wm.contextItems))
	copy(out, wm.contextItems)
	return out
}

// AddContext appends retrieved context items for subsequent passes.
func (wm *WorkingMemory) AddContext(items []datatypes.ContextItem) {
	wm.contextItems = append(wm.contextItems, items...)
}

// StartPass opens a new reasoning pass with the next sequential number.
//
// Inputs:
//
//	passType - What the pass attempts.
//	queries - Retrieval queries issued for this pass, recorded for audit.
//
// Outputs:
//
//	*datatypes.ReasoningPass - The open pass record.
//	error - Wraps ErrState if a pass is already open or the memory
//	        is finalized.
func (wm *WorkingMemory) StartPass(passType datatypes.PassType, queries []string) (*datatypes.ReasoningPass, error) {
	if wm.state == StateFinalized {
		return nil, fmt.Errorf("%w: start pass on finalized memory", ErrState)
	}
	if wm.openPass != nil {
		return nil, fmt.Errorf("%w: pass %d still open", ErrState, wm.openPass.Number)
	}
	pass := &datatypes.ReasoningPass{
		Number:          len(wm.passes) + 1,
		Type:            passType,
		Tier:            wm.tier,
		StartedAt:       wm.now(),
		InputConfidence: wm.overallConfidence,
		ContextQueries:  queries,
	}
	wm.openPass = pass
	wm.state = StateReasoning
	return pass, nil
}

// CompletePass closes the open pass and applies its outcome.
//
// Outputs:
//
//	error - Wraps ErrState if no pass is open.
func (wm *WorkingMemory) CompletePass(outcome PassOutcome) error {
	if wm.openPass == nil {
		return fmt.Errorf("%w: complete with no open pass", ErrState)
	}
	pass := wm.openPass
	pass.CompletedAt = wm.now()
	pass.Duration = pass.CompletedAt.Sub(pass.StartedAt)
	pass.OutputConfidence = clamp01(outcome.Confidence)
	pass.TokensUsed = outcome.TokensUsed
	pass.Insights = outcome.Insights
	pass.OpenQuestions = outcome.OpenQuestions

	wm.overallConfidence = pass.OutputConfidence
	wm.openQuestions = append(wm.openQuestions, outcome.OpenQuestions...)
	if outcome.HighStakes {
		wm.highStakes = true
	}

	wm.passes = append(wm.passes, *pass)
	wm.openPass = nil
	wm.state = StateBetweenPasses
	return nil
}

// FailPass closes the open pass as a failed attempt.
//
// The pass keeps its sequential number and counts toward the pass cap,
// but leaves overall confidence untouched.
//
// Outputs:
//
//	error - Wraps ErrState if no pass is open.
func (wm *WorkingMemory) FailPass(cause error) error {
	if wm.openPass == nil {
		return fmt.Errorf("%w: fail with no open pass", ErrState)
	}
	pass := wm.openPass
	pass.CompletedAt = wm.now()
	pass.Duration = pass.CompletedAt.Sub(pass.StartedAt)
	pass.OutputConfidence = pass.InputConfidence
	pass.Failed = true
	if cause != nil {
		pass.Error = cause.Error()
	}

	wm.passes = append(wm.passes, *pass)
	wm.openPass = nil
	wm.state = StateBetweenPasses
	return nil
}

// AddHypothesis records a hypothesis.
//
// Inputs:
//
//	h - The hypothesis. Confidence is clamped to [0,1].
//	replace - When false, an existing ID fails with ErrDuplicateHypothesis.
func (wm *WorkingMemory) AddHypothesis(h datatypes.Hypothesis, replace bool) error {
	if h.ID == "" {
		return fmt.Errorf("%w: empty id", ErrDuplicateHypothesis)
	}
	existing, ok := wm.hypotheses[h.ID]
	if ok && !replace {
		return fmt.Errorf("%w: %s", ErrDuplicateHypothesis, h.ID)
	}
	h.Confidence = clamp01(h.Confidence)
	now := wm.now()
	if ok {
		// Keep the original creation time so ordering stays stable.
		h.CreatedAt = existing.CreatedAt
	} else {
		if h.CreatedAt.IsZero() {
			h.CreatedAt = now
		}
		wm.hypOrder = append(wm.hypOrder, h.ID)
	}
	h.UpdatedAt = now
	wm.hypotheses[h.ID] = &h
	return nil
}

// UpdateHypothesisConfidence adjusts confidence and appends evidence.
//
// Evidence with supporting=true lands in the supporting list, otherwise
// in the contradicting list. Unknown IDs wrap ErrState: the caller is
// supposed to know what it created.
func (wm *WorkingMemory) UpdateHypothesisConfidence(id string, confidence float64, evidence string, supporting bool) error {
	h, ok := wm.hypotheses[id]
	if !ok {
		return fmt.Errorf("%w: unknown hypothesis %s", ErrState, id)
	}
	h.Confidence = clamp01(confidence)
	if evidence != "" {
		if supporting {
			h.Supporting = append(h.Supporting, evidence)
		} else {
			h.Contradicting = append(h.Contradicting, evidence)
		}
	}
	h.UpdatedAt = wm.now()
	return nil
}

// TopHypotheses returns up to n hypotheses sorted by confidence
// descending. Ties break by earliest CreatedAt, then by insertion order,
// so the result is fully deterministic.
func (wm *WorkingMemory) TopHypotheses(n int) []datatypes.Hypothesis {
	if n <= 0 {
		return nil
	}
	ordinal := make(map[string]int, len(wm.hypOrder))
	for i, id := range wm.hypOrder {
		ordinal[id] = i
	}
	out := make([]datatypes.Hypothesis, 0, len(wm.hypOrder))
	for _, id := range wm.hypOrder {
		out = append(out, *wm.hypotheses[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return ordinal[out[i].ID] < ordinal[out[j].ID]
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// NeedsMoreReasoning is the pure continue/stop predicate: true iff the
// overall confidence is below threshold AND the pass cap has room.
func (wm *WorkingMemory) NeedsMoreReasoning(threshold float64, maxPasses int) bool {
	return wm.overallConfidence < threshold && len(wm.passes) < maxPasses
}

// Escalate moves the working memory to a higher tier.
//
// Outputs:
//
//	error - Wraps ErrState on a downward or invalid move. Escalating to
//	        the current tier is a no-op.
func (wm *WorkingMemory) Escalate(to datatypes.Tier) error {
	if !to.Valid() {
		return fmt.Errorf("%w: invalid tier %d", ErrState, int(to))
	}
	if to < wm.tier {
		return fmt.Errorf("%w: tier may not decrease (%s -> %s)", ErrState, wm.tier, to)
	}
	wm.tier = to
	return nil
}

// ConfidenceDelta returns the absolute confidence change between the
// two most recent passes, and whether both completed successfully. A
// failed pass breaks the pair: a plateau only means anything measured
// over consecutive successes, since a failure-interrupted comparison
// can look flat while the tier is merely struggling.
func (wm *WorkingMemory) ConfidenceDelta() (float64, bool) {
	n := len(wm.passes)
	if n < 2 || wm.passes[n-1].Failed || wm.passes[n-2].Failed {
		return 0, false
	}
	d := wm.passes[n-1].OutputConfidence - wm.passes[n-2].OutputConfidence
	if d < 0 {
		d = -d
	}
	return d, true
}

// ConsecutiveFailures returns how many of the most recent passes failed.
func (wm *WorkingMemory) ConsecutiveFailures() int {
	n := 0
	for i := len(wm.passes) - 1; i >= 0; i-- {
		if !wm.passes[i].Failed {
			break
		}
		n++
	}
	return n
}

// Finalize records the terminal state and builds the analysis result.
//
// Finalize never fails: if no hypothesis exists (timeout before the
// first pass completed, or total model failure), a low-confidence
// placeholder is synthesized so the result always carries a non-nil
// best hypothesis.
//
// Outputs:
//
//	*datatypes.AnalysisResult - The terminal result with full audit trail.
//	error - Wraps ErrState only when called twice or with a pass open.
func (wm *WorkingMemory) Finalize(reason datatypes.StopReason, action datatypes.Action, extractions []datatypes.Extraction, question string) (*datatypes.AnalysisResult, error) {
	if wm.state == StateFinalized {
		return nil, fmt.Errorf("%w: already finalized", ErrState)
	}
	if wm.openPass != nil {
		return nil, fmt.Errorf("%w: finalize with pass %d open", ErrState, wm.openPass.Number)
	}
	wm.state = StateFinalized
	wm.stopReason = reason

	best := wm.bestHypothesis()

	result := &datatypes.AnalysisResult{
		EventID:               wm.event.ID,
		Action:                action,
		StopReason:            reason,
		Confidence:            wm.overallConfidence,
		Extractions:           extractions,
		BestHypothesis:        best,
		ClarificationQuestion: question,
		HighStakes:            wm.highStakes,
		PassHistory:           wm.Passes(),
	}
	for _, p := range result.PassHistory {
		result.TierSequence = append(result.TierSequence, p.Tier)
		result.TotalTokens += p.TokensUsed
		result.TotalLatency += p.Duration
	}
	return result, nil
}

// StopReasonValue returns the terminal stop reason, empty until finalized.
func (wm *WorkingMemory) StopReasonValue() datatypes.StopReason { return wm.stopReason }

func (wm *WorkingMemory) bestHypothesis() *datatypes.Hypothesis {
	top := wm.TopHypotheses(1)
	if len(top) > 0 {
		h := top[0]
		return &h
	}
	now := wm.now()
	return &datatypes.Hypothesis{
		ID:          "placeholder-" + wm.event.ID,
		Description: "no confident interpretation produced",
		Confidence:  wm.overallConfidence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
