// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared domain types for the cognition
// service: perceived events, hypotheses, reasoning passes, context items,
// and the terminal analysis result.
//
// All types here are plain data. Behavior lives in the memory, router,
// and engine packages; keeping the types in a leaf package lets every
// other cognition package import them without cycles.
//
// Thread Safety:
//
//	Types in this package are not synchronized. Each value is owned by
//	the single event flow that created it.
package datatypes

import "fmt"

// Tier identifies a model quality/cost level. Escalation within one
// event only ever moves to a higher tier, never back down.
type Tier int

const (
	// TierFast is the cheapest, lowest-latency tier (e.g. Haiku-class).
	TierFast Tier = iota

	// TierStandard is the mid tier (e.g. Sonnet-class).
	TierStandard

	// TierDeep is the most capable, most expensive tier (e.g. Opus-class).
	TierDeep
)

// AllTiers returns the tiers in escalation order.
func AllTiers() []Tier {
	return []Tier{TierFast, TierStandard, TierDeep}
}

// String returns the human-readable tier name.
func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierStandard:
		return "standard"
	case TierDeep:
		return "deep"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid reports whether the tier is one of the defined levels.
func (t Tier) Valid() bool {
	return t >= TierFast && t <= TierDeep
}

// Next returns the next tier up, or the same tier if already at the top.
func (t Tier) Next() Tier {
	if t >= TierDeep {
		return TierDeep
	}
	return t + 1
}

// StopReason classifies why the pass loop ended.
type StopReason string

const (
	// StopConfidenceSufficient means a pass reached the apply threshold.
	StopConfidenceSufficient StopReason = "confidence_sufficient"

	// StopMaxPasses means the configured pass cap was reached.
	StopMaxPasses StopReason = "max_passes"

	// StopNoChange means two consecutive passes moved confidence less
	// than the configured epsilon, so further paid calls were skipped.
	StopNoChange StopReason = "no_change"

	// StopTimeout means the overall event deadline expired.
	StopTimeout StopReason = "timeout"

	// StopModelFailure means every usable tier failed and the event was
	// finalized with the best state available.
	StopModelFailure StopReason = "model_failure"
)

// Action is the terminal disposition of an event.
type Action string

const (
	// ActionApply means the extractions are confident enough to apply.
	ActionApply Action = "apply"

	// ActionClarify means the engine emits a clarification question
	// instead of silently applying a low-confidence decision.
	ActionClarify Action = "needs_clarification"
)

// PassType identifies what a reasoning pass was attempting.
type PassType string

const (
	// PassBlindExtraction is the first pass: no retrieved context.
	PassBlindExtraction PassType = "blind_extraction"

	// PassContextRefinement re-analyzes with retrieved context items.
	PassContextRefinement PassType = "context_refinement"

	// PassEscalation is a pass on a higher tier after escalation.
	PassEscalation PassType = "escalation"
)
