// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

// stepKind is what the controller does after a completed pass.
type stepKind int

const (
	// stepStop finalizes the event.
	stepStop stepKind = iota

	// stepContinue runs another pass on the current tier.
	stepContinue

	// stepEscalate moves to a higher tier, then runs another pass.
	stepEscalate
)

// snapshot is the read-only view of working memory state the decision
// function needs. Keeping it a plain struct makes every policy branch
// testable without a working memory or model calls.
type snapshot struct {
	// Passes is the number of completed passes, failed attempts included.
	Passes int

	// Confidence is the overall confidence after the latest pass.
	Confidence float64

	// Delta is the absolute confidence change between the last two
	// passes; HasDelta is false unless both completed successfully.
	Delta    float64
	HasDelta bool

	// Tier is the tier the latest pass ran on.
	Tier datatypes.Tier

	// HighStakes is the event hint ORed with anything derived so far.
	HighStakes bool
}

// step is the decision output.
type step struct {
	Kind stepKind

	// Stop fields, set when Kind == stepStop.
	StopReason datatypes.StopReason
	Action     datatypes.Action

	// EscalateTo, set when Kind == stepEscalate.
	EscalateTo datatypes.Tier
}

// nextStep is the pure transition policy of the escalation state machine.
//
// Evaluated after every successfully completed pass, in priority order:
//
//  1. Stage apply threshold met -> stop, confidence_sufficient.
//  2. Confidence plateaued (delta < epsilon) -> stop, no_change.
//     Paying for further passes has no expected gain.
//  3. Pass cap reached -> stop, max_passes.
//  4. Fast tier exhausted its refinement passes while still under the
//     escalation floor -> escalate Standard.
//  5. Standard tier below the deep-escalation floor, or the event is
//     high-stakes -> escalate Deep.
//  6. Otherwise -> another pass on the current tier.
//
// Terminal action selection: apply when confidence clears the stage
// threshold; forced terminals (no_change, max_passes) apply only at or
// above FinalApply and ask for clarification below it.
func nextStep(s snapshot, t Thresholds, maxPasses int) step {
	if s.Confidence >= applyThreshold(s, t) {
		return step{Kind: stepStop, StopReason: datatypes.StopConfidenceSufficient, Action: datatypes.ActionApply}
	}

	if s.HasDelta && s.Delta < t.NoChangeEpsilon {
		return step{Kind: stepStop, StopReason: datatypes.StopNoChange, Action: terminalAction(s.Confidence, t)}
	}

	if s.Passes >= maxPasses {
		return step{Kind: stepStop, StopReason: datatypes.StopMaxPasses, Action: terminalAction(s.Confidence, t)}
	}

	switch s.Tier {
	case datatypes.TierFast:
		// Fast gets one blind pass plus two refinement passes. After
		// the third, confidence under the escalation floor hands the
		// event to Standard; anything higher keeps refining cheaply
		// until a threshold or the cap ends the loop.
		if s.Passes >= 3 && s.Confidence < t.EscalateStandardBelow {
			return step{Kind: stepEscalate, EscalateTo: datatypes.TierStandard}
		}
		return step{Kind: stepContinue}

	case datatypes.TierStandard:
		if s.Confidence < t.EscalateDeepBelow || s.HighStakes {
			return step{Kind: stepEscalate, EscalateTo: datatypes.TierDeep}
		}
		return step{Kind: stepContinue}

	default: // TierDeep
		return step{Kind: stepContinue}
	}
}

// applyThreshold picks the stage threshold for the latest pass.
func applyThreshold(s snapshot, t Thresholds) float64 {
	switch {
	case s.Passes <= 1:
		return t.BlindApply
	case s.Tier == datatypes.TierFast:
		return t.RefineApply
	case s.Tier == datatypes.TierStandard:
		return t.StandardApply
	default:
		return t.FinalApply
	}
}

// terminalAction decides apply vs clarify for forced terminals.
func terminalAction(confidence float64, t Thresholds) datatypes.Action {
	if confidence >= t.FinalApply {
		return datatypes.ActionApply
	}
	return datatypes.ActionClarify
}
