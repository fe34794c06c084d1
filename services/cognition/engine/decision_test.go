// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

func TestNextStep_StageApplyThresholds(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		s    snapshot
		want stepKind
	}{
		{"blind pass at 0.95 applies", snapshot{Passes: 1, Confidence: 0.95, Tier: datatypes.TierFast}, stepStop},
		{"blind pass at 0.94 continues", snapshot{Passes: 1, Confidence: 0.94, Tier: datatypes.TierFast}, stepContinue},
		{"refine pass at 0.90 applies", snapshot{Passes: 2, Confidence: 0.90, Tier: datatypes.TierFast}, stepStop},
		{"refine pass at 0.89 continues", snapshot{Passes: 2, Confidence: 0.89, Tier: datatypes.TierFast}, stepContinue},
		{"standard pass at 0.90 applies", snapshot{Passes: 4, Confidence: 0.90, Tier: datatypes.TierStandard}, stepStop},
		{"deep pass at 0.85 applies", snapshot{Passes: 4, Confidence: 0.85, Tier: datatypes.TierDeep}, stepStop},
		{"deep pass at 0.84 continues", snapshot{Passes: 4, Confidence: 0.84, Tier: datatypes.TierDeep}, stepContinue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextStep(tt.s, th, 5)
			assert.Equal(t, tt.want, got.Kind)
			if got.Kind == stepStop {
				assert.Equal(t, datatypes.StopConfidenceSufficient, got.StopReason)
				assert.Equal(t, datatypes.ActionApply, got.Action)
			}
		})
	}
}

func TestNextStep_NoChangePlateau(t *testing.T) {
	th := DefaultThresholds()

	s := snapshot{Passes: 3, Confidence: 0.6, Delta: 0.01, HasDelta: true, Tier: datatypes.TierFast}
	got := nextStep(s, th, 5)
	assert.Equal(t, stepStop, got.Kind)
	assert.Equal(t, datatypes.StopNoChange, got.StopReason)
	assert.Equal(t, datatypes.ActionClarify, got.Action)

	// Plateau above the final apply floor still applies.
	s = snapshot{Passes: 3, Confidence: 0.86, Delta: 0.01, HasDelta: true, Tier: datatypes.TierFast}
	got = nextStep(s, th, 5)
	assert.Equal(t, stepStop, got.Kind)
	assert.Equal(t, datatypes.StopNoChange, got.StopReason)
	assert.Equal(t, datatypes.ActionApply, got.Action)

	// Delta at exactly epsilon is not a plateau.
	s = snapshot{Passes: 3, Confidence: 0.6, Delta: 0.02, HasDelta: true, Tier: datatypes.TierStandard}
	got = nextStep(s, th, 5)
	assert.NotEqual(t, datatypes.StopNoChange, got.StopReason)

	// No delta yet (fewer than two successful passes): never a plateau.
	s = snapshot{Passes: 1, Confidence: 0.5, HasDelta: false, Tier: datatypes.TierFast}
	got = nextStep(s, th, 5)
	assert.Equal(t, stepContinue, got.Kind)
}

func TestNextStep_MaxPasses(t *testing.T) {
	th := DefaultThresholds()

	s := snapshot{Passes: 5, Confidence: 0.7, Delta: 0.1, HasDelta: true, Tier: datatypes.TierDeep}
	got := nextStep(s, th, 5)
	assert.Equal(t, stepStop, got.Kind)
	assert.Equal(t, datatypes.StopMaxPasses, got.StopReason)
	assert.Equal(t, datatypes.ActionClarify, got.Action)

	s.Confidence = 0.86
	got = nextStep(s, th, 5)
	assert.Equal(t, datatypes.StopMaxPasses, got.StopReason)
	assert.Equal(t, datatypes.ActionApply, got.Action)
}

func TestNextStep_FastEscalatesToStandard(t *testing.T) {
	th := DefaultThresholds()

	// Under the escalation floor after three passes.
	s := snapshot{Passes: 3, Confidence: 0.65, Delta: 0.1, HasDelta: true, Tier: datatypes.TierFast}
	got := nextStep(s, th, 5)
	assert.Equal(t, stepEscalate, got.Kind)
	assert.Equal(t, datatypes.TierStandard, got.EscalateTo)

	// Middle band (above the floor, below apply): keeps refining cheap.
	s.Confidence = 0.82
	got = nextStep(s, th, 5)
	assert.Equal(t, stepContinue, got.Kind)

	// Only two passes so far: not yet.
	s = snapshot{Passes: 2, Confidence: 0.5, Delta: 0.2, HasDelta: true, Tier: datatypes.TierFast}
	got = nextStep(s, th, 5)
	assert.Equal(t, stepContinue, got.Kind)
}

func TestNextStep_StandardEscalatesToDeep(t *testing.T) {
	th := DefaultThresholds()

	// Below the deep floor.
	s := snapshot{Passes: 4, Confidence: 0.70, Delta: 0.1, HasDelta: true, Tier: datatypes.TierStandard}
	got := nextStep(s, th, 5)
	assert.Equal(t, stepEscalate, got.Kind)
	assert.Equal(t, datatypes.TierDeep, got.EscalateTo)

	// Above the floor but high-stakes: still escalates.
	s = snapshot{Passes: 4, Confidence: 0.80, Delta: 0.1, HasDelta: true, Tier: datatypes.TierStandard, HighStakes: true}
	got = nextStep(s, th, 5)
	assert.Equal(t, stepEscalate, got.Kind)
	assert.Equal(t, datatypes.TierDeep, got.EscalateTo)

	// Above the floor, normal stakes: keeps working on Standard.
	s.HighStakes = false
	got = nextStep(s, th, 5)
	assert.Equal(t, stepContinue, got.Kind)
}

func TestNextStep_DeepNeverEscalates(t *testing.T) {
	th := DefaultThresholds()
	s := snapshot{Passes: 4, Confidence: 0.5, Delta: 0.1, HasDelta: true, Tier: datatypes.TierDeep, HighStakes: true}
	got := nextStep(s, th, 5)
	assert.Equal(t, stepContinue, got.Kind)
}

func TestTerminalAction(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, datatypes.ActionApply, terminalAction(0.85, th))
	assert.Equal(t, datatypes.ActionApply, terminalAction(0.99, th))
	assert.Equal(t, datatypes.ActionClarify, terminalAction(0.84, th))
	assert.Equal(t, datatypes.ActionClarify, terminalAction(0, th))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.Thresholds.EscalateDeepBelow = 0.95
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Thresholds.EscalateStandardBelow = 0.95
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Thresholds.BlindApply = 1.5
	assert.Error(t, bad.Validate())
}
