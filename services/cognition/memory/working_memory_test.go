// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

func testEvent() *datatypes.PerceivedEvent {
	return &datatypes.PerceivedEvent{
		ID:                   "evt-1",
		Kind:                 datatypes.KindMessage,
		Content:              "lunch with Sam on Friday?",
		Entities:             []string{"Sam", "Friday"},
		PerceptionConfidence: 0.4,
	}
}

// fixedClock returns a clock that advances one second per call.
func fixedClock() func() time.Time {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestNew_SeedsFromEvent(t *testing.T) {
	event := testEvent()
	event.HighStakes = true
	wm := New(event)

	assert.Equal(t, StateInitialized, wm.State())
	assert.Equal(t, datatypes.TierFast, wm.Tier())
	assert.Equal(t, 0.4, wm.OverallConfidence())
	assert.True(t, wm.HighStakes())
	assert.Equal(t, 0, wm.PassCount())
}

func TestStartPass_SequentialNumbers(t *testing.T) {
	wm := New(testEvent()).WithClock(fixedClock())

	pass, err := wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Number)
	assert.Equal(t, datatypes.TierFast, pass.Tier)
	assert.Equal(t, 0.4, pass.InputConfidence)
	assert.Equal(t, StateReasoning, wm.State())

	require.NoError(t, wm.CompletePass(PassOutcome{Confidence: 0.6}))

	pass, err = wm.StartPass(datatypes.PassContextRefinement, []string{"Sam"})
	require.NoError(t, err)
	assert.Equal(t, 2, pass.Number)
	assert.Equal(t, 0.6, pass.InputConfidence)
	assert.Equal(t, []string{"Sam"}, pass.ContextQueries)
}

func TestStartPass_RejectsSecondOpenPass(t *testing.T) {
	wm := New(testEvent())
	_, err := wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)

	_, err = wm.StartPass(datatypes.PassContextRefinement, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrState)
}

func TestCompletePass_UpdatesConfidenceAndStakes(t *testing.T) {
	wm := New(testEvent()).WithClock(fixedClock())
	_, err := wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)

	err = wm.CompletePass(PassOutcome{
		Confidence:    0.72,
		TokensUsed:    150,
		Insights:      []string{"probably a scheduling request"},
		OpenQuestions: []string{"which Friday?"},
		HighStakes:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.72, wm.OverallConfidence())
	assert.True(t, wm.HighStakes())
	assert.Equal(t, StateBetweenPasses, wm.State())

	passes := wm.Passes()
	require.Len(t, passes, 1)
	assert.Equal(t, 150, passes[0].TokensUsed)
	assert.Equal(t, time.Second, passes[0].Duration)
	assert.False(t, passes[0].Failed)
}

func TestCompletePass_ClampsConfidence(t *testing.T) {
	wm := New(testEvent())
	_, err := wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)
	require.NoError(t, wm.CompletePass(PassOutcome{Confidence: 1.7}))
	assert.Equal(t, 1.0, wm.OverallConfidence())
}

func TestCompletePass_NoOpenPass(t *testing.T) {
	wm := New(testEvent())
	err := wm.CompletePass(PassOutcome{Confidence: 0.5})
	assert.ErrorIs(t, err, ErrState)
}

func TestFailPass_KeepsConfidenceCountsTowardCap(t *testing.T) {
	wm := New(testEvent())
	_, err := wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)

	require.NoError(t, wm.FailPass(errors.New("upstream 503")))

	assert.Equal(t, 0.4, wm.OverallConfidence())
	assert.Equal(t, 1, wm.PassCount())
	assert.Equal(t, 1, wm.ConsecutiveFailures())

	passes := wm.Passes()
	require.Len(t, passes, 1)
	assert.True(t, passes[0].Failed)
	assert.Equal(t, "upstream 503", passes[0].Error)
}

func TestConsecutiveFailures_ResetsOnSuccess(t *testing.T) {
	wm := New(testEvent())

	_, err := wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)
	require.NoError(t, wm.FailPass(errors.New("boom")))

	_, err = wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)
	require.NoError(t, wm.CompletePass(PassOutcome{Confidence: 0.5}))

	assert.Equal(t, 0, wm.ConsecutiveFailures())

	_, err = wm.StartPass(datatypes.PassContextRefinement, nil)
	require.NoError(t, err)
	require.NoError(t, wm.FailPass(errors.New("boom")))
	assert.Equal(t, 1, wm.ConsecutiveFailures())
}

func TestAddHypothesis_DuplicateAndReplace(t *testing.T) {
	wm := New(testEvent())
	h := datatypes.Hypothesis{ID: "h1", Description: "scheduling request", Confidence: 0.5}

	require.NoError(t, wm.AddHypothesis(h, false))

	err := wm.AddHypothesis(h, false)
	assert.ErrorIs(t, err, ErrDuplicateHypothesis)

	h.Confidence = 0.8
	require.NoError(t, wm.AddHypothesis(h, true))

	top := wm.TopHypotheses(1)
	require.Len(t, top, 1)
	assert.Equal(t, 0.8, top[0].Confidence)
}

func TestUpdateHypothesisConfidence(t *testing.T) {
	wm := New(testEvent())
	require.NoError(t, wm.AddHypothesis(datatypes.Hypothesis{ID: "h1", Confidence: 0.5}, false))

	require.NoError(t, wm.UpdateHypothesisConfidence("h1", 0.65, "calendar shows free slot", true))
	require.NoError(t, wm.UpdateHypothesisConfidence("h1", 0.55, "ambiguous pronoun", false))

	top := wm.TopHypotheses(1)
	require.Len(t, top, 1)
	assert.Equal(t, 0.55, top[0].Confidence)
	assert.Equal(t, []string{"calendar shows free slot"}, top[0].Supporting)
	assert.Equal(t, []string{"ambiguous pronoun"}, top[0].Contradicting)

	err := wm.UpdateHypothesisConfidence("nope", 0.5, "", true)
	assert.ErrorIs(t, err, ErrState)
}

func TestTopHypotheses_OrderingAndTies(t *testing.T) {
	wm := New(testEvent()).WithClock(fixedClock())

	require.NoError(t, wm.AddHypothesis(datatypes.Hypothesis{ID: "low", Confidence: 0.2}, false))
	require.NoError(t, wm.AddHypothesis(datatypes.Hypothesis{ID: "tie-a", Confidence: 0.7}, false))
	require.NoError(t, wm.AddHypothesis(datatypes.Hypothesis{ID: "tie-b", Confidence: 0.7}, false))
	require.NoError(t, wm.AddHypothesis(datatypes.Hypothesis{ID: "high", Confidence: 0.9}, false))

	top := wm.TopHypotheses(3)
	require.Len(t, top, 3)
	assert.Equal(t, "high", top[0].ID)
	// Equal confidence: earlier creation wins.
	assert.Equal(t, "tie-a", top[1].ID)
	assert.Equal(t, "tie-b", top[2].ID)

	assert.Nil(t, wm.TopHypotheses(0))
}

func TestEscalate_NeverDecreases(t *testing.T) {
	wm := New(testEvent())

	require.NoError(t, wm.Escalate(datatypes.TierStandard))
	assert.Equal(t, datatypes.TierStandard, wm.Tier())

	// Same tier is a no-op.
	require.NoError(t, wm.Escalate(datatypes.TierStandard))

	err := wm.Escalate(datatypes.TierFast)
	assert.ErrorIs(t, err, ErrState)
	assert.Equal(t, datatypes.TierStandard, wm.Tier())

	err = wm.Escalate(datatypes.Tier(99))
	assert.ErrorIs(t, err, ErrState)
}

func TestConfidenceDelta_RequiresConsecutiveSuccesses(t *testing.T) {
	wm := New(testEvent())

	_, ok := wm.ConfidenceDelta()
	assert.False(t, ok)

	run := func(conf float64) {
		_, err := wm.StartPass(datatypes.PassContextRefinement, nil)
		require.NoError(t, err)
		require.NoError(t, wm.CompletePass(PassOutcome{Confidence: conf}))
	}
	fail := func() {
		_, err := wm.StartPass(datatypes.PassContextRefinement, nil)
		require.NoError(t, err)
		require.NoError(t, wm.FailPass(errors.New("boom")))
	}

	run(0.5)
	_, ok = wm.ConfidenceDelta()
	assert.False(t, ok)

	// A failure between two successes breaks the pair: comparing across
	// it could report a spurious plateau.
	fail()
	run(0.505)
	_, ok = wm.ConfidenceDelta()
	assert.False(t, ok)

	run(0.62)
	delta, ok := wm.ConfidenceDelta()
	require.True(t, ok)
	assert.InDelta(t, 0.115, delta, 1e-9)
}

func TestNeedsMoreReasoning(t *testing.T) {
	wm := New(testEvent())
	assert.True(t, wm.NeedsMoreReasoning(0.9, 5))

	_, err := wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)
	require.NoError(t, wm.CompletePass(PassOutcome{Confidence: 0.95}))

	assert.False(t, wm.NeedsMoreReasoning(0.9, 5))
	assert.False(t, wm.NeedsMoreReasoning(0.99, 1))
}

func TestFinalize_BuildsResultWithAuditTrail(t *testing.T) {
	wm := New(testEvent()).WithClock(fixedClock())

	_, err := wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)
	require.NoError(t, wm.CompletePass(PassOutcome{Confidence: 0.6, TokensUsed: 100}))

	require.NoError(t, wm.Escalate(datatypes.TierStandard))
	_, err = wm.StartPass(datatypes.PassEscalation, nil)
	require.NoError(t, err)
	require.NoError(t, wm.AddHypothesis(datatypes.Hypothesis{ID: "h1", Description: "lunch invite", Confidence: 0.92}, false))
	require.NoError(t, wm.CompletePass(PassOutcome{Confidence: 0.92, TokensUsed: 250}))

	result, err := wm.Finalize(datatypes.StopConfidenceSufficient, datatypes.ActionApply,
		[]datatypes.Extraction{{Kind: "intent", Value: "schedule_lunch", Confidence: 0.92}}, "")
	require.NoError(t, err)

	assert.Equal(t, "evt-1", result.EventID)
	assert.Equal(t, datatypes.ActionApply, result.Action)
	assert.Equal(t, datatypes.StopConfidenceSufficient, result.StopReason)
	assert.Equal(t, 0.92, result.Confidence)
	require.NotNil(t, result.BestHypothesis)
	assert.Equal(t, "h1", result.BestHypothesis.ID)
	assert.Equal(t, []datatypes.Tier{datatypes.TierFast, datatypes.TierStandard}, result.TierSequence)
	assert.Equal(t, 350, result.TotalTokens)
	require.Len(t, result.PassHistory, 2)
	assert.Equal(t, StateFinalized, wm.State())
	assert.Equal(t, datatypes.StopConfidenceSufficient, wm.StopReasonValue())
}

func TestFinalize_SynthesizesPlaceholderHypothesis(t *testing.T) {
	wm := New(testEvent())

	result, err := wm.Finalize(datatypes.StopTimeout, datatypes.ActionClarify, nil, "what did you mean?")
	require.NoError(t, err)

	require.NotNil(t, result.BestHypothesis)
	assert.Equal(t, "placeholder-evt-1", result.BestHypothesis.ID)
	assert.Equal(t, 0.4, result.BestHypothesis.Confidence)
	assert.Equal(t, "what did you mean?", result.ClarificationQuestion)
}

func TestFinalize_StateErrors(t *testing.T) {
	wm := New(testEvent())

	_, err := wm.StartPass(datatypes.PassBlindExtraction, nil)
	require.NoError(t, err)

	_, err = wm.Finalize(datatypes.StopTimeout, datatypes.ActionClarify, nil, "")
	assert.ErrorIs(t, err, ErrState)

	require.NoError(t, wm.FailPass(nil))
	_, err = wm.Finalize(datatypes.StopTimeout, datatypes.ActionClarify, nil, "")
	require.NoError(t, err)

	_, err = wm.Finalize(datatypes.StopTimeout, datatypes.ActionClarify, nil, "")
	assert.ErrorIs(t, err, ErrState)

	_, err = wm.StartPass(datatypes.PassBlindExtraction, nil)
	assert.ErrorIs(t, err, ErrState)
}
