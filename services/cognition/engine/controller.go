// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
	"github.com/johanlb/scapin-sub006/services/cognition/llm"
	"github.com/johanlb/scapin-sub006/services/cognition/memory"
	"github.com/johanlb/scapin-sub006/services/cognition/retriever"
	"github.com/johanlb/scapin-sub006/services/cognition/telemetry"
)

// ModelCaller is the slice of the model router the controller uses.
// Satisfied by *router.Router; tests substitute stubs.
type ModelCaller interface {
	Call(ctx context.Context, tier datatypes.Tier, req *llm.Request) (*llm.Response, error)
}

// controller drives the pass sequence for exactly one event against one
// working memory. It owns no shared state: everything shared lives
// behind the ModelCaller.
type controller struct {
	cfg       Config
	caller    ModelCaller
	retriever retriever.Retriever
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// run executes the escalation loop to a terminal result.
//
// Failures local to a pass are absorbed and turned into a decision
// (retry on the same tier, escalate, or finalize as clarification).
// Working-memory StateErrors indicate an engine defect and propagate
// to the caller unmasked.
//
// Outputs:
//
//	*datatypes.AnalysisResult - Always non-nil unless err is non-nil.
//	error - Only memory.ErrState-class defects.
func (c *controller) run(ctx context.Context, wm *memory.WorkingMemory) (*datatypes.AnalysisResult, error) {
	var lastAnalysis *llm.Analysis
	searchedContext := false

	for {
		if ctx.Err() != nil {
			return c.finalizeTimeout(wm, lastAnalysis, ctx.Err())
		}

		// Context enrichment happens once, between the blind pass and
		// the first refinement pass. A retrieval failure degrades to
		// "no context"; it never fails the event.
		var queries []string
		if wm.PassCount() >= 1 && !searchedContext {
			searchedContext = true
			queries = contextQueries(wm, lastAnalysis)
			items, err := c.retriever.Search(ctx, queries, c.cfg.ContextK)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return c.finalizeTimeout(wm, lastAnalysis, err)
				}
				c.logger.Warn("context retrieval failed, continuing without",
					"event_id", wm.Event().ID,
					"error", err,
				)
			} else {
				wm.AddContext(items)
			}
		}

		passType := c.passType(wm)
		pass, err := wm.StartPass(passType, queries)
		if err != nil {
			return nil, err
		}

		req := &llm.Request{
			System:      systemPrompt,
			Prompt:      buildPrompt(wm, passType),
			MaxTokens:   c.cfg.tokenBudget(wm.Tier()),
			Temperature: c.cfg.Temperature,
		}

		resp, callErr := c.caller.Call(ctx, wm.Tier(), req)
		var analysis *llm.Analysis
		if callErr == nil {
			analysis, callErr = llm.ParseAnalysis(resp.Content)
		}

		if callErr != nil {
			if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
				if failErr := wm.FailPass(callErr); failErr != nil {
					return nil, failErr
				}
				return c.finalizeTimeout(wm, lastAnalysis, callErr)
			}
			if result, err := c.handlePassFailure(ctx, wm, pass.Number, lastAnalysis, callErr); result != nil || err != nil {
				return result, err
			}
			continue
		}

		if err := c.applyAnalysis(wm, analysis, resp.TokensUsed); err != nil {
			return nil, err
		}
		lastAnalysis = analysis
		c.metrics.RecordPass(ctx, wm.Tier().String(), string(passType), false)

		delta, hasDelta := wm.ConfidenceDelta()
		decision := nextStep(snapshot{
			Passes:     wm.PassCount(),
			Confidence: wm.OverallConfidence(),
			Delta:      delta,
			HasDelta:   hasDelta,
			Tier:       wm.Tier(),
			HighStakes: wm.HighStakes(),
		}, c.cfg.Thresholds, c.cfg.MaxPasses)

		switch decision.Kind {
		case stepStop:
			return c.finalize(wm, decision.StopReason, decision.Action, lastAnalysis)
		case stepEscalate:
			if err := wm.Escalate(decision.EscalateTo); err != nil {
				return nil, err
			}
			c.logger.Info("escalating tier",
				"event_id", wm.Event().ID,
				"to", decision.EscalateTo.String(),
				"confidence", wm.OverallConfidence(),
				"high_stakes", wm.HighStakes(),
			)
		}
	}
}

// passType classifies the next pass: first read is blind, the first
// pass on a freshly escalated tier is an escalation pass, everything
// else refines with context.
func (c *controller) passType(wm *memory.WorkingMemory) datatypes.PassType {
	passes := wm.Passes()
	if len(passes) == 0 {
		return datatypes.PassBlindExtraction
	}
	if passes[len(passes)-1].Tier != wm.Tier() {
		return datatypes.PassEscalation
	}
	return datatypes.PassContextRefinement
}

// handlePassFailure closes the failed pass and decides what the failure
// means: retry on the same tier, escalate early, or give up.
//
// Returns (nil, nil) when the loop should continue.
func (c *controller) handlePassFailure(ctx context.Context, wm *memory.WorkingMemory, passNumber int, lastAnalysis *llm.Analysis, cause error) (*datatypes.AnalysisResult, error) {
	if err := wm.FailPass(cause); err != nil {
		return nil, err
	}
	c.metrics.RecordPass(ctx, wm.Tier().String(), "failed", true)
	c.logger.Warn("pass failed",
		"event_id", wm.Event().ID,
		"pass", passNumber,
		"tier", wm.Tier().String(),
		"error", cause,
	)

	if wm.PassCount() >= c.cfg.MaxPasses {
		return c.finalizeFailure(wm, lastAnalysis, cause)
	}
	if wm.ConsecutiveFailures() >= c.cfg.MaxTierFailures {
		if wm.Tier() == datatypes.TierDeep {
			return c.finalizeFailure(wm, lastAnalysis, cause)
		}
		if err := wm.Escalate(wm.Tier().Next()); err != nil {
			return nil, err
		}
		c.logger.Info("escalating after repeated failures",
			"event_id", wm.Event().ID,
			"to", wm.Tier().String(),
		)
	}
	return nil, nil
}

// applyAnalysis folds a successful pass's analysis into working memory.
func (c *controller) applyAnalysis(wm *memory.WorkingMemory, analysis *llm.Analysis, tokens int) error {
	for _, ah := range analysis.Hypotheses {
		id := ah.ID
		if id == "" {
			id = uuid.NewString()
		}
		h := datatypes.Hypothesis{
			ID:            id,
			Description:   ah.Description,
			Confidence:    ah.Confidence,
			Supporting:    ah.Supporting,
			Contradicting: ah.Contradicting,
		}
		if err := wm.AddHypothesis(h, true); err != nil {
			return err
		}
	}
	return wm.CompletePass(memory.PassOutcome{
		Confidence:    analysis.Confidence,
		TokensUsed:    tokens,
		Insights:      analysis.Insights,
		OpenQuestions: analysis.OpenQuestions,
		HighStakes:    analysis.HighStakes,
	})
}

// finalize builds the terminal result.
func (c *controller) finalize(wm *memory.WorkingMemory, reason datatypes.StopReason, action datatypes.Action, lastAnalysis *llm.Analysis) (*datatypes.AnalysisResult, error) {
	var extractions []datatypes.Extraction
	question := ""
	if lastAnalysis != nil {
		extractions = lastAnalysis.Extractions
		question = lastAnalysis.ClarificationQuestion
	}
	if action == datatypes.ActionClarify && question == "" {
		question = fmt.Sprintf(
			"I could not interpret event %s with enough confidence (%.2f). What should happen with it?",
			wm.Event().ID, wm.OverallConfidence())
	}
	if action != datatypes.ActionClarify {
		question = ""
	}

	result, err := wm.Finalize(reason, action, extractions, question)
	if err != nil {
		return nil, err
	}
	c.logger.Info("event finalized",
		"event_id", result.EventID,
		"action", string(result.Action),
		"stop_reason", string(result.StopReason),
		"confidence", result.Confidence,
		"passes", len(result.PassHistory),
		"tokens", result.TotalTokens,
	)
	return result, nil
}

// finalizeTimeout finalizes with the best state available after the
// event deadline expired. Any open pass is closed as failed first.
func (c *controller) finalizeTimeout(wm *memory.WorkingMemory, lastAnalysis *llm.Analysis, cause error) (*datatypes.AnalysisResult, error) {
	if wm.State() == memory.StateReasoning {
		if err := wm.FailPass(cause); err != nil {
			return nil, err
		}
	}
	action := terminalAction(wm.OverallConfidence(), c.cfg.Thresholds)
	return c.finalize(wm, datatypes.StopTimeout, action, lastAnalysis)
}

// finalizeFailure finalizes after all usable tiers failed. The event is
// never dropped: it becomes a clarification request carrying whatever
// state the passes managed to build.
func (c *controller) finalizeFailure(wm *memory.WorkingMemory, lastAnalysis *llm.Analysis, cause error) (*datatypes.AnalysisResult, error) {
	c.logger.Error("all tiers exhausted",
		"event_id", wm.Event().ID,
		"error", cause,
	)
	return c.finalize(wm, datatypes.StopModelFailure, datatypes.ActionClarify, lastAnalysis)
}

// contextQueries builds the retrieval query set from the event's
// pre-extracted entities plus whatever the first pass pulled out.
func contextQueries(wm *memory.WorkingMemory, lastAnalysis *llm.Analysis) []string {
	seen := make(map[string]bool)
	var queries []string
	add := func(q string) {
		if q != "" && !seen[q] {
			seen[q] = true
			queries = append(queries, q)
		}
	}
	for _, e := range wm.Event().Entities {
		add(e)
	}
	if lastAnalysis != nil {
		for _, ex := range lastAnalysis.Extractions {
			add(ex.Value)
		}
	}
	return queries
}
