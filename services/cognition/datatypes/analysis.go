// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"
)

// Hypothesis is a candidate interpretation of an event with supporting
// and contradicting evidence accumulated across passes.
//
// Confidence is always clamped to [0,1]. Mutation happens only through
// working memory operations; nothing else should write these fields.
type Hypothesis struct {
	// ID uniquely identifies the hypothesis within one working memory.
	ID string `json:"id"`

	// Description is a short statement of the interpretation.
	Description string `json:"description"`

	// Confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Supporting lists evidence strings that back the hypothesis.
	Supporting []string `json:"supporting,omitempty"`

	// Contradicting lists evidence strings that cut against it.
	Contradicting []string `json:"contradicting,omitempty"`

	// CreatedAt orders hypotheses for deterministic tie-breaking.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last evidence/confidence update.
	UpdatedAt time.Time `json:"updated_at"`
}

// ContextItem is a retrieved piece of context consumed by refinement
// passes. Produced by the external context retriever; read-only here.
type ContextItem struct {
	// Source names where the item came from (index, store, thread).
	Source string `json:"source"`

	// Type categorizes the item (note, task, prior_message, ...).
	Type string `json:"type"`

	// Content is the retrieved text.
	Content string `json:"content"`

	// Relevance in [0,1], assigned by the retriever.
	Relevance float64 `json:"relevance"`
}

// ReasoningPass is the audit record of one bounded analysis attempt.
//
// A pass is open between StartPass and CompletePass/FailPass on the
// owning working memory. Once closed it is append-only history.
type ReasoningPass struct {
	// Number is the 1-based sequential pass number, no gaps per event.
	Number int `json:"number"`

	// Type is what the pass attempted.
	Type PassType `json:"type"`

	// Tier the pass ran on.
	Tier Tier `json:"tier"`

	// StartedAt / CompletedAt bound the pass; Duration is derived.
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`

	// InputConfidence is the overall confidence when the pass started.
	InputConfidence float64 `json:"input_confidence"`

	// OutputConfidence is the overall confidence the pass produced.
	// Equal to InputConfidence for failed passes.
	OutputConfidence float64 `json:"output_confidence"`

	// TokensUsed is the model token cost of the pass.
	TokensUsed int `json:"tokens_used"`

	// ContextQueries lists retrieval queries issued for this pass.
	ContextQueries []string `json:"context_queries,omitempty"`

	// Insights are notable observations the pass produced.
	Insights []string `json:"insights,omitempty"`

	// OpenQuestions are unresolved questions the pass raised.
	OpenQuestions []string `json:"open_questions,omitempty"`

	// Failed marks a pass aborted by a model error. Error holds the
	// message; failed passes still count toward the pass cap.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Extraction is a durable fact pulled out of an event.
type Extraction struct {
	// Kind categorizes the fact (task, date, amount, contact, ...).
	Kind string `json:"kind"`

	// Value is the extracted value, already normalized.
	Value string `json:"value"`

	// Confidence in [0,1] for this specific extraction.
	Confidence float64 `json:"confidence"`
}

// AnalysisResult is the terminal output for one event. The engine always
// produces one, whatever happened; an event is never left in limbo.
type AnalysisResult struct {
	// EventID ties the result back to the perceived event.
	EventID string `json:"event_id"`

	// Action is the terminal disposition.
	Action Action `json:"action"`

	// StopReason classifies why the pass loop ended.
	StopReason StopReason `json:"stop_reason"`

	// Confidence is the final overall confidence.
	Confidence float64 `json:"confidence"`

	// Extractions are the durable facts to hand to the result applier.
	Extractions []Extraction `json:"extractions,omitempty"`

	// BestHypothesis is the top-ranked hypothesis, never nil for a
	// finalized event (a placeholder is synthesized if no pass produced
	// one before a timeout or failure).
	BestHypothesis *Hypothesis `json:"best_hypothesis"`

	// ClarificationQuestion is set when Action is ActionClarify.
	ClarificationQuestion string `json:"clarification_question,omitempty"`

	// TierSequence is the tier of each pass, in order. Non-decreasing.
	TierSequence []Tier `json:"tier_sequence"`

	// PassHistory is the full audit trail, failed attempts included.
	PassHistory []ReasoningPass `json:"pass_history"`

	// TotalTokens and TotalLatency aggregate cost across all passes.
	TotalTokens  int           `json:"total_tokens"`
	TotalLatency time.Duration `json:"total_latency"`

	// HighStakes is the event hint ORed with anything derived in analysis.
	HighStakes bool `json:"high_stakes,omitempty"`
}
