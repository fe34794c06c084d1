// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

// ErrUnparsableAnalysis is wrapped when a model response cannot be
// decoded into an Analysis. The controller treats it as a failed pass.
var ErrUnparsableAnalysis = errors.New("unparsable analysis response")

// AnalysisHypothesis is one hypothesis as emitted by the model.
type AnalysisHypothesis struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	Confidence    float64  `json:"confidence"`
	Supporting    []string `json:"supporting,omitempty"`
	Contradicting []string `json:"contradicting,omitempty"`
}

// Analysis is the structured payload every reasoning pass expects the
// model to return as JSON (optionally inside a markdown fence).
type Analysis struct {
	// Confidence is the pass's overall confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Hypotheses are candidate interpretations with evidence.
	Hypotheses []AnalysisHypothesis `json:"hypotheses,omitempty"`

	// Extractions are durable facts found in the event.
	Extractions []datatypes.Extraction `json:"extractions,omitempty"`

	// Insights are notable observations.
	Insights []string `json:"insights,omitempty"`

	// OpenQuestions are unresolved questions the pass raised.
	OpenQuestions []string `json:"open_questions,omitempty"`

	// HighStakes is set when the model derives elevated consequence
	// the intake hint missed.
	HighStakes bool `json:"high_stakes,omitempty"`

	// ClarificationQuestion is the question to ask the user when the
	// model cannot decide.
	ClarificationQuestion string `json:"clarification_question,omitempty"`
}

// ParseAnalysis decodes a model response into an Analysis.
//
// Models wrap JSON in prose or markdown fences often enough that the
// decoder scans for the outermost JSON object instead of requiring a
// bare document. Confidence is clamped to [0,1].
//
// Outputs:
//
//	*Analysis - The decoded analysis.
//	error - Wraps ErrUnparsableAnalysis when no JSON object decodes.
func ParseAnalysis(content string) (*Analysis, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrUnparsableAnalysis)
	}
	var a Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableAnalysis, err)
	}
	a.Confidence = clampUnit(a.Confidence)
	for i := range a.Hypotheses {
		a.Hypotheses[i].Confidence = clampUnit(a.Hypotheses[i].Confidence)
	}
	for i := range a.Extractions {
		a.Extractions[i].Confidence = clampUnit(a.Extractions[i].Confidence)
	}
	return &a, nil
}

// extractJSONObject returns the outermost {...} span of s, fence-aware.
func extractJSONObject(s string) string {
	// Strip a markdown fence if the whole payload sits in one.
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = rest[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
