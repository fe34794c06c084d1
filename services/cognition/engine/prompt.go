// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"strings"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
	"github.com/johanlb/scapin-sub006/services/cognition/memory"
)

const systemPrompt = `You are the analysis stage of a personal assistant.
Given one normalized event (message, calendar item, or note), decide what
durable facts it contains and how confident you are in the interpretation.

Respond with a single JSON object:
{
  "confidence": 0.0-1.0,
  "hypotheses": [{"id": "...", "description": "...", "confidence": 0.0-1.0,
                  "supporting": ["..."], "contradicting": ["..."]}],
  "extractions": [{"kind": "...", "value": "...", "confidence": 0.0-1.0}],
  "insights": ["..."],
  "open_questions": ["..."],
  "high_stakes": false,
  "clarification_question": "..."
}
Set high_stakes when the event involves significant money, an imminent
deadline, or an important sender. Leave clarification_question empty
unless you genuinely cannot decide.`

// buildPrompt assembles the user prompt for one pass from the event,
// prior hypotheses, and any retrieved context.
func buildPrompt(wm *memory.WorkingMemory, passType datatypes.PassType) string {
	event := wm.Event()
	var b strings.Builder

	fmt.Fprintf(&b, "Event %s (%s), occurred %s:\n%s\n",
		event.ID, event.Kind, event.OccurredAt.Format("2006-01-02 15:04"), event.Content)
	if len(event.Entities) > 0 {
		fmt.Fprintf(&b, "\nPre-extracted entities: %s\n", strings.Join(event.Entities, ", "))
	}

	if items := wm.ContextItems(); len(items) > 0 {
		b.WriteString("\nRetrieved context, most relevant first:\n")
		for _, item := range items {
			fmt.Fprintf(&b, "- [%s/%s, relevance %.2f] %s\n",
				item.Source, item.Type, item.Relevance, item.Content)
		}
	}

	if top := wm.TopHypotheses(3); len(top) > 0 && passType != datatypes.PassBlindExtraction {
		b.WriteString("\nCurrent hypotheses to refine or refute:\n")
		for _, h := range top {
			fmt.Fprintf(&b, "- (%s, confidence %.2f) %s\n", h.ID, h.Confidence, h.Description)
		}
	}

	switch passType {
	case datatypes.PassBlindExtraction:
		b.WriteString("\nThis is a first read with no retrieved context. Extract what you can.")
	case datatypes.PassContextRefinement:
		b.WriteString("\nRefine the analysis using the retrieved context.")
	case datatypes.PassEscalation:
		b.WriteString("\nA cheaper model was not confident enough. Analyze carefully.")
	}
	return b.String()
}
