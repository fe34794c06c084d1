// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

// MockEndpoint is a scripted endpoint for tests.
//
// Responses and errors are dequeued in order; when the script runs out,
// the default response is returned. Every call is recorded.
//
// Thread Safety: safe for concurrent use.
type MockEndpoint struct {
	mu sync.Mutex

	script          []scriptStep
	defaultResponse *Response
	delay           time.Duration
	calls           []MockCall
}

type scriptStep struct {
	resp *Response
	err  error
}

// MockCall records one Invoke call.
type MockCall struct {
	Tier    datatypes.Tier
	Request *Request
	At      time.Time
}

// NewMockEndpoint creates a mock with a neutral default response.
func NewMockEndpoint() *MockEndpoint {
	return &MockEndpoint{
		defaultResponse: &Response{
			Content:    AnalysisJSON(0.5, "mock interpretation"),
			TokensUsed: 100,
			Model:      "mock-model",
		},
	}
}

// Name returns "mock".
func (m *MockEndpoint) Name() string { return "mock" }

// QueueResponse appends a successful response to the script.
func (m *MockEndpoint) QueueResponse(resp *Response) *MockEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptStep{resp: resp})
	return m
}

// QueueAnalysis appends a successful response whose content is an
// analysis JSON document with the given confidence.
func (m *MockEndpoint) QueueAnalysis(confidence float64, description string) *MockEndpoint {
	return m.QueueResponse(&Response{
		Content:    AnalysisJSON(confidence, description),
		TokensUsed: 100,
		Model:      "mock-model",
	})
}

// QueueError appends a failure to the script.
func (m *MockEndpoint) QueueError(err error) *MockEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptStep{err: err})
	return m
}

// WithDefault replaces the default response returned once the script
// is exhausted.
func (m *MockEndpoint) WithDefault(resp *Response) *MockEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResponse = resp
	return m
}

// WithDelay adds artificial latency to every call.
func (m *MockEndpoint) WithDelay(d time.Duration) *MockEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Invoke replays the script.
func (m *MockEndpoint) Invoke(ctx context.Context, tier datatypes.Tier, req *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Tier: tier, Request: req, At: time.Now()})
	var step scriptStep
	if len(m.script) > 0 {
		step = m.script[0]
		m.script = m.script[1:]
	} else {
		step = scriptStep{resp: m.defaultResponse}
	}
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

// Calls returns a copy of all recorded calls.
func (m *MockEndpoint) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many Invoke calls happened.
func (m *MockEndpoint) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// AnalysisJSON builds a minimal analysis document for scripting tests.
func AnalysisJSON(confidence float64, description string) string {
	a := Analysis{
		Confidence: confidence,
		Hypotheses: []AnalysisHypothesis{{
			ID:          "h1",
			Description: description,
			Confidence:  confidence,
		}},
		Extractions: []datatypes.Extraction{{
			Kind:       "summary",
			Value:      description,
			Confidence: confidence,
		}},
	}
	data, _ := json.Marshal(a)
	return string(data)
}
