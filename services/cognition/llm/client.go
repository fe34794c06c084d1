// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm defines the model endpoint contract the router wraps, the
// model error taxonomy, and the concrete endpoints (OpenAI-backed and a
// scripted mock for tests).
//
// The endpoint is the raw transport: no retry, no rate limiting, no
// circuit breaking. All resilience lives in the router package.
//
// Thread Safety:
//
//	Endpoint implementations must be safe for concurrent use; many
//	events call the same endpoint simultaneously.
package llm

import (
	"context"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

// Request is a single completion request for one reasoning pass.
type Request struct {
	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Prompt is the user prompt, already assembled with any context.
	Prompt string `json:"prompt"`

	// MaxTokens limits the response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. Analysis wants it low.
	Temperature float32 `json:"temperature,omitempty"`
}

// Response is the endpoint's answer.
type Response struct {
	// Content is the raw model output.
	Content string `json:"content"`

	// TokensUsed is the total token cost (prompt + completion).
	TokensUsed int `json:"tokens_used"`

	// Model is the concrete model that served the request.
	Model string `json:"model"`
}

// Endpoint is the raw model transport for all tiers.
//
// Invoke errors must be classifiable via IsTransient / IsPermanent /
// IsRateLimited so the router can decide whether to retry.
type Endpoint interface {
	// Invoke sends one request on the given tier.
	Invoke(ctx context.Context, tier datatypes.Tier, req *Request) (*Response, error)

	// Name returns the provider name (e.g. "openai", "mock").
	Name() string
}
