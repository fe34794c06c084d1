// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

// OpenAIEndpoint serves all tiers through the OpenAI chat completion API,
// mapping each tier to a configured model name.
//
// Thread Safety: safe for concurrent use; the underlying client is.
type OpenAIEndpoint struct {
	client *openai.Client
	models map[datatypes.Tier]string
	logger *slog.Logger
}

// OpenAIConfig configures the OpenAI-backed endpoint.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Falls back to OPENAI_API_KEY.
	APIKey string

	// BaseURL overrides the API base URL (for proxies or compatible
	// local servers). Empty means the provider default.
	BaseURL string

	// Models maps each tier to a concrete model name.
	Models map[datatypes.Tier]string

	// Logger for endpoint operations. Default: slog.Default().
	Logger *slog.Logger
}

// NewOpenAIEndpoint creates the endpoint.
//
// Outputs:
//
//	*OpenAIEndpoint - Ready endpoint.
//	error - Non-nil when no API key is available or a tier has no model.
func NewOpenAIEndpoint(cfg OpenAIConfig) (*OpenAIEndpoint, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("openai endpoint: no API key configured and OPENAI_API_KEY not set")
	}
	for _, tier := range datatypes.AllTiers() {
		if cfg.Models[tier] == "" {
			return nil, fmt.Errorf("openai endpoint: no model configured for tier %s", tier)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEndpoint{
		client: openai.NewClientWithConfig(clientCfg),
		models: cfg.Models,
		logger: logger,
	}, nil
}

// Name returns the provider name.
func (e *OpenAIEndpoint) Name() string { return "openai" }

// Invoke sends one chat completion request on the tier's model.
//
// Failures are classified into the model error taxonomy: 429 becomes
// rate-limited, other 4xx permanent, 5xx and transport errors transient.
func (e *OpenAIEndpoint) Invoke(ctx context.Context, tier datatypes.Tier, req *Request) (*Response, error) {
	model, ok := e.models[tier]
	if !ok {
		return nil, Permanent(fmt.Errorf("no model for tier %s", tier))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: req.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}

	resp, err := e.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			e.logger.Warn("openai call failed",
				"tier", tier.String(),
				"model", model,
				"status", apiErr.HTTPStatusCode,
			)
			return nil, classifyStatus(apiErr.HTTPStatusCode, err)
		}
		return nil, classifyTransport(err)
	}

	if len(resp.Choices) == 0 {
		return nil, Transient(errors.New("openai returned no choices"))
	}
	e.logger.Debug("openai call completed",
		"tier", tier.String(),
		"model", model,
		"tokens", resp.Usage.TotalTokens,
	)
	return &Response{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		Model:      model,
	}, nil
}
