// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

// ContextClassName is the Weaviate class holding personal context items
// (notes, tasks, prior messages) indexed by the intake pipeline.
const ContextClassName = "PersonalContext"

// WeaviateConfig configures the Weaviate-backed retriever.
type WeaviateConfig struct {
	// Host is the Weaviate host, e.g. "localhost:8080".
	Host string `yaml:"host"`

	// Scheme is "http" or "https".
	Scheme string `yaml:"scheme"`

	// MaxResults caps how many items one search may return.
	// Default: 10
	MaxResults int `yaml:"max_results"`

	// Logger for retrieval operations. Default: slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// WeaviateRetriever adapts Weaviate nearText semantic search to the
// engine's context retrieval contract.
//
// Thread Safety: safe for concurrent use.
type WeaviateRetriever struct {
	client     *weaviate.Client
	maxResults int
	logger     *slog.Logger
}

// NewWeaviateRetriever connects a retriever to the given instance.
func NewWeaviateRetriever(cfg WeaviateConfig) (*WeaviateRetriever, error) {
	if cfg.Host == "" {
		return nil, errors.New("weaviate retriever: host must not be empty")
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("weaviate retriever: create client: %w", err)
	}
	return &WeaviateRetriever{
		client:     client,
		maxResults: maxResults,
		logger:     logger,
	}, nil
}

// Search runs a nearText query over the personal context class.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	entities - Concepts extracted from the event; empty returns nothing.
//	k - Maximum items, capped by MaxResults.
//
// Outputs:
//
//	[]datatypes.ContextItem - Items ranked by relevance descending.
//	error - Non-nil if the search itself fails.
func (r *WeaviateRetriever) Search(ctx context.Context, entities []string, k int) ([]datatypes.ContextItem, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if k <= 0 || k > r.maxResults {
		k = r.maxResults
	}

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts(entities)

	fields := []graphql.Field{
		{Name: "source"},
		{Name: "contextType"},
		{Name: "content"},
		{Name: "_additional { certainty }"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(ContextClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("context search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("context search: %s", result.Errors[0].Message)
	}

	items := r.parseResults(result.Data)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Relevance > items[j].Relevance
	})
	if len(items) > k {
		items = items[:k]
	}

	r.logger.Debug("retrieved context",
		"entities", len(entities),
		"items", len(items),
	)
	return items, nil
}

// parseResults extracts context items from the GraphQL response payload.
func (r *WeaviateRetriever) parseResults(data map[string]models.JSONObject) []datatypes.ContextItem {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	objects, ok := get[ContextClassName].([]any)
	if !ok {
		return nil
	}

	items := make([]datatypes.ContextItem, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue // skip malformed objects
		}
		item := datatypes.ContextItem{
			Source:    getString(m, "source"),
			Type:      getString(m, "contextType"),
			Content:   getString(m, "content"),
			Relevance: 0.5,
		}
		if additional, ok := m["_additional"].(map[string]any); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				item.Relevance = certainty
			}
		}
		if item.Content != "" {
			items = append(items, item)
		}
	}
	return items
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
