// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retriever defines the context retrieval contract the engine
// consumes between passes, plus the concrete Weaviate-backed adapter.
//
// The semantic index itself (embeddings, schema management) lives
// outside the engine; this package only adapts search results into
// context items.
package retriever

import (
	"context"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

// Retriever searches stored personal context for items relevant to the
// given entities.
//
// Implementations must be safe for concurrent use and may return an
// empty slice; the engine treats "no context" as a normal outcome.
type Retriever interface {
	// Search returns up to k context items ranked by relevance descending.
	Search(ctx context.Context, entities []string, k int) ([]datatypes.ContextItem, error)
}

// Nop is a retriever that always returns nothing. Used when no context
// index is configured and in tests.
type Nop struct{}

// Search returns no items.
func (Nop) Search(ctx context.Context, entities []string, k int) ([]datatypes.ContextItem, error) {
	return nil, nil
}

// Static returns a fixed set of items regardless of the query. Test
// helper for controller and engine tests.
type Static struct {
	// Items is returned (truncated to k) by every Search call.
	Items []datatypes.ContextItem

	// Err, when set, is returned instead.
	Err error
}

// Search returns the configured items or error.
func (s *Static) Search(ctx context.Context, entities []string, k int) ([]datatypes.ContextItem, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	items := s.Items
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items, nil
}
