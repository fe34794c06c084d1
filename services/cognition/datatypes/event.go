// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is the sentinel wrapped by all event validation failures.
// Callers can match the whole class with errors.Is(err, ErrInvalidEvent).
var ErrInvalidEvent = errors.New("invalid perceived event")

// EventKind is the normalized source category of a perceived event.
type EventKind string

const (
	// KindMessage is an email or chat message.
	KindMessage EventKind = "message"

	// KindCalendar is a calendar item.
	KindCalendar EventKind = "calendar"

	// KindNote is a free-form note.
	KindNote EventKind = "note"
)

// PerceivedEvent is a normalized event handed to the engine by intake.
//
// The event is immutable once it enters the engine: the engine reads it
// but never writes it. Normalization from raw sources happens upstream.
type PerceivedEvent struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Kind is the source category (message, calendar, note).
	Kind EventKind `json:"kind"`

	// OccurredAt is when the underlying event happened.
	OccurredAt time.Time `json:"occurred_at"`

	// ReceivedAt is when intake received the event.
	ReceivedAt time.Time `json:"received_at"`

	// ProcessedAt is when normalization finished.
	ProcessedAt time.Time `json:"processed_at"`

	// Content is the normalized text content.
	Content string `json:"content"`

	// Entities are pre-extracted entities (names, amounts, dates).
	Entities []string `json:"entities,omitempty"`

	// HighStakes hints that the event carries elevated consequence
	// (large amount, near deadline, VIP sender). Set upstream; the
	// engine consumes it but never computes it.
	HighStakes bool `json:"high_stakes,omitempty"`

	// PerceptionConfidence is the upstream perception layer's confidence
	// in the normalization, if any. Seeds the working memory confidence.
	PerceptionConfidence float64 `json:"perception_confidence,omitempty"`
}

// Validate checks the event before any pass starts.
//
// Outputs:
//
//	error - Non-nil if the event is malformed. Always wraps
//	        ErrInvalidEvent so callers can classify with errors.Is.
func (e *PerceivedEvent) Validate(now time.Time) error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidEvent)
	}
	switch e.Kind {
	case KindMessage, KindCalendar, KindNote:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.OccurredAt.IsZero() || e.ReceivedAt.IsZero() || e.ProcessedAt.IsZero() {
		return fmt.Errorf("%w: missing timestamps", ErrInvalidEvent)
	}
	if e.OccurredAt.After(e.ReceivedAt) {
		return fmt.Errorf("%w: occurred_at after received_at", ErrInvalidEvent)
	}
	if e.ReceivedAt.After(e.ProcessedAt) {
		return fmt.Errorf("%w: received_at after processed_at", ErrInvalidEvent)
	}
	if e.ProcessedAt.After(now) {
		return fmt.Errorf("%w: processed_at in the future", ErrInvalidEvent)
	}
	if e.PerceptionConfidence < 0 || e.PerceptionConfidence > 1 {
		return fmt.Errorf("%w: perception_confidence %f outside [0,1]",
			ErrInvalidEvent, e.PerceptionConfidence)
	}
	return nil
}
