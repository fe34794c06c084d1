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
)

// ErrorKind classifies a model call failure for retry decisions.
type ErrorKind int

const (
	// KindTransient covers timeouts, network errors, and 5xx responses.
	// Retried per policy, bounded.
	KindTransient ErrorKind = iota

	// KindPermanent covers 4xx responses other than 429. Never retried;
	// aborts the current pass.
	KindPermanent

	// KindRateLimited covers 429 responses from the provider. Retryable,
	// but distinct so callers can surface pressure separately.
	KindRateLimited
)

// String returns the human-readable kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// ModelError wraps an endpoint failure with its classification.
type ModelError struct {
	// Kind drives retry behavior.
	Kind ErrorKind

	// StatusCode is the HTTP status when one exists, else 0.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model call failed (%s, status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model call failed (%s): %v", e.Kind, e.Err)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *ModelError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable transient failure.
func Transient(err error) *ModelError {
	return &ModelError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) *ModelError {
	return &ModelError{Kind: KindPermanent, Err: err}
}

// RateLimited wraps err as a provider-side rate limit.
func RateLimited(err error) *ModelError {
	return &ModelError{Kind: KindRateLimited, StatusCode: 429, Err: err}
}

// IsTransient reports whether err is a retryable model failure.
// Rate-limited errors count as retryable.
func IsTransient(err error) bool {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Kind == KindTransient || me.Kind == KindRateLimited
	}
	return false
}

// IsPermanent reports whether err is a non-retryable model failure.
func IsPermanent(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Kind == KindPermanent
}

// IsRateLimited reports whether err is a provider rate limit.
func IsRateLimited(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Kind == KindRateLimited
}

// classifyStatus maps an HTTP status code to a ModelError around err.
func classifyStatus(status int, err error) *ModelError {
	switch {
	case status == 429:
		return &ModelError{Kind: KindRateLimited, StatusCode: status, Err: err}
	case status >= 500:
		return &ModelError{Kind: KindTransient, StatusCode: status, Err: err}
	case status >= 400:
		return &ModelError{Kind: KindPermanent, StatusCode: status, Err: err}
	default:
		return &ModelError{Kind: KindTransient, StatusCode: status, Err: err}
	}
}

// classifyTransport maps non-HTTP failures (timeouts, connection drops)
// to transient. Context cancellation passes through unchanged so
// deadline handling stays with the caller.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return Transient(err)
}
