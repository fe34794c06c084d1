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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	cause := errors.New("provider said no")

	tests := []struct {
		status int
		want   ErrorKind
	}{
		{429, KindRateLimited},
		{500, KindTransient},
		{503, KindTransient},
		{400, KindPermanent},
		{401, KindPermanent},
		{404, KindPermanent},
		{0, KindTransient},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			me := classifyStatus(tt.status, cause)
			assert.Equal(t, tt.want, me.Kind)
			assert.Equal(t, tt.status, me.StatusCode)
			assert.ErrorIs(t, me, cause)
		})
	}
}

func TestClassifyTransport_ContextPassesThrough(t *testing.T) {
	assert.Equal(t, context.Canceled, classifyTransport(context.Canceled))
	assert.Equal(t, context.DeadlineExceeded, classifyTransport(context.DeadlineExceeded))

	wrapped := fmt.Errorf("call: %w", context.DeadlineExceeded)
	assert.Equal(t, wrapped, classifyTransport(wrapped))

	err := classifyTransport(errors.New("connection reset"))
	assert.True(t, IsTransient(err))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsTransient(Transient(errors.New("x"))))
	assert.True(t, IsTransient(RateLimited(errors.New("x"))))
	assert.False(t, IsTransient(Permanent(errors.New("x"))))
	assert.False(t, IsTransient(errors.New("plain")))

	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(Transient(errors.New("x"))))

	assert.True(t, IsRateLimited(RateLimited(errors.New("x"))))
	assert.False(t, IsRateLimited(Transient(errors.New("x"))))

	// Wrapped ModelErrors still classify.
	wrapped := fmt.Errorf("pass 2: %w", Permanent(errors.New("bad request")))
	assert.True(t, IsPermanent(wrapped))
}

func TestModelError_Message(t *testing.T) {
	me := classifyStatus(503, errors.New("overloaded"))
	assert.Contains(t, me.Error(), "status 503")
	assert.Contains(t, me.Error(), "transient")

	plain := Transient(errors.New("dial tcp: refused"))
	assert.NotContains(t, plain.Error(), "status")
}
