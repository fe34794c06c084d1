// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
	"github.com/johanlb/scapin-sub006/services/cognition/engine"
)

func sampleResults() []engine.BatchResult {
	return []engine.BatchResult{
		{
			EventID: "evt-0",
			Result: &datatypes.AnalysisResult{
				EventID:    "evt-0",
				Action:     datatypes.ActionApply,
				StopReason: datatypes.StopConfidenceSufficient,
				Confidence: 0.96,
			},
		},
		{
			EventID: "evt-1",
			Err:     errors.New("invalid perceived event: empty content"),
		},
	}
}

func TestWriteResults_JSONLines(t *testing.T) {
	var stdout, stderr bytes.Buffer

	failures, err := writeResults(sampleResults(), false, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, 1, failures)

	var result datatypes.AnalysisResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, "evt-0", result.EventID)

	assert.Contains(t, stderr.String(), "evt-1")
	assert.Contains(t, stderr.String(), "empty content")
}

func TestWriteResults_PrettyCarriesErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer

	failures, err := writeResults(sampleResults(), true, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, 1, failures)
	assert.Empty(t, stderr.String())

	var items []processItem
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &items))
	require.Len(t, items, 2)

	assert.Equal(t, "evt-0", items[0].EventID)
	require.NotNil(t, items[0].Result)
	assert.Empty(t, items[0].Error)

	// The failure message survives serialization instead of collapsing
	// into an empty object.
	assert.Equal(t, "evt-1", items[1].EventID)
	assert.Nil(t, items[1].Result)
	assert.Equal(t, "invalid perceived event: empty content", items[1].Error)
}
