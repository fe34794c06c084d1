// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
	"github.com/johanlb/scapin-sub006/services/cognition/engine"
)

var processPretty bool

var processCmd = &cobra.Command{
	Use:   "process <events.json>",
	Short: "Analyze a file of perceived events and print the results",
	Long: "Reads a JSON array of perceived events, runs each through the\n" +
		"escalation engine concurrently, and prints one result per event to\n" +
		"stdout as JSON lines (or a pretty-printed array with --pretty).",
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processPretty, "pretty", false, "pretty-print results as a JSON array")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read events file: %w", err)
	}
	var events []*datatypes.PerceivedEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("parse events file: %w", err)
	}
	if len(events) == 0 {
		return fmt.Errorf("events file contains no events")
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	results := a.engine.ProcessBatch(ctx, events)

	failures, err := writeResults(results, processPretty, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d events failed", failures, len(results))
	}
	return nil
}

// processItem is the printable form of one batch result. BatchResult.Err
// is an error interface and would marshal as {}, so failures carry their
// message as a string.
type processItem struct {
	EventID string                    `json:"event_id"`
	Result  *datatypes.AnalysisResult `json:"result,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

// writeResults prints results as JSON lines (failures to stderr) or, in
// pretty mode, as one indented array with inline errors. Returns the
// failure count.
func writeResults(results []engine.BatchResult, pretty bool, stdout, stderr io.Writer) (int, error) {
	failures := 0
	if pretty {
		items := make([]processItem, len(results))
		for i, r := range results {
			items[i] = processItem{EventID: r.EventID, Result: r.Result}
			if r.Err != nil {
				failures++
				items[i].Error = r.Err.Error()
			}
		}
		out, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return failures, err
		}
		fmt.Fprintln(stdout, string(out))
		return failures, nil
	}

	enc := json.NewEncoder(stdout)
	for _, r := range results {
		if r.Err != nil {
			failures++
			fmt.Fprintf(stderr, "event %s failed: %v\n", r.EventID, r.Err)
			continue
		}
		if err := enc.Encode(r.Result); err != nil {
			return failures, err
		}
	}
	return failures, nil
}
