// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command scapin runs the cognitive escalation engine: it analyzes
// perceived events (messages, calendar invites, notes) through tiered
// reasoning passes, escalating to stronger models only when needed.
//
// # Usage
//
//	# Process a file of events and print results
//	scapin process events.json
//
//	# Serve the HTTP intake API
//	scapin serve
//
// Configuration lives at ~/.scapin/scapin.yaml (created on first run)
// or wherever --config points. The model provider API key is read from
// the OPENAI_API_KEY environment variable.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "scapin",
	Short: "Tiered cognitive analysis for perceived events",
	Long: "Scapin analyzes incoming events with the cheapest model tier first\n" +
		"and escalates to stronger tiers only when confidence stays low, the\n" +
		"stakes are high, or the cheap tier keeps failing.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to config file (default ~/.scapin/scapin.yaml)")
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(serveCmd)
}
