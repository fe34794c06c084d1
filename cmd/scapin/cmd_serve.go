// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/johanlb/scapin-sub006/services/cognition/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP event intake API",
	Long: "Starts the HTTP server exposing POST /v1/events for single-event\n" +
		"analysis, POST /v1/events/batch for concurrent batches, GET /healthz,\n" +
		"and GET /metrics (Prometheus).",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	server, err := api.NewServer(a.engine, api.Config{
		Addr:          a.cfg.Server.Addr,
		ShutdownGrace: a.cfg.Server.ShutdownGrace,
	}, a.logger.Logger)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
