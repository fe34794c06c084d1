// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/johanlb/scapin-sub006/pkg/logging"
	"github.com/johanlb/scapin-sub006/services/cognition/config"
	"github.com/johanlb/scapin-sub006/services/cognition/engine"
	"github.com/johanlb/scapin-sub006/services/cognition/llm"
	"github.com/johanlb/scapin-sub006/services/cognition/retriever"
	"github.com/johanlb/scapin-sub006/services/cognition/router"
	"github.com/johanlb/scapin-sub006/services/cognition/telemetry"
)

// app holds the wired service graph plus its teardown hooks.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	engine *engine.Engine

	shutdownTelemetry func(context.Context) error
}

// buildApp constructs the full stack from configuration: logger,
// telemetry, model endpoint, router, retriever, engine.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.Logger)

	metrics, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	endpoint, err := llm.NewOpenAIEndpoint(llm.OpenAIConfig{
		BaseURL: cfg.Models.BaseURL,
		Models:  cfg.TierModels(),
		Logger:  logger.Logger,
	})
	if err != nil {
		logger.Close()
		return nil, err
	}

	modelRouter, err := router.New(endpoint, cfg.RouterConfig(),
		router.WithLogger(logger.Logger),
		router.WithMetrics(metrics),
	)
	if err != nil {
		logger.Close()
		return nil, err
	}

	if _, err := metrics.RegisterCircuitState(func() map[string]int64 {
		states := modelRouter.CircuitStates()
		out := make(map[string]int64, len(states))
		for tier, state := range states {
			out[tier.String()] = int64(state)
		}
		return out
	}); err != nil {
		logger.Close()
		return nil, fmt.Errorf("register circuit state gauge: %w", err)
	}

	var contextRetriever retriever.Retriever = retriever.Nop{}
	if wcfg, ok := cfg.RetrieverConfig(); ok {
		wcfg.Logger = logger.Logger
		contextRetriever, err = retriever.NewWeaviateRetriever(wcfg)
		if err != nil {
			logger.Close()
			return nil, err
		}
	}

	eng, err := engine.New(modelRouter, contextRetriever, cfg.EngineConfig(),
		engine.WithLogger(logger.Logger),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		logger.Close()
		return nil, err
	}

	return &app{
		cfg:               cfg,
		logger:            logger,
		engine:            eng,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// close tears the stack down in reverse order.
func (a *app) close(ctx context.Context) {
	if err := a.shutdownTelemetry(ctx); err != nil {
		a.logger.Warn("telemetry shutdown error", "error", err)
	}
	if err := a.logger.Close(); err != nil {
		slog.Warn("logger close error", "error", err)
	}
}
