// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry wires OpenTelemetry metrics for the cognition
// service. Metrics are exported through the Prometheus exporter and
// served by the caller's /metrics endpoint (promhttp).
package telemetry

import (
	"context"
	"fmt"

	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls telemetry setup.
type Config struct {
	// ServiceName identifies this service in metrics.
	// Default: "scapin-cognition"
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the version string for this service.
	ServiceVersion string `yaml:"service_version"`

	// Enabled turns metric export on. When false, Init returns a
	// no-op provider so instrumented code keeps working.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "scapin-cognition",
		ServiceVersion: "0.1.0",
		Enabled:        true,
	}
}

// Init sets up the meter provider and registers the cognition metrics.
//
// Inputs:
//
//	ctx - Context for setup.
//	cfg - Telemetry configuration.
//
// Outputs:
//
//	*Metrics - Registered instruments (nil-safe recorder when disabled).
//	shutdown - Cleanup function; must be called on exit.
//	error - Non-nil if exporter or instrument setup fails.
func Init(ctx context.Context, cfg Config) (*Metrics, func(context.Context) error, error) {
	if !cfg.Enabled {
		return nil, func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultConfig().ServiceName
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	exporter, err := promexporter.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	metrics, err := NewMetrics(provider.Meter("cognition"))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, err
	}
	return metrics, provider.Shutdown, nil
}

// Meter is a convenience for registering extra instruments on a
// provider-backed meter with the service scope.
func Meter(provider metric.MeterProvider) metric.Meter {
	return provider.Meter("cognition")
}
