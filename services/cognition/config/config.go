// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the application configuration for the cognition
// service from YAML, with environment overrides for deployment-specific
// endpoints. Secrets (API keys) are never read from the file; they come
// from the environment only.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johanlb/scapin-sub006/pkg/logging"
	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
	"github.com/johanlb/scapin-sub006/services/cognition/engine"
	"github.com/johanlb/scapin-sub006/services/cognition/retriever"
	"github.com/johanlb/scapin-sub006/services/cognition/router"
	"github.com/johanlb/scapin-sub006/services/cognition/telemetry"
)

// TierSettings configures one model tier: the model that backs it, its
// resilience settings, and its completion budget.
type TierSettings struct {
	// Model is the provider model name, e.g. "gpt-4o-mini".
	Model string `yaml:"model"`

	// MaxTokens caps completion tokens for this tier.
	MaxTokens int `yaml:"max_tokens"`

	RateLimit router.RateLimiterConfig    `yaml:"rate_limit"`
	Breaker   router.CircuitBreakerConfig `yaml:"breaker"`
}

// Tiers holds all three tiers. YAML uses named sections rather than a
// map so the file stays diffable and typo-proof.
type Tiers struct {
	Fast     TierSettings `yaml:"fast"`
	Standard TierSettings `yaml:"standard"`
	Deep     TierSettings `yaml:"deep"`
}

// ModelsConfig configures the model provider.
type ModelsConfig struct {
	// BaseURL overrides the provider endpoint (local gateways,
	// proxies). Empty means the provider default.
	BaseURL string `yaml:"base_url"`
}

// WeaviateConfig configures the context retrieval backend.
type WeaviateConfig struct {
	// Enabled switches retrieval on. When false the engine runs with
	// no external context.
	Enabled bool `yaml:"enabled"`

	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
}

// ServerConfig configures the HTTP intake API.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8085".
	Addr string `yaml:"addr"`

	// ShutdownGrace bounds graceful shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Config is the full application configuration.
type Config struct {
	Logging   logging.Config     `yaml:"logging"`
	Telemetry telemetry.Config   `yaml:"telemetry"`
	Engine    engine.Config      `yaml:"engine"`
	Retry     router.RetryPolicy `yaml:"retry"`
	Tiers     Tiers              `yaml:"tiers"`
	Models    ModelsConfig       `yaml:"models"`
	Weaviate  WeaviateConfig     `yaml:"weaviate"`
	Server    ServerConfig       `yaml:"server"`
}

// Default returns the configuration written on first run.
func Default() Config {
	tier := func(model string, calls int, tokens int) TierSettings {
		return TierSettings{
			Model:     model,
			MaxTokens: tokens,
			RateLimit: router.RateLimiterConfig{
				Calls:  calls,
				Window: time.Minute,
				Mode:   router.WaitModeBlock,
			},
			Breaker: router.DefaultCircuitBreakerConfig(),
		}
	}
	return Config{
		Logging: logging.Config{
			Level:   "info",
			Service: "cognition",
		},
		Telemetry: telemetry.Config{
			ServiceName: "scapin-cognition",
			Enabled:     true,
		},
		Engine: engine.DefaultConfig(),
		Retry:  router.DefaultRetryPolicy(),
		Tiers: Tiers{
			Fast:     tier("gpt-4o-mini", 60, 1024),
			Standard: tier("gpt-4o", 30, 2048),
			Deep:     tier("o1", 10, 4096),
		},
		Models: ModelsConfig{},
		Weaviate: WeaviateConfig{
			Enabled: false,
			Host:    "localhost:8080",
			Scheme:  "http",
		},
		Server: ServerConfig{
			Addr:          ":8085",
			ShutdownGrace: 10 * time.Second,
		},
	}
}

// Load reads the configuration from path. An empty path means the
// default location ~/.scapin/scapin.yaml, which is created with
// defaults on first run. Environment overrides are applied after the
// file is parsed.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".scapin", "scapin.yaml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := writeDefault(path); err != nil {
				return nil, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnv overrides file values from the environment. Only endpoints
// and addresses are overridable; tuning stays in the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SCAPIN_MODELS_BASE_URL"); v != "" {
		c.Models.BaseURL = v
	}
	if v := os.Getenv("SCAPIN_WEAVIATE_HOST"); v != "" {
		c.Weaviate.Host = v
		c.Weaviate.Enabled = true
	}
	if v := os.Getenv("SCAPIN_WEAVIATE_SCHEME"); v != "" {
		c.Weaviate.Scheme = v
	}
	if v := os.Getenv("SCAPIN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SCAPIN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks cross-section consistency.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	for _, tc := range []struct {
		name string
		t    TierSettings
	}{
		{"fast", c.Tiers.Fast},
		{"standard", c.Tiers.Standard},
		{"deep", c.Tiers.Deep},
	} {
		if tc.t.Model == "" {
			return fmt.Errorf("config: tiers.%s.model is required", tc.name)
		}
		if tc.t.RateLimit.Calls <= 0 || tc.t.RateLimit.Window <= 0 {
			return fmt.Errorf("config: tiers.%s.rate_limit must set positive calls and window", tc.name)
		}
	}
	return nil
}

// RouterConfig assembles the per-tier resilience settings.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		Tiers: map[datatypes.Tier]router.TierConfig{
			datatypes.TierFast:     {RateLimit: c.Tiers.Fast.RateLimit, Breaker: c.Tiers.Fast.Breaker},
			datatypes.TierStandard: {RateLimit: c.Tiers.Standard.RateLimit, Breaker: c.Tiers.Standard.Breaker},
			datatypes.TierDeep:     {RateLimit: c.Tiers.Deep.RateLimit, Breaker: c.Tiers.Deep.Breaker},
		},
		Retry: c.Retry,
	}
}

// EngineConfig returns the engine settings with the per-tier token
// budgets folded in.
func (c *Config) EngineConfig() engine.Config {
	cfg := c.Engine
	budget := make(map[datatypes.Tier]int, 3)
	for tier, ts := range c.tierMap() {
		if ts.MaxTokens > 0 {
			budget[tier] = ts.MaxTokens
		}
	}
	if len(budget) > 0 {
		cfg.TokenBudget = budget
	}
	return cfg
}

// TierModels returns the model name per tier for the provider client.
func (c *Config) TierModels() map[datatypes.Tier]string {
	models := make(map[datatypes.Tier]string, 3)
	for tier, ts := range c.tierMap() {
		models[tier] = ts.Model
	}
	return models
}

// RetrieverConfig returns the weaviate settings, or ok=false when
// retrieval is disabled.
func (c *Config) RetrieverConfig() (retriever.WeaviateConfig, bool) {
	if !c.Weaviate.Enabled {
		return retriever.WeaviateConfig{}, false
	}
	return retriever.WeaviateConfig{
		Host:       c.Weaviate.Host,
		Scheme:     c.Weaviate.Scheme,
		MaxResults: c.Engine.ContextK,
	}, true
}

func (c *Config) tierMap() map[datatypes.Tier]TierSettings {
	return map[datatypes.Tier]TierSettings{
		datatypes.TierFast:     c.Tiers.Fast,
		datatypes.TierStandard: c.Tiers.Standard,
		datatypes.TierDeep:     c.Tiers.Deep,
	}
}
