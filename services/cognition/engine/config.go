// Copyright (C) 2025 Scapin Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/johanlb/scapin-sub006/services/cognition/datatypes"
)

// Thresholds is the per-stage confidence policy. Every value is
// configuration: historical deployments disagreed on the right numbers,
// so nothing here is a constant in code.
type Thresholds struct {
	// BlindApply stops after pass 1 (no context) at or above this.
	// Default: 0.95
	BlindApply float64 `yaml:"blind_apply" validate:"gte=0,lte=1"`

	// RefineApply stops during context-refinement passes (2-3) at or
	// above this. Default: 0.90
	RefineApply float64 `yaml:"refine_apply" validate:"gte=0,lte=1"`

	// EscalateStandardBelow marks pass-3 confidence below which the
	// escalation to Standard is forced. Default: 0.80
	EscalateStandardBelow float64 `yaml:"escalate_standard_below" validate:"gte=0,lte=1"`

	// StandardApply stops a Standard-tier pass at or above this.
	// Default: 0.90
	StandardApply float64 `yaml:"standard_apply" validate:"gte=0,lte=1"`

	// EscalateDeepBelow escalates a Standard-tier pass below this (or
	// whenever the event is high-stakes). Default: 0.75
	EscalateDeepBelow float64 `yaml:"escalate_deep_below" validate:"gte=0,lte=1"`

	// FinalApply is the floor for applying at the Deep tier and for
	// any forced-terminal decision (cap, no-change, timeout): below it
	// the engine asks for clarification instead of applying.
	// Default: 0.85
	FinalApply float64 `yaml:"final_apply" validate:"gte=0,lte=1"`

	// NoChangeEpsilon stops the loop when two consecutive successful
	// passes move confidence less than this. Default: 0.02
	NoChangeEpsilon float64 `yaml:"no_change_epsilon" validate:"gte=0,lte=1"`
}

// DefaultThresholds returns the documented default policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BlindApply:            0.95,
		RefineApply:           0.90,
		EscalateStandardBelow: 0.80,
		StandardApply:         0.90,
		EscalateDeepBelow:     0.75,
		FinalApply:            0.85,
		NoChangeEpsilon:       0.02,
	}
}

// Config configures the pass controller and engine.
type Config struct {
	// Thresholds is the stop/continue/escalate policy.
	Thresholds Thresholds `yaml:"thresholds"`

	// MaxPasses caps total passes per event, failed attempts included.
	// Default: 5
	MaxPasses int `yaml:"max_passes" validate:"gt=0"`

	// MaxTierFailures is how many consecutive failed pass attempts are
	// tolerated on one tier before escalating early. Default: 2
	MaxTierFailures int `yaml:"max_tier_failures" validate:"gt=0"`

	// ContextK is how many context items one retrieval may return.
	// Default: 5
	ContextK int `yaml:"context_k" validate:"gt=0"`

	// CognitiveTimeout is the overall per-event deadline covering all
	// passes, retrievals, and retries. Default: 20s
	CognitiveTimeout time.Duration `yaml:"cognitive_timeout" validate:"gt=0"`

	// MaxConcurrentEvents bounds batch processing. Default: 8
	MaxConcurrentEvents int `yaml:"max_concurrent_events" validate:"gt=0"`

	// TokenBudget is the max completion tokens per tier.
	TokenBudget map[datatypes.Tier]int `yaml:"token_budget"`

	// Temperature for analysis calls. Default: 0.2
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=1"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds:          DefaultThresholds(),
		MaxPasses:           5,
		MaxTierFailures:     2,
		ContextK:            5,
		CognitiveTimeout:    20 * time.Second,
		MaxConcurrentEvents: 8,
		TokenBudget: map[datatypes.Tier]int{
			datatypes.TierFast:     1024,
			datatypes.TierStandard: 2048,
			datatypes.TierDeep:     4096,
		},
		Temperature: 0.2,
	}
}

// applyDefaults fills zero fields from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxPasses == 0 {
		c.MaxPasses = d.MaxPasses
	}
	if c.MaxTierFailures == 0 {
		c.MaxTierFailures = d.MaxTierFailures
	}
	if c.ContextK == 0 {
		c.ContextK = d.ContextK
	}
	if c.CognitiveTimeout == 0 {
		c.CognitiveTimeout = d.CognitiveTimeout
	}
	if c.MaxConcurrentEvents == 0 {
		c.MaxConcurrentEvents = d.MaxConcurrentEvents
	}
	if c.TokenBudget == nil {
		c.TokenBudget = d.TokenBudget
	}
	if c.Temperature == 0 {
		c.Temperature = d.Temperature
	}
	zero := Thresholds{}
	if c.Thresholds == zero {
		c.Thresholds = d.Thresholds
	}
}

// Validate checks field constraints plus the cross-field ordering the
// tag syntax cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	t := c.Thresholds
	if t.EscalateDeepBelow > t.StandardApply {
		return fmt.Errorf("engine config: escalate_deep_below (%.2f) must not exceed standard_apply (%.2f)",
			t.EscalateDeepBelow, t.StandardApply)
	}
	if t.EscalateStandardBelow > t.RefineApply {
		return fmt.Errorf("engine config: escalate_standard_below (%.2f) must not exceed refine_apply (%.2f)",
			t.EscalateStandardBelow, t.RefineApply)
	}
	return nil
}

// tokenBudget returns the tier's completion budget with a floor.
func (c *Config) tokenBudget(tier datatypes.Tier) int {
	if b, ok := c.TokenBudget[tier]; ok && b > 0 {
		return b
	}
	return 1024
}
