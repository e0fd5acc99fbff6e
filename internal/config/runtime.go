package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// RuntimeConfig holds dynamic tuning that can be changed without restarting
// the engine. The file is reloaded on every decision cycle; a missing file
// means defaults.
type RuntimeConfig struct {
	// RiskMultiplier scales the computed risk score before bucketing.
	// >1 is more conservative, <1 is more aggressive.
	RiskMultiplier float64 `json:"risk_multiplier"`

	// MinHourlySavings is the floor below which migrations are not worth
	// the disruption, in USD per hour.
	MinHourlySavings float64 `json:"min_hourly_savings"`

	// MaxActionsPerCycle caps plan size per tenant per cycle. Zero means
	// unlimited.
	MaxActionsPerCycle int `json:"max_actions_per_cycle"`

	// PlanOnly suppresses execution: plans are built, logged and metered
	// but never routed.
	PlanOnly bool `json:"plan_only"`
}

// LoadRuntimeConfig reads runtime tuning from a JSON file. A missing file
// is not an error; defaults apply.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultRuntimeConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime config %s: %w", path, err)
	}

	var cfg RuntimeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse runtime config %s: %w", path, err)
	}
	applyRuntimeClamps(&cfg)
	return &cfg, nil
}

// DefaultRuntimeConfig returns the neutral tuning.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		RiskMultiplier:     1.0,
		MinHourlySavings:   0,
		MaxActionsPerCycle: 0,
		PlanOnly:           false,
	}
}

// applyRuntimeClamps keeps hand-edited values inside safe bounds rather
// than rejecting the whole file mid-flight.
func applyRuntimeClamps(cfg *RuntimeConfig) {
	cfg.RiskMultiplier = clampFloat(cfg.RiskMultiplier, 0.1, 10.0)
	if cfg.MinHourlySavings < 0 {
		cfg.MinHourlySavings = 0
	}
	if cfg.MaxActionsPerCycle < 0 {
		cfg.MaxActionsPerCycle = 0
	}
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
