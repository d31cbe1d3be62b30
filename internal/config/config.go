// Package config defines the vanguard.yml configuration schema and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrarejimmyz/zkvanguard/internal/agent"
	"github.com/mrarejimmyz/zkvanguard/internal/guard"
)

// VanguardConfig is the root configuration structure for vanguard.yml.
type VanguardConfig struct {
	Version  string         `yaml:"version"`
	Instance string         `yaml:"instance"`
	Limits   *LimitsConfig  `yaml:"limits,omitempty"`
	Agents   []AgentConfig  `yaml:"agents"`
	Redis    RedisConfig    `yaml:"redis"`
	Attestor AttestorConfig `yaml:"attestor"`
	Admin    AdminConfig    `yaml:"admin"`

	// ConsensusTimeoutSeconds bounds how long a consensus round may run.
	ConsensusTimeoutSeconds int `yaml:"consensus_timeout_seconds"`
}

// LimitsConfig mirrors guard.Limits with YAML-friendly field types.
// Durations are expressed in whole seconds.
type LimitsConfig struct {
	MaxPositionSizeUSD      float64 `yaml:"max_position_size_usd"`
	MaxDailyVolumeUSD       float64 `yaml:"max_daily_volume_usd"`
	MaxSlippagePct          float64 `yaml:"max_slippage_pct"`
	MaxLeverage             float64 `yaml:"max_leverage"`
	RequireConsensus        bool    `yaml:"require_consensus"`
	ConsensusQuorum         float64 `yaml:"consensus_quorum"`
	CooldownSeconds         int     `yaml:"cooldown_seconds"`
	MaxConcurrent           int     `yaml:"max_concurrent"`
	AttestationThresholdUSD float64 `yaml:"attestation_threshold_usd"`
}

// AgentConfig declares one worker agent to register at startup.
type AgentConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// RedisConfig controls the audit ledger connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AttestorConfig points at an external attestation service. An empty
// URL disables attestation.
type AttestorConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AdminConfig controls the admin HTTP server.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses a vanguard.yml configuration file.
func Load(path string) (*VanguardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config VanguardConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *VanguardConfig) applyDefaults() {
	if c.Instance == "" {
		c.Instance = "vanguard"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8080"
	}
	if c.ConsensusTimeoutSeconds == 0 {
		c.ConsensusTimeoutSeconds = 30
	}
	if c.Attestor.URL != "" && c.Attestor.TimeoutSeconds == 0 {
		c.Attestor.TimeoutSeconds = 10
	}
}

func (c *VanguardConfig) applyEnvOverrides() {
	if addr := os.Getenv("VANGUARD_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
}

// Validate checks the configuration for correctness.
func (c *VanguardConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %q (expected \"1.0\")", c.Version)
	}
	if c.Instance == "" {
		return fmt.Errorf("instance name cannot be empty")
	}

	if c.Limits != nil {
		if err := c.Limits.Validate(); err != nil {
			return fmt.Errorf("limits: %w", err)
		}
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agent %d: %w", i, err)
		}
		if seen[a.Name] {
			return fmt.Errorf("agent %d: duplicate agent name %q", i, a.Name)
		}
		seen[a.Name] = true
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis db must be non-negative, got %d", c.Redis.DB)
	}

	if c.Attestor.URL != "" && c.Attestor.TimeoutSeconds <= 0 {
		return fmt.Errorf("attestor timeout_seconds must be positive, got %d", c.Attestor.TimeoutSeconds)
	}

	if c.Admin.Addr == "" {
		return fmt.Errorf("admin addr cannot be empty")
	}
	if c.ConsensusTimeoutSeconds <= 0 {
		return fmt.Errorf("consensus_timeout_seconds must be positive, got %d", c.ConsensusTimeoutSeconds)
	}

	return nil
}

// Validate checks a limits block for obviously broken values. Full
// validation happens in guard.Limits.Validate after conversion.
func (l *LimitsConfig) Validate() error {
	if l.MaxPositionSizeUSD <= 0 {
		return fmt.Errorf("max_position_size_usd must be positive, got %v", l.MaxPositionSizeUSD)
	}
	if l.MaxDailyVolumeUSD < l.MaxPositionSizeUSD {
		return fmt.Errorf("max_daily_volume_usd (%v) must be at least max_position_size_usd (%v)",
			l.MaxDailyVolumeUSD, l.MaxPositionSizeUSD)
	}
	if l.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds must be non-negative, got %d", l.CooldownSeconds)
	}
	return nil
}

// Validate checks a single agent declaration.
func (a *AgentConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	switch a.Type {
	case agent.TypeRisk, agent.TypeHedging, agent.TypeSettlement, agent.TypeReporting:
		return nil
	default:
		return fmt.Errorf("unknown agent type %q for agent %q", a.Type, a.Name)
	}
}

// ToGuard converts the YAML limits block into guard.Limits.
func (l *LimitsConfig) ToGuard() guard.Limits {
	return guard.Limits{
		MaxPositionSizeUSD:      l.MaxPositionSizeUSD,
		MaxDailyVolumeUSD:       l.MaxDailyVolumeUSD,
		MaxSlippagePct:          l.MaxSlippagePct,
		MaxLeverage:             l.MaxLeverage,
		RequireConsensus:        l.RequireConsensus,
		ConsensusQuorum:         l.ConsensusQuorum,
		CooldownPeriod:          time.Duration(l.CooldownSeconds) * time.Second,
		MaxConcurrent:           l.MaxConcurrent,
		AttestationThresholdUSD: l.AttestationThresholdUSD,
	}
}

// GuardLimits converts the configured limits into guard.Limits, falling
// back to the built-in defaults when the limits block is absent.
func (c *VanguardConfig) GuardLimits() guard.Limits {
	if c.Limits == nil {
		return guard.DefaultLimits()
	}
	return c.Limits.ToGuard()
}

// ConsensusTimeout returns the configured consensus round timeout.
func (c *VanguardConfig) ConsensusTimeout() time.Duration {
	return time.Duration(c.ConsensusTimeoutSeconds) * time.Second
}

// AttestorTimeout returns the configured attestor request timeout.
func (c *VanguardConfig) AttestorTimeout() time.Duration {
	return time.Duration(c.Attestor.TimeoutSeconds) * time.Second
}
