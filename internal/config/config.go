// Package config loads the YAML configuration for the callisto engine and
// applies environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"callisto/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the callisto engine.
type Config struct {
	Storage    Storage          `yaml:"storage"`
	Server     Server           `yaml:"server"`
	Alpaca     Alpaca           `yaml:"alpaca"`
	Logging    Logging          `yaml:"logging"`
	Trading    TradingConfig    `yaml:"trading"`
	Risk       RiskConfig       `yaml:"risk"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration for the REST API.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	StreamURL string `yaml:"stream_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines execution and scheduling parameters for the engine.
type TradingConfig struct {
	// Mode selects the broker backend: "live" talks to Alpaca, "paper"
	// runs the deterministic in-process simulator.
	Mode                 string   `yaml:"mode"`
	Symbols              []string `yaml:"symbols"`
	ReconcileIntervalSec int      `yaml:"reconcile_interval_sec"`
	RefreshIntervalSec   int      `yaml:"refresh_interval_sec"`
	BarIntervalSec       int      `yaml:"bar_interval_sec"`
	BrokerTimeoutSec     int      `yaml:"broker_timeout_sec"`
	RetryAttempts        int      `yaml:"retry_attempts"`
	RateLimitPerMin      int      `yaml:"rate_limit_per_min"`
	DefaultSlices        int      `yaml:"default_slices"`
	DefaultSizingPct     float64  `yaml:"default_sizing_pct"`
	WalkSeed             int64    `yaml:"walk_seed"`
	WalkStartPrice       float64  `yaml:"walk_start_price"`
	SimCash              float64  `yaml:"sim_cash"`
}

// ReconcileInterval returns the reconciliation cadence as a duration.
func (t TradingConfig) ReconcileInterval() time.Duration {
	return time.Duration(t.ReconcileIntervalSec) * time.Second
}

// RefreshInterval returns the portfolio refresh cadence as a duration.
func (t TradingConfig) RefreshInterval() time.Duration {
	return time.Duration(t.RefreshIntervalSec) * time.Second
}

// BarInterval returns the synthetic bar aggregation window as a duration.
func (t TradingConfig) BarInterval() time.Duration {
	return time.Duration(t.BarIntervalSec) * time.Second
}

// BrokerTimeout returns the per-call broker timeout as a duration.
func (t TradingConfig) BrokerTimeout() time.Duration {
	return time.Duration(t.BrokerTimeoutSec) * time.Second
}

// RiskConfig holds the risk limits seeded into the limit store at startup.
type RiskConfig struct {
	Limits []RiskLimitConfig `yaml:"limits"`
}

// RiskLimitConfig is the YAML form of one risk limit. A missing enabled
// field means enabled.
type RiskLimitConfig struct {
	ID         string   `yaml:"id"`
	Type       string   `yaml:"type"`
	Value      float64  `yaml:"value"`
	Action     string   `yaml:"action"`
	Enabled    *bool    `yaml:"enabled"`
	Scope      string   `yaml:"scope"`
	Symbols    []string `yaml:"symbols"`
	Strategies []string `yaml:"strategies"`
}

// ToDomain converts the YAML limit into a domain RiskLimit, generating an
// id when none was configured and defaulting scope to global and the
// action to block_order.
func (r RiskLimitConfig) ToDomain() *domain.RiskLimit {
	now := time.Now()
	l := &domain.RiskLimit{
		ID:         r.ID,
		Type:       domain.RiskLimitType(r.Type),
		Value:      r.Value,
		Action:     domain.RiskAction(r.Action),
		Enabled:    r.Enabled == nil || *r.Enabled,
		Scope:      domain.RiskScope(r.Scope),
		Symbols:    r.Symbols,
		Strategies: r.Strategies,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if l.ID == "" {
		l.ID = domain.NewID()
	}
	if l.Scope == "" {
		l.Scope = domain.RiskScopeGlobal
	}
	if l.Action == "" {
		l.Action = domain.RiskActionBlockOrder
	}
	return l
}

// StrategyConfig wires one strategy instance to a symbol universe.
type StrategyConfig struct {
	ID      string             `yaml:"id"`
	Type    string             `yaml:"type"`
	Symbols []string           `yaml:"symbols"`
	Params  map[string]float64 `yaml:"params"`
	Enabled bool               `yaml:"enabled"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_STREAM_URL"); v != "" {
		cfg.Alpaca.StreamURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}

	// Standard Alpaca env vars take highest priority; these are the
	// canonical names the SDK itself reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills zero-valued fields with the engine defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "callisto.db")
	}
	if cfg.Trading.Mode == "" {
		cfg.Trading.Mode = "paper"
	}
	if cfg.Trading.ReconcileIntervalSec <= 0 {
		cfg.Trading.ReconcileIntervalSec = 30
	}
	if cfg.Trading.RefreshIntervalSec <= 0 {
		cfg.Trading.RefreshIntervalSec = 30
	}
	if cfg.Trading.BarIntervalSec <= 0 {
		cfg.Trading.BarIntervalSec = 60
	}
	if cfg.Trading.BrokerTimeoutSec <= 0 {
		cfg.Trading.BrokerTimeoutSec = 10
	}
	if cfg.Trading.RetryAttempts <= 0 {
		cfg.Trading.RetryAttempts = 3
	}
	if cfg.Trading.RateLimitPerMin <= 0 {
		cfg.Trading.RateLimitPerMin = 180
	}
	if cfg.Trading.DefaultSlices <= 0 {
		cfg.Trading.DefaultSlices = 10
	}
	if cfg.Trading.DefaultSizingPct <= 0 {
		cfg.Trading.DefaultSizingPct = 5
	}
	if cfg.Trading.WalkStartPrice <= 0 {
		cfg.Trading.WalkStartPrice = 100
	}
	if cfg.Trading.SimCash <= 0 {
		cfg.Trading.SimCash = 100_000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
}

// Validate checks that the configuration can actually start the engine.
// Live mode without broker credentials is a fatal misconfiguration.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "live":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return fmt.Errorf("trading mode %q requires alpaca credentials (APCA_API_KEY_ID / APCA_API_SECRET_KEY)", c.Trading.Mode)
		}
	case "paper":
	default:
		return fmt.Errorf("unknown trading mode %q (want live or paper)", c.Trading.Mode)
	}
	for i, l := range c.Risk.Limits {
		if l.Type == "" {
			return fmt.Errorf("risk.limits[%d]: type is required", i)
		}
		if l.Value == 0 {
			return fmt.Errorf("risk.limits[%d] (%s): value is required", i, l.Type)
		}
	}
	return nil
}
