// Package config loads the application configuration: defaults first, then
// the YAML file, then BANTO_* environment overrides, then validation. The
// Manager holds the active configuration and lets the watcher hot-swap it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shizukutanaka/Banto/internal/api"
	"github.com/shizukutanaka/Banto/internal/automation"
	"github.com/shizukutanaka/Banto/internal/cache"
	"github.com/shizukutanaka/Banto/internal/logging"
	"github.com/shizukutanaka/Banto/internal/monitoring"
	"github.com/shizukutanaka/Banto/internal/profit"
	"github.com/shizukutanaka/Banto/internal/store"
)

// EnvPrefix prefixes environment variable overrides, e.g.
// BANTO_LOGGING_LEVEL=debug or BANTO_API_PORT=9090.
const EnvPrefix = "BANTO"

// DefaultPath is where Load looks when no --config flag is given
const DefaultPath = "banto.yaml"

// Config is the full application configuration. Engine sections reuse the
// config types their packages define, so defaults live next to the code
// they tune.
type Config struct {
	Logging   logging.Config            `yaml:"logging"`
	Mining    MiningConfig              `yaml:"mining"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Profit    profit.Config             `yaml:"profit"`
	Scaler    automation.Config         `yaml:"scaler"`
	Alerts    monitoring.AlertConfig    `yaml:"alerts"`
	Notifiers monitoring.NotifierConfig `yaml:"notifiers"`
	Recovery  monitoring.RecoveryConfig `yaml:"recovery"`
	Wallet    WalletConfig              `yaml:"wallet"`
	Pool      PoolConfig                `yaml:"pool"`
	Store     store.Config              `yaml:"store"`
	Cache     cache.Config              `yaml:"cache"`
	API       api.Config                `yaml:"api"`
}

// MiningConfig shapes the placeholder worker pool at startup
type MiningConfig struct {
	// Threads is the starting worker count; 0 means one per physical core
	Threads    int     `yaml:"threads"`
	Intensity  float64 `yaml:"intensity"`
	MaxWorkers int     `yaml:"max_workers"`
}

// MetricsConfig configures the system sampler and snapshot history
type MetricsConfig struct {
	// Freshness is how long a snapshot may be reused before resampling
	Freshness   time.Duration `yaml:"freshness"`
	HistorySize int           `yaml:"history_size"`
	DiskPath    string        `yaml:"disk_path"`
	// PowerTDP approximates full-load package power draw in watts
	PowerTDP float64 `yaml:"power_tdp"`
}

// WalletConfig configures the wallet connectivity watcher. An empty RPC URL
// runs the watcher as an always-connected stub.
type WalletConfig struct {
	RPCURL        string        `yaml:"rpc_url"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// PoolConfig configures the pool connectivity prober. An empty address runs
// the prober as an always-connected stub.
type PoolConfig struct {
	Address       string        `yaml:"address"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// DefaultConfig returns a runnable configuration: local sqlite store,
// console logging, API on 8080, all four engines enabled.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Mining: MiningConfig{
			Threads:    0,
			Intensity:  0.8,
			MaxWorkers: 64,
		},
		Metrics: MetricsConfig{
			Freshness:   time.Second,
			HistorySize: 3600,
			DiskPath:    "/",
			PowerTDP:    65,
		},
		Profit:    profit.DefaultConfig(),
		Scaler:    automation.DefaultConfig(),
		Alerts:    monitoring.DefaultAlertConfig(),
		Notifiers: monitoring.NotifierConfig{},
		Recovery:  monitoring.DefaultRecoveryConfig(),
		Wallet:    WalletConfig{CheckInterval: 30 * time.Second},
		Pool:      PoolConfig{CheckInterval: 30 * time.Second},
		Store:     store.DefaultConfig(),
		Cache:     cache.DefaultConfig(),
		API:       api.DefaultConfig(),
	}
}

// Load builds the configuration for the given path. A missing file is not
// an error; defaults plus environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := NewEnvLoader(EnvPrefix).Load(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section for values the components would reject at
// construction time, so a bad file fails at startup rather than mid-run.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.validateMining(); err != nil {
		return fmt.Errorf("mining: %w", err)
	}
	if err := c.validateMetrics(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := c.validateProfit(); err != nil {
		return fmt.Errorf("profit: %w", err)
	}
	if err := c.validateScaler(); err != nil {
		return fmt.Errorf("scaler: %w", err)
	}
	if err := c.validateAlerts(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	if err := c.validateNotifiers(); err != nil {
		return fmt.Errorf("notifiers: %w", err)
	}
	if err := c.validateRecovery(); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := c.validateStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.validateAPI(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if c.Wallet.CheckInterval <= 0 {
		return fmt.Errorf("wallet: check_interval must be positive")
	}
	if c.Pool.CheckInterval <= 0 {
		return fmt.Errorf("pool: check_interval must be positive")
	}
	if c.Cache.MaxSizeMB <= 0 {
		return fmt.Errorf("cache: max_size_mb must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid level %q", c.Logging.Level)
	}
	switch c.Logging.Encoding {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid encoding %q", c.Logging.Encoding)
	}
	return nil
}

func (c *Config) validateMining() error {
	if c.Mining.Threads < 0 {
		return fmt.Errorf("threads must not be negative")
	}
	if c.Mining.Intensity <= 0 || c.Mining.Intensity > 1 {
		return fmt.Errorf("intensity must be in (0, 1]")
	}
	if c.Mining.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Freshness <= 0 {
		return fmt.Errorf("freshness must be positive")
	}
	if c.Metrics.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1")
	}
	return nil
}

func (c *Config) validateProfit() error {
	switch c.Profit.Strategy {
	case profit.StrategyImmediate, profit.StrategyThreshold,
		profit.StrategyGradual, profit.StrategyPredictive:
	default:
		return fmt.Errorf("unknown strategy %q", c.Profit.Strategy)
	}
	if c.Profit.UpdateInterval <= 0 {
		return fmt.Errorf("update_interval must be positive")
	}
	if c.Profit.MinSwitchInterval <= 0 {
		return fmt.Errorf("min_switch_interval must be positive")
	}
	if c.Profit.SwitchThreshold < 0 {
		return fmt.Errorf("switch_threshold must not be negative")
	}
	if c.Profit.ElectricityCost < 0 {
		return fmt.Errorf("electricity_cost must not be negative")
	}
	for symbol, price := range c.Profit.Prices {
		if price <= 0 {
			return fmt.Errorf("price for %s must be positive", symbol)
		}
	}
	return nil
}

func (c *Config) validateScaler() error {
	thresholds := []struct {
		name  string
		value float64
	}{
		{"cpu_threshold", c.Scaler.CPUThreshold},
		{"memory_threshold", c.Scaler.MemoryThreshold},
		{"intensity_threshold", c.Scaler.IntensityThreshold},
	}
	for _, t := range thresholds {
		if t.value <= 0 || t.value > 100 {
			return fmt.Errorf("%s must be in (0, 100]", t.name)
		}
	}
	if c.Scaler.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Scaler.MinThreads < 1 {
		return fmt.Errorf("min_threads must be at least 1")
	}
	if c.Scaler.MinIntensity <= 0 || c.Scaler.MinIntensity >= 1 {
		return fmt.Errorf("min_intensity must be in (0, 1)")
	}
	if c.Scaler.IntensityStep <= 0 || c.Scaler.IntensityStep >= 1 {
		return fmt.Errorf("intensity_step must be in (0, 1)")
	}
	return nil
}

func (c *Config) validateAlerts() error {
	if c.Alerts.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	pairs := []struct {
		name              string
		warning, critical float64
	}{
		{"cpu", c.Alerts.CPUWarning, c.Alerts.CPUCritical},
		{"memory", c.Alerts.MemoryWarning, c.Alerts.MemoryCritical},
		{"disk", c.Alerts.DiskWarning, c.Alerts.DiskCritical},
		{"temp", c.Alerts.TempWarning, c.Alerts.TempCritical},
	}
	for _, p := range pairs {
		if p.warning <= 0 {
			return fmt.Errorf("%s_warning must be positive", p.name)
		}
		if p.critical <= p.warning {
			return fmt.Errorf("%s_critical must exceed %s_warning", p.name, p.name)
		}
	}
	if c.Alerts.NotifyRetries < 1 {
		return fmt.Errorf("notify_retries must be at least 1")
	}
	if c.Alerts.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1")
	}
	return nil
}

func (c *Config) validateNotifiers() error {
	if e := c.Notifiers.Email; e.Enabled {
		if e.Host == "" {
			return fmt.Errorf("email: host is required")
		}
		if e.From == "" || len(e.To) == 0 {
			return fmt.Errorf("email: from and to are required")
		}
	}
	if w := c.Notifiers.Webhook; w.Enabled && w.URL == "" {
		return fmt.Errorf("webhook: url is required")
	}
	if s := c.Notifiers.Slack; s.Enabled && s.WebhookURL == "" {
		return fmt.Errorf("slack: webhook_url is required")
	}
	return nil
}

func (c *Config) validateRecovery() error {
	if c.Recovery.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Recovery.RingSize < 1 {
		return fmt.Errorf("ring_size must be at least 1")
	}
	if c.Recovery.BurstLimit < 1 {
		return fmt.Errorf("burst_limit must be at least 1")
	}
	if c.Recovery.BurstWindow <= 0 {
		return fmt.Errorf("burst_window must be positive")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported driver %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if c.Store.Retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if !c.API.Enabled {
		return nil
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535")
	}
	if c.API.StatsInterval <= 0 {
		return fmt.Errorf("stats_interval must be positive")
	}
	return nil
}
