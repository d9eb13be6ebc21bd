// Package config provides configuration management for the strategy runner.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	defaultTimezone       = "America/New_York"
	defaultTickInterval   = time.Minute
	defaultStoragePath    = "positions.json"
	defaultStartingCash   = 100000.0
	defaultPublishTimeout = 2 * time.Second
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig  `yaml:"environment"`
	Runner      RunnerConfig       `yaml:"runner"`
	Broker      BrokerConfig       `yaml:"broker"`
	Storage     StorageConfig      `yaml:"storage"`
	Events      EventsConfig       `yaml:"events"`
	Dashboard   DashboardConfig    `yaml:"dashboard"`
	Defaults    StrategyOverride   `yaml:"defaults"`
	Strategies  []StrategyOverride `yaml:"strategies"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode      string `yaml:"mode"`       // paper | live
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// RunnerConfig defines the tick schedule and market hours.
type RunnerConfig struct {
	TickInterval     string `yaml:"tick_interval"`
	Timezone         string `yaml:"timezone"`      // e.g., "America/New_York"
	TradingStart     string `yaml:"trading_start"` // "HH:MM"
	TradingEnd       string `yaml:"trading_end"`   // "HH:MM"
	EndCutoff        string `yaml:"end_cutoff"`    // RFC3339, optional terminal cutoff of the run
	IncludeCancelled bool   `yaml:"include_cancelled"`
}

// BrokerConfig defines broker settings.
type BrokerConfig struct {
	Provider        string               `yaml:"provider"` // paper
	StartingCash    float64              `yaml:"starting_cash"`
	StaleAfter      time.Duration        `yaml:"stale_after"` // quotes older than this flag fills as stale
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Market          MarketConfig         `yaml:"market"`
}

// CircuitBreakerConfig tunes the breaker that wraps every broker call.
type CircuitBreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
}

// MarketConfig parameterises the synthetic chain used in paper mode.
type MarketConfig struct {
	Underlying   string  `yaml:"underlying"`
	Spot         float64 `yaml:"spot"`
	Volatility   float64 `yaml:"volatility"`
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	StrikeStep   float64 `yaml:"strike_step"`
	Strikes      int     `yaml:"strikes"`
	Seed         int64   `yaml:"seed"`
	Expiries     int     `yaml:"expiries"` // weekly expiries listed
}

func (m *MarketConfig) normalize() {
	if m.Underlying == "" {
		m.Underlying = "SPY"
	}
	if m.Spot == 0 {
		m.Spot = 500
	}
	if m.Volatility == 0 {
		m.Volatility = 0.18
	}
	if m.StrikeStep == 0 {
		m.StrikeStep = 5
	}
	if m.Strikes == 0 {
		m.Strikes = 20
	}
	if m.Expiries == 0 {
		m.Expiries = 8
	}
}

// StorageConfig defines storage settings for position data.
type StorageConfig struct {
	Driver string `yaml:"driver"` // json | sqlite | postgres
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// EventsConfig defines where lifecycle events are published.
type EventsConfig struct {
	Redis          bool          `yaml:"redis"`
	Channel        string        `yaml:"channel"`
	Stream         string        `yaml:"stream"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// DashboardConfig defines the read-only status API.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, expanding environment variables first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Runner.TickInterval == "" {
		c.Runner.TickInterval = defaultTickInterval.String()
	}
	if c.Runner.Timezone == "" {
		c.Runner.Timezone = defaultTimezone
	}
	if c.Runner.TradingStart == "" {
		c.Runner.TradingStart = "09:30"
	}
	if c.Runner.TradingEnd == "" {
		c.Runner.TradingEnd = "16:00"
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "paper"
	}
	if c.Broker.StartingCash == 0 {
		c.Broker.StartingCash = defaultStartingCash
	}
	c.Broker.Market.normalize()
	if c.Storage.Driver == "" {
		c.Storage.Driver = "json"
	}
	if c.Storage.Driver == "json" && c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Events.Channel == "" {
		c.Events.Channel = "runner:events"
	}
	if c.Events.PublishTimeout == 0 {
		c.Events.PublishTimeout = defaultPublishTimeout
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	if c.Broker.Provider != "paper" {
		return fmt.Errorf("broker.provider %q is not supported", c.Broker.Provider)
	}
	if c.IsLive() {
		return fmt.Errorf("environment.mode 'live' requires a live broker provider")
	}
	if c.Broker.StartingCash < 0 {
		return fmt.Errorf("broker.starting_cash must be >= 0")
	}
	if c.Broker.StaleAfter < 0 {
		return fmt.Errorf("broker.stale_after must be >= 0")
	}
	if c.Events.PublishTimeout < 0 {
		return fmt.Errorf("events.publish_timeout must be >= 0")
	}

	switch c.Storage.Driver {
	case "json":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the json driver")
		}
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be json, sqlite or postgres")
	}

	if _, err := time.ParseDuration(c.Runner.TickInterval); err != nil {
		return fmt.Errorf("runner.tick_interval invalid: %w", err)
	}
	loc := c.Location()
	s, err1 := time.ParseInLocation("15:04", c.Runner.TradingStart, loc)
	e, err2 := time.ParseInLocation("15:04", c.Runner.TradingEnd, loc)
	if err1 != nil || err2 != nil || !s.Before(e) {
		return fmt.Errorf("runner trading window invalid (start/end parse/order)")
	}
	if c.Runner.EndCutoff != "" {
		if _, err := time.Parse(time.RFC3339, c.Runner.EndCutoff); err != nil {
			return fmt.Errorf("runner.end_cutoff invalid: %w", err)
		}
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 0 and 65535")
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	params := c.StrategyParams()
	seen := make(map[string]bool, len(params))
	for i := range params {
		prefix := fmt.Sprintf("strategies[%d]", i)
		if err := params[i].Validate(prefix); err != nil {
			return err
		}
		if seen[params[i].Name] {
			return fmt.Errorf("%s.name %q is duplicated", prefix, params[i].Name)
		}
		seen[params[i].Name] = true
	}
	return nil
}

// StrategyParams resolves every configured strategy against the package
// defaults and the shared defaults block.
func (c *Config) StrategyParams() []StrategyParams {
	base := Merge(DefaultStrategyParams(), c.Defaults)
	out := make([]StrategyParams, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		out = append(out, Merge(base, s))
	}
	return out
}

// IsPaperTrading returns true if the runner is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// IsLive returns true if the runner is configured for live trading.
func (c *Config) IsLive() bool {
	return c.Environment.Mode == "live"
}

// GetTickInterval returns the configured tick interval.
func (c *Config) GetTickInterval() time.Duration {
	d, err := time.ParseDuration(c.Runner.TickInterval)
	if err != nil || d <= 0 {
		return defaultTickInterval
	}
	return d
}

// EndCutoff returns the terminal cutoff of the run, if configured.
func (c *Config) EndCutoff() (time.Time, bool) {
	if c.Runner.EndCutoff == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, c.Runner.EndCutoff)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Location returns the market timezone, falling back to a fixed ET offset in
// minimal containers without tzdata.
func (c *Config) Location() *time.Location {
	tz := c.Runner.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if fallbackLoc, err2 := time.LoadLocation(defaultTimezone); err2 == nil {
			return fallbackLoc
		}
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// IsWithinTradingHours checks if the given time falls within configured trading hours.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	loc := c.Location()
	today := now.In(loc)

	// Only allow Monday–Friday trading
	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Runner.TradingStart, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Runner.TradingEnd, loc)
	if err1 != nil || err2 != nil {
		startClock = time.Date(0, 1, 1, 9, 30, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 16, 0, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}
