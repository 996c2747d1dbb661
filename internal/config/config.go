// Package config provides configuration management for the option-chain engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "optionchain/internal/errors"
)

// Holiday rules for the previous-trading-day candle selection.
const (
	HolidayRuleWeekday = "weekday"
	HolidayRuleStrict  = "strict"
)

// Config holds all application configuration.
type Config struct {
	Engine      EngineConfig     `mapstructure:"engine"`
	PrevDay     PrevDayConfig    `mapstructure:"prevday"`
	Intraday    IntradayConfig   `mapstructure:"intraday"`
	Historical  HistoricalConfig `mapstructure:"historical"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Credentials Credentials      `mapstructure:"-"` // Loaded separately
}

// EngineConfig holds chain-build settings.
type EngineConfig struct {
	QuoteBatchSize   int           `mapstructure:"quote_batch_size"`
	QuoteRetryDelay  time.Duration `mapstructure:"quote_retry_delay"`
	QuoteBatchPacing time.Duration `mapstructure:"quote_batch_pacing"`
	QuoteCacheTTL    time.Duration `mapstructure:"quote_cache_ttl"`
	InstrumentTTL    time.Duration `mapstructure:"instrument_ttl"`
	Exchanges        []string      `mapstructure:"exchanges"`
	BuildTimeout     time.Duration `mapstructure:"build_timeout"`
	PrefetchBudget   time.Duration `mapstructure:"prefetch_budget"`
	IntradayBudget   time.Duration `mapstructure:"intraday_budget"`
	RiskFreeRate     float64       `mapstructure:"risk_free_rate"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
}

// PrevDayConfig holds previous-day cache and warm worker settings.
type PrevDayConfig struct {
	CacheDir          string        `mapstructure:"cache_dir"`
	PrefetchCap       int           `mapstructure:"prefetch_cap"`
	LookbackDays      int           `mapstructure:"lookback_days"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	CoverageThreshold float64       `mapstructure:"coverage_threshold"`
	Shards            int           `mapstructure:"shards"`
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	CallPacing        time.Duration `mapstructure:"call_pacing"`
	PauseEvery        int           `mapstructure:"pause_every"`
	PauseFor          time.Duration `mapstructure:"pause_for"`
	RateLimitBackoff  time.Duration `mapstructure:"rate_limit_backoff"`
	RetentionDays     int           `mapstructure:"retention_days"`
	HolidayRule       string        `mapstructure:"holiday_rule"`
	Holidays          []string      `mapstructure:"holidays"`
}

// IntradayConfig holds intraday reconstruction settings.
type IntradayConfig struct {
	MaxTokens   int           `mapstructure:"max_tokens"`
	ChainSubset int           `mapstructure:"chain_subset"`
	MaxAge      time.Duration `mapstructure:"max_age"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// HistoricalConfig paces all historical-candle calls.
type HistoricalConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite KiteCredentials `mapstructure:"kite"`
}

// KiteCredentials holds Kite Connect API credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/optionchain"
	}
	return filepath.Join(home, ".config", "optionchain")
}

// Default returns a configuration populated with engine defaults.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("engine.quote_batch_size", 400)
	v.SetDefault("engine.quote_retry_delay", "1s")
	v.SetDefault("engine.quote_batch_pacing", "150ms")
	v.SetDefault("engine.quote_cache_ttl", "1s")
	v.SetDefault("engine.instrument_ttl", "1h")
	v.SetDefault("engine.exchanges", []string{"NFO", "BFO", "MCX"})
	v.SetDefault("engine.build_timeout", "30s")
	v.SetDefault("engine.prefetch_budget", "8s")
	v.SetDefault("engine.intraday_budget", "8s")
	v.SetDefault("engine.risk_free_rate", 0.05)
	v.SetDefault("engine.http_timeout", "10s")

	v.SetDefault("prevday.cache_dir", filepath.Join(configDir, "cache"))
	v.SetDefault("prevday.prefetch_cap", 450)
	v.SetDefault("prevday.lookback_days", 7)
	v.SetDefault("prevday.cooldown", "180s")
	v.SetDefault("prevday.coverage_threshold", 0.7)
	v.SetDefault("prevday.shards", 3)
	v.SetDefault("prevday.workers", 3)
	v.SetDefault("prevday.queue_size", 64)
	v.SetDefault("prevday.call_pacing", "10ms")
	v.SetDefault("prevday.pause_every", 15)
	v.SetDefault("prevday.pause_for", "200ms")
	v.SetDefault("prevday.rate_limit_backoff", "5s")
	v.SetDefault("prevday.retention_days", 7)
	v.SetDefault("prevday.holiday_rule", HolidayRuleWeekday)
	v.SetDefault("prevday.holidays", []string{})

	v.SetDefault("intraday.max_tokens", 400)
	v.SetDefault("intraday.chain_subset", 150)
	v.SetDefault("intraday.max_age", "180s")
	v.SetDefault("intraday.cooldown", "90s")

	v.SetDefault("historical.rate_per_second", 3.0)
	v.SetDefault("historical.burst", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.path", filepath.Join(configDir, "logs", "optionchain.log"))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateConfig(configDir)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Credentials.Kite.APISecret = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}
	if v := os.Getenv("OPTIONCHAIN_CACHE_DIR"); v != "" {
		cfg.PrevDay.CacheDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.QuoteBatchSize <= 0 {
		return apperrors.NewValidationError("engine.quote_batch_size", c.Engine.QuoteBatchSize, "must be positive")
	}
	if c.Engine.RiskFreeRate < 0 || c.Engine.RiskFreeRate > 1 {
		return apperrors.NewValidationError("engine.risk_free_rate", c.Engine.RiskFreeRate, "must be between 0 and 1")
	}
	if c.Engine.BuildTimeout <= 0 {
		return apperrors.NewValidationError("engine.build_timeout", c.Engine.BuildTimeout, "must be positive")
	}
	if c.PrevDay.CoverageThreshold < 0 || c.PrevDay.CoverageThreshold > 1 {
		return apperrors.NewValidationError("prevday.coverage_threshold", c.PrevDay.CoverageThreshold, "must be between 0 and 1")
	}
	if c.PrevDay.Shards <= 0 {
		return apperrors.NewValidationError("prevday.shards", c.PrevDay.Shards, "must be positive")
	}
	if c.PrevDay.Workers <= 0 {
		return apperrors.NewValidationError("prevday.workers", c.PrevDay.Workers, "must be positive")
	}
	if c.PrevDay.HolidayRule != HolidayRuleWeekday && c.PrevDay.HolidayRule != HolidayRuleStrict {
		return apperrors.NewValidationError("prevday.holiday_rule", c.PrevDay.HolidayRule, "must be 'weekday' or 'strict'")
	}
	if _, err := c.HolidayDates(); err != nil {
		return err
	}
	if c.Intraday.MaxTokens <= 0 || c.Intraday.ChainSubset <= 0 {
		return apperrors.NewValidationError("intraday", c.Intraday.MaxTokens, "token caps must be positive")
	}
	if c.Historical.RatePerSecond <= 0 {
		return apperrors.NewValidationError("historical.rate_per_second", c.Historical.RatePerSecond, "must be positive")
	}
	return nil
}

// HolidayDates parses the configured holiday list (YYYY-MM-DD).
func (c *Config) HolidayDates() ([]time.Time, error) {
	dates := make([]time.Time, 0, len(c.PrevDay.Holidays))
	for _, h := range c.PrevDay.Holidays {
		d, err := time.Parse("2006-01-02", strings.TrimSpace(h))
		if err != nil {
			return nil, apperrors.NewValidationError("prevday.holidays", h, "must be YYYY-MM-DD")
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// HasCredentials reports whether an API key is configured.
func (c *Config) HasCredentials() bool {
	return c.Credentials.Kite.APIKey != ""
}
