// Package config provides configuration management for the ledger service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env         string            `mapstructure:"env"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// TradingConfig holds execution and compliance settings.
type TradingConfig struct {
	DefaultInitialCash float64       `mapstructure:"default_initial_cash"`
	PriceTimeout       time.Duration `mapstructure:"price_timeout"`
	MarketTimezone     string        `mapstructure:"market_timezone"`
	RiskFreeRate       float64       `mapstructure:"risk_free_rate"`
	BenchmarkSymbol    string        `mapstructure:"benchmark_symbol"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
}

// RiskConfig holds rebalancing thresholds, expressed as fractions of account value.
type RiskConfig struct {
	MaxPositionWeight      float64 `mapstructure:"max_position_weight"`
	MaxSectorWeight        float64 `mapstructure:"max_sector_weight"`
	ConcentrationThreshold float64 `mapstructure:"concentration_threshold"`
	SameSectorCorrelation  float64 `mapstructure:"same_sector_correlation"`
	CrossSectorCorrelation float64 `mapstructure:"cross_sector_correlation"`
}

// PricingConfig tunes the simulated price feed.
type PricingConfig struct {
	MinLatency   time.Duration `mapstructure:"min_latency"`
	MaxLatency   time.Duration `mapstructure:"max_latency"`
	FailureRate  float64       `mapstructure:"failure_rate"`
	Volatility   float64       `mapstructure:"volatility"` // per tick, as a fraction
	TickInterval time.Duration `mapstructure:"tick_interval"`
	HistorySize  int           `mapstructure:"history_size"`
	Seed         int64         `mapstructure:"seed"`
}

type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("database.dsn", "klear.db")
	v.SetDefault("auth.jwt_secret", "klear-secret-key")
	v.SetDefault("auth.api_key", "test-api-key")
	v.SetDefault("auth.api_secret", "test-api-secret")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("trading.default_initial_cash", 100000.0)
	v.SetDefault("trading.price_timeout", 2*time.Second)
	v.SetDefault("trading.market_timezone", "America/New_York")
	v.SetDefault("trading.risk_free_rate", 0.02)
	v.SetDefault("trading.benchmark_symbol", "SPY")
	v.SetDefault("trading.idempotency_ttl", 24*time.Hour)
	v.SetDefault("risk.max_position_weight", 0.20)
	v.SetDefault("risk.max_sector_weight", 0.30)
	v.SetDefault("risk.concentration_threshold", 0.30)
	v.SetDefault("risk.same_sector_correlation", 0.7)
	v.SetDefault("risk.cross_sector_correlation", 0.3)
	v.SetDefault("pricing.min_latency", 5*time.Millisecond)
	v.SetDefault("pricing.max_latency", 30*time.Millisecond)
	v.SetDefault("pricing.failure_rate", 0.0)
	v.SetDefault("pricing.volatility", 0.002)
	v.SetDefault("pricing.tick_interval", time.Second)
	v.SetDefault("pricing.history_size", 390)
	v.SetDefault("pricing.seed", 0)
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@every 30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
}

// Default returns the configuration with every default applied and no
// file or environment input.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// defaults always decode
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration from an optional config.yaml in configDir (or the
// working directory), a .env file and KLEAR_ prefixed environment variables.
func Load(configDir string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configDir == "" {
		configDir = os.Getenv("KLEAR_CONFIG_DIR")
	}
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("KLEAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides honors the unprefixed variables the server has always read.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if os.Getenv("DEBUG") == "true" {
		cfg.Log.Level = "debug"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.IsProduction() && c.Auth.JWTSecret == "klear-secret-key" {
		return errors.New("auth.jwt_secret must be set in production")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Trading.DefaultInitialCash < 0 {
		return errors.New("trading.default_initial_cash must be non-negative")
	}
	if c.Trading.PriceTimeout <= 0 {
		return errors.New("trading.price_timeout must be positive")
	}
	if _, err := time.LoadLocation(c.Trading.MarketTimezone); err != nil {
		return fmt.Errorf("trading.market_timezone: %w", err)
	}
	for name, w := range map[string]float64{
		"risk.max_position_weight":     c.Risk.MaxPositionWeight,
		"risk.max_sector_weight":       c.Risk.MaxSectorWeight,
		"risk.concentration_threshold": c.Risk.ConcentrationThreshold,
	} {
		if w <= 0 || w > 1 {
			return fmt.Errorf("%s must be in (0, 1]", name)
		}
	}
	if c.Pricing.FailureRate < 0 || c.Pricing.FailureRate >= 1 {
		return errors.New("pricing.failure_rate must be in [0, 1)")
	}
	if c.Pricing.MaxLatency < c.Pricing.MinLatency {
		return errors.New("pricing.max_latency must not be below pricing.min_latency")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MarketLocation returns the market timezone, falling back to UTC.
func (c *Config) MarketLocation() *time.Location {
	loc, err := time.LoadLocation(c.Trading.MarketTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
