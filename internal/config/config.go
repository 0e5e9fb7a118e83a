// Package config loads the application configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/backtester/internal/backtest/engine"
	"github.com/sawpanic/backtester/internal/backtest/scenario"
	"github.com/sawpanic/backtester/internal/data"
	"github.com/sawpanic/backtester/internal/report/perf"
)

// AppConfig is the full application configuration
type AppConfig struct {
	Backtest engine.Config        `yaml:"backtest"`
	Scenario scenario.Options     `yaml:"scenario"`
	Metrics  MetricsSection       `yaml:"metrics"`
	Alerts   perf.AlertThresholds `yaml:"alerts"`
	Data     data.Config          `yaml:"data"`
	HTTP     HTTPSection          `yaml:"http"`
	Log      LogSection           `yaml:"log"`
}

// MetricsSection holds metric calculation settings
type MetricsSection struct {
	RiskFreeRate       float64 `yaml:"risk_free_rate"`
	TradingDaysPerYear int     `yaml:"trading_days_per_year"`
}

// Calculator converts the section into calculator settings
func (m MetricsSection) Calculator() perf.CalculatorConfig {
	return perf.CalculatorConfig{RiskFreeRate: m.RiskFreeRate, TradingDaysPerYear: m.TradingDaysPerYear}
}

// HTTPSection holds API server settings
type HTTPSection struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// Addr returns host:port
func (h HTTPSection) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// LogSection holds logger settings
type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, console or json
}

// DefaultAppConfig returns a configuration that runs against ./data CSV files
func DefaultAppConfig() *AppConfig {
	calc := perf.DefaultCalculatorConfig()
	return &AppConfig{
		Backtest: engine.DefaultConfig(),
		Scenario: scenario.Options{
			MaxCombinations: scenario.DefaultMaxCombinations,
			TopN:            scenario.DefaultTopN,
		},
		Metrics: MetricsSection{RiskFreeRate: calc.RiskFreeRate, TradingDaysPerYear: calc.TradingDaysPerYear},
		Alerts:  perf.DefaultAlertThresholds(),
		Data:    data.DefaultConfig(),
		HTTP: HTTPSection{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    32 << 20,
		},
		Log: LogSection{Level: "info", Format: "auto"},
	}
}

// DotEnvFile is read into the environment before overrides apply
const DotEnvFile = ".env"

// LoadDotEnv exports KEY=value lines from path without replacing variables
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadAppConfig reads path over the defaults and applies environment
// overrides, including those from ./.env. A missing path yields the defaults.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	if err := LoadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveAppConfig writes the configuration as YAML
func SaveAppConfig(cfg *AppConfig, path string) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Validate checks every section
func (c *AppConfig) Validate() error {
	if err := c.Backtest.Validate(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if c.Scenario.Workers < 0 {
		return fmt.Errorf("scenario: workers cannot be negative")
	}
	if c.Metrics.TradingDaysPerYear <= 0 {
		return fmt.Errorf("metrics: trading_days_per_year must be positive")
	}
	if err := c.Data.Validate(); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http: port %d out of range", c.HTTP.Port)
	}
	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	return nil
}

type envOverride struct {
	key   string
	apply func(string) error
}

func applyEnvOverrides(cfg *AppConfig) error {
	overrides := []envOverride{
		{"BACKTEST_INITIAL_CAPITAL", floatEnv(&cfg.Backtest.InitialCapital)},
		{"BACKTEST_COMMISSION_RATE", floatEnv(&cfg.Backtest.CommissionRate)},
		{"BACKTEST_TAX_RATE", floatEnv(&cfg.Backtest.TaxRate)},
		{"BACKTEST_SLIPPAGE_RATE", floatEnv(&cfg.Backtest.SlippageRate)},
		{"BACKTEST_MAX_POSITIONS", intEnv(&cfg.Backtest.MaxPositions)},
		{"BACKTEST_WORKERS", intEnv(&cfg.Scenario.Workers)},
		{"BACKTEST_DATA_SOURCE", stringEnv(&cfg.Data.Source)},
		{"BACKTEST_CSV_DIR", stringEnv(&cfg.Data.CSVDir)},
		{"PROVIDER_BASE_URL", stringEnv(&cfg.Data.Provider.BaseURL)},
		{"PROVIDER_API_KEY", stringEnv(&cfg.Data.Provider.APIKey)},
		{"ALPACA_API_KEY", stringEnv(&cfg.Data.Alpaca.APIKey)},
		{"ALPACA_SECRET_KEY", stringEnv(&cfg.Data.Alpaca.APISecret)},
		{"PG_DSN", stringEnv(&cfg.Data.Postgres.DSN)},
		{"PG_QUERY_TIMEOUT", durationEnv(&cfg.Data.Postgres.QueryTimeout)},
		{"REDIS_ADDR", stringEnv(&cfg.Data.Redis.Addr)},
		{"REDIS_PASSWORD", stringEnv(&cfg.Data.Redis.Password)},
		{"REDIS_TTL", durationEnv(&cfg.Data.Redis.TTL)},
		{"DYNAMODB_TABLE", stringEnv(&cfg.Data.Dynamo.Table)},
		{"DYNAMODB_REGION", stringEnv(&cfg.Data.Dynamo.Region)},
		{"DYNAMODB_ENDPOINT", stringEnv(&cfg.Data.Dynamo.Endpoint)},
		{"HTTP_HOST", stringEnv(&cfg.HTTP.Host)},
		{"HTTP_PORT", intEnv(&cfg.HTTP.Port)},
		{"LOG_LEVEL", stringEnv(&cfg.Log.Level)},
		{"LOG_FORMAT", stringEnv(&cfg.Log.Format)},
	}
	for _, o := range overrides {
		v, ok := os.LookupEnv(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(v); err != nil {
			return fmt.Errorf("env %s: %w", o.key, err)
		}
	}
	return nil
}

func stringEnv(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func intEnv(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func floatEnv(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func durationEnv(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}
