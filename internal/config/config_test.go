package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/backtester/internal/backtest/engine"
	"github.com/sawpanic/backtester/internal/data"
	"github.com/sawpanic/backtester/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppConfig_Defaults(t *testing.T) {
	cfg, err := LoadAppConfig("")
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig(), cfg.Backtest)
	assert.Equal(t, data.KindCSV, cfg.Data.Source)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr())
	assert.Equal(t, 252, cfg.Metrics.Calculator().TradingDaysPerYear)
}

func TestLoadAppConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
backtest:
  initial_capital: 50000
  sizing:
    method: FIXED
    fixed_amount: 5000
  stop_loss: 0.08
scenario:
  workers: 3
data:
  source: postgres
  postgres:
    dsn: postgres://localhost/bars
    query_timeout: 5s
log:
  level: debug
  format: json
`)
	cfg, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, engine.SizingFixed, cfg.Backtest.Sizing.Method)
	assert.Equal(t, 5000.0, cfg.Backtest.Sizing.FixedAmount)
	assert.Equal(t, 0.08, cfg.Backtest.StopLoss)
	// untouched keys keep their defaults
	assert.Equal(t, engine.DefaultConfig().CommissionRate, cfg.Backtest.CommissionRate)
	assert.Equal(t, 3, cfg.Scenario.Workers)
	assert.Equal(t, 5*time.Second, cfg.Data.Postgres.QueryTimeout)
	assert.Equal(t, "daily_bars", cfg.Data.Postgres.Table)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadAppConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BACKTEST_INITIAL_CAPITAL", "25000")
	t.Setenv("BACKTEST_WORKERS", "2")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_TTL", "2h")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DYNAMODB_REGION", "eu-west-1")
	t.Setenv("BACKTEST_DATA_SOURCE", "alpaca")
	t.Setenv("ALPACA_API_KEY", "key")
	t.Setenv("ALPACA_SECRET_KEY", "secret")

	cfg, err := LoadAppConfig("")
	require.NoError(t, err)
	assert.Equal(t, 25000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 2, cfg.Scenario.Workers)
	assert.Equal(t, "localhost:6379", cfg.Data.Redis.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Data.Redis.TTL)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "eu-west-1", cfg.Data.Dynamo.Region)
	assert.Equal(t, "daily_bars", cfg.Data.Dynamo.Table)
	assert.Equal(t, "alpaca", cfg.Data.Source)
	assert.Equal(t, "secret", cfg.Data.Alpaca.APISecret)
}

func TestLoadAppConfig_BadEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "eighty")
	_, err := LoadAppConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_PORT")
}

func TestLoadAppConfig_Errors(t *testing.T) {
	_, err := LoadAppConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadAppConfig(writeConfig(t, "backtest: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"negative capital", func(c *AppConfig) { c.Backtest.InitialCapital = -1 }, "backtest"},
		{"negative workers", func(c *AppConfig) { c.Scenario.Workers = -2 }, "workers"},
		{"zero trading days", func(c *AppConfig) { c.Metrics.TradingDaysPerYear = 0 }, "trading_days_per_year"},
		{"postgres without dsn", func(c *AppConfig) { c.Data.Source = data.KindPostgres }, "dsn"},
		{"unknown source", func(c *AppConfig) { c.Data.Source = "ftp" }, "unknown data source"},
		{"bad port", func(c *AppConfig) { c.HTTP.Port = 70000 }, "port"},
		{"bad log format", func(c *AppConfig) { c.Log.Format = "xml" }, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAppConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := DefaultAppConfig()
	cfg.Backtest.InitialCapital = 0
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidConfig)
}

func TestSaveAppConfig_RoundTrip(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Backtest.TrailingStop = 0.1
	cfg.Data.CSVDir = "/srv/prices"
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveAppConfig(cfg, path))

	loaded, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Backtest, loaded.Backtest)
	assert.Equal(t, "/srv/prices", loaded.Data.CSVDir)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BACKTESTER_DOTENV_KEY=from-file\nHTTP_PORT=7070\n"), 0o644))
	t.Setenv("HTTP_PORT", "9090")
	t.Cleanup(func() { os.Unsetenv("BACKTESTER_DOTENV_KEY") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("BACKTESTER_DOTENV_KEY"))
	assert.Equal(t, "9090", os.Getenv("HTTP_PORT"), "existing variables win")

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
