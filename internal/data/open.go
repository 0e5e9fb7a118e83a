package data

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Source kinds accepted by Config.Source
const (
	KindCSV      = "csv"
	KindPostgres = "postgres"
	KindHTTP     = "http"
	KindAlpaca   = "alpaca"
	KindDynamo   = "dynamodb"
)

// Config selects and configures the price source
type Config struct {
	Source   string         `yaml:"source"` // csv, postgres, http, alpaca or dynamodb
	CSVDir   string         `yaml:"csv_dir"`
	Provider ProviderConfig `yaml:"provider"`
	Postgres PostgresConfig `yaml:"postgres"`
	Alpaca   AlpacaConfig   `yaml:"alpaca"`
	Dynamo   DynamoConfig   `yaml:"dynamodb"`
	Redis    RedisConfig    `yaml:"redis"` // optional cache in front of any source
	Memory   MemoryConfig   `yaml:"memory"` // in-process cache, outermost
}

// DefaultConfig reads CSV files from ./data behind the in-process cache
func DefaultConfig() Config {
	return Config{
		Source:   KindCSV,
		CSVDir:   "data",
		Provider: DefaultProviderConfig(),
		Postgres: DefaultPostgresConfig(),
		Alpaca:   DefaultAlpacaConfig(),
		Dynamo:   DefaultDynamoConfig(),
		Redis:    DefaultRedisConfig(),
		Memory:   DefaultMemoryConfig(),
	}
}

// Validate checks that the selected source has what it needs
func (c Config) Validate() error {
	switch c.Source {
	case KindCSV:
		if c.CSVDir == "" {
			return fmt.Errorf("csv_dir is required for the csv source")
		}
	case KindPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required for the postgres source")
		}
	case KindHTTP:
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("provider base_url is required for the http source")
		}
	case KindAlpaca:
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return fmt.Errorf("alpaca api_key and api_secret are required for the alpaca source")
		}
	case KindDynamo:
		if c.Dynamo.Table == "" {
			return fmt.Errorf("dynamodb table is required for the dynamodb source")
		}
	default:
		return fmt.Errorf("unknown data source %q", c.Source)
	}
	return nil
}

// Open builds the configured source, wrapped in the Redis cache when an
// address is set and in the memory cache when it has entries. The returned
// closer releases connections.
func Open(ctx context.Context, cfg Config) (Source, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	var (
		src     Source
		closers []func() error
	)
	switch cfg.Source {
	case KindCSV:
		src = NewCSVSource(cfg.CSVDir)
	case KindPostgres:
		pg, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		src = pg
		closers = append(closers, pg.Close)
	case KindHTTP:
		h, err := NewHTTPSource(cfg.Provider, nil)
		if err != nil {
			return nil, nil, err
		}
		src = h
	case KindAlpaca:
		src = NewAlpacaSource(cfg.Alpaca)
	case KindDynamo:
		d, err := OpenDynamo(ctx, cfg.Dynamo)
		if err != nil {
			return nil, nil, err
		}
		src = d
	}

	if cfg.Redis.Addr != "" {
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, err
		}
		src = NewCachedSource(src, client, cfg.Redis.TTL, cfg.Redis.Prefix)
		closers = append(closers, client.Close)
	}
	if cfg.Memory.Entries > 0 {
		mem := NewMemorySource(src, cfg.Memory)
		src = mem
		closers = append(closers, mem.Close)
	}

	log.Info().Str("source", src.Name()).Msg("price source ready")
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	return src, closeAll, nil
}
