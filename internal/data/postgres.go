package data

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// PostgresConfig holds database connection settings
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	Table           string        `yaml:"table"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultPostgresConfig returns pool defaults; DSN must still be supplied
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Table:           "daily_bars",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// barRow maps one row of the bars table
type barRow struct {
	Symbol string    `db:"symbol"`
	Date   time.Time `db:"date"`
	Open   float64   `db:"open"`
	High   float64   `db:"high"`
	Low    float64   `db:"low"`
	Close  float64   `db:"close"`
	Volume float64   `db:"volume"`
}

func (r barRow) point() market.PricePoint {
	return market.PricePoint{Date: r.Date.UTC(), Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
}

// PostgresSource reads daily bars from a table keyed by (symbol, date)
type PostgresSource struct {
	db      *sqlx.DB
	table   string
	timeout time.Duration
}

// OpenPostgres connects and pings the database
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresSource, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresSource(db, cfg.Table, cfg.QueryTimeout), nil
}

// NewPostgresSource wraps an existing connection
func NewPostgresSource(db *sqlx.DB, table string, timeout time.Duration) *PostgresSource {
	if table == "" {
		table = "daily_bars"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostgresSource{db: db, table: table, timeout: timeout}
}

// Name identifies the source in logs and errors
func (p *PostgresSource) Name() string { return "postgres" }

// Close releases the connection pool
func (p *PostgresSource) Close() error { return p.db.Close() }

// Load returns one symbol's bars in date order
func (p *PostgresSource) Load(ctx context.Context, symbol string, from, to time.Time) (market.Series, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT symbol, date, open, high, low, close, volume
		FROM %s
		WHERE symbol = $1 AND ($2::date IS NULL OR date >= $2) AND ($3::date IS NULL OR date <= $3)
		ORDER BY date ASC`, pq.QuoteIdentifier(p.table))

	var rows []barRow
	if err := p.db.SelectContext(ctx, &rows, query, symbol, nullDate(from), nullDate(to)); err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
	}
	s := make(market.Series, len(rows))
	for i, r := range rows {
		s[i] = r.point()
	}
	log.Debug().Str("symbol", symbol).Int("bars", len(s)).Msg("loaded postgres series")
	return finish(symbol, s, time.Time{}, time.Time{})
}

// LoadMany fetches several symbols in one round trip
func (p *PostgresSource) LoadMany(ctx context.Context, symbols []string, from, to time.Time) (map[string]market.Series, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	symbols = NormalizeSymbols(symbols)
	query := fmt.Sprintf(`
		SELECT symbol, date, open, high, low, close, volume
		FROM %s
		WHERE symbol = ANY($1) AND ($2::date IS NULL OR date >= $2) AND ($3::date IS NULL OR date <= $3)
		ORDER BY symbol ASC, date ASC`, pq.QuoteIdentifier(p.table))

	var rows []barRow
	if err := p.db.SelectContext(ctx, &rows, query, pq.Array(symbols), nullDate(from), nullDate(to)); err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}

	grouped := make(map[string]market.Series, len(symbols))
	for _, r := range rows {
		grouped[r.Symbol] = append(grouped[r.Symbol], r.point())
	}
	out := make(map[string]market.Series, len(symbols))
	for _, sym := range symbols {
		s, err := finish(sym, grouped[sym], time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}
		out[sym] = s
	}
	return out, nil
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
