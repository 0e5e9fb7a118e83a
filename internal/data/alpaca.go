package data

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// AlpacaConfig configures the Alpaca market data source
type AlpacaConfig struct {
	APIKey     string  `yaml:"api_key"`
	APISecret  string  `yaml:"api_secret"`
	Feed       string  `yaml:"feed"`       // iex or sip
	Adjustment string  `yaml:"adjustment"` // raw, split, dividend or all
	RPM        float64 `yaml:"requests_per_minute"`
}

// DefaultAlpacaConfig uses the free IEX feed with split and dividend adjustment
func DefaultAlpacaConfig() AlpacaConfig {
	return AlpacaConfig{Feed: "iex", Adjustment: "all", RPM: 200}
}

// alpacaHistoryStart bounds open-ended requests; the API defaults to today otherwise
var alpacaHistoryStart = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

// barsClient is the subset of the Alpaca market data client the source needs
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaSource loads adjusted daily bars from Alpaca
type AlpacaSource struct {
	client  barsClient
	limiter *rate.Limiter
	cfg     AlpacaConfig
}

// NewAlpacaSource builds a source over the real Alpaca client
func NewAlpacaSource(cfg AlpacaConfig) *AlpacaSource {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})
	return newAlpacaSource(client, cfg)
}

func newAlpacaSource(client barsClient, cfg AlpacaConfig) *AlpacaSource {
	limit := rate.Inf
	if cfg.RPM > 0 {
		limit = rate.Limit(cfg.RPM / 60)
	}
	return &AlpacaSource{client: client, limiter: rate.NewLimiter(limit, 1), cfg: cfg}
}

// Name implements Source
func (a *AlpacaSource) Name() string { return "alpaca" }

// Load implements Source
func (a *AlpacaSource) Load(ctx context.Context, symbol string, from, to time.Time) (market.Series, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := from
	if start.IsZero() {
		start = alpacaHistoryStart
	}
	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      start,
		Feed:       marketdata.Feed(a.cfg.Feed),
		Adjustment: marketdata.Adjustment(a.cfg.Adjustment),
	}
	if !to.IsZero() {
		req.End = to.AddDate(0, 0, 1) // end is exclusive
	}

	started := time.Now()
	bars, err := a.client.GetBars(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}
	log.Debug().
		Str("symbol", symbol).
		Int("bars", len(bars)).
		Dur("elapsed", time.Since(started)).
		Msg("alpaca bars loaded")

	s := make(market.Series, len(bars))
	for i, b := range bars {
		ts := b.Timestamp.UTC()
		s[i] = market.PricePoint{
			Date:   time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		}
	}
	return finish(symbol, s, from, to)
}
