package application

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/backtester/internal/backtest/engine"
	"github.com/sawpanic/backtester/internal/backtest/scenario"
	"github.com/sawpanic/backtester/internal/data"
	"github.com/sawpanic/backtester/internal/domain"
	"github.com/sawpanic/backtester/internal/domain/market"
	"github.com/sawpanic/backtester/internal/report/perf"
)

func wave(n int, phase float64) market.Series {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, n)
	for i := range s {
		c := 100 + 8*math.Sin(float64(i)/5+phase) + float64(i)*0.1
		s[i] = market.PricePoint{Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return s
}

type stubSource struct {
	series map[string]market.Series
	loads  []string
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Load(_ context.Context, symbol string, from, to time.Time) (market.Series, error) {
	s.loads = append(s.loads, symbol)
	series, ok := s.series[symbol]
	if !ok {
		return nil, data.ErrNoData
	}
	return series.Between(from, to), nil
}

type recorder struct {
	mu    sync.Mutex
	kinds []string
	errs  int
}

func (r *recorder) ObserveRun(kind string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	if err != nil {
		r.errs++
	}
}

func defaultSettings() Settings {
	return Settings{
		Engine:     engine.DefaultConfig(),
		Scenario:   scenario.Options{Workers: 2},
		Calculator: perf.DefaultCalculatorConfig(),
		Alerts:     perf.DefaultAlertThresholds(),
	}
}

func newService(t *testing.T, src data.Source) (*Service, *recorder) {
	t.Helper()
	svc, err := NewService(nil, src, defaultSettings())
	require.NoError(t, err)
	rec := &recorder{}
	return svc.WithObserver(rec), rec
}

func inline(symbols ...string) DataRequest {
	req := DataRequest{Series: map[string]market.Series{}}
	for i, s := range symbols {
		req.Series[s] = wave(150, float64(i))
	}
	return req
}

func TestBacktest_InlineSeries(t *testing.T) {
	svc, rec := newService(t, nil)
	resp, err := svc.Backtest(context.Background(), BacktestRequest{DataRequest: inline("AAA"), StrategyID: "ma_cross"})
	require.NoError(t, err)

	assert.Equal(t, "ma_cross", resp.StrategyID)
	assert.Equal(t, 5.0, resp.Params["shortPeriod"])
	require.NotNil(t, resp.Result)
	assert.Equal(t, []string{"AAA"}, resp.Result.Symbols)
	assert.Equal(t, perf.Round2(resp.Metrics.TotalReturn), resp.Metrics.TotalReturn)
	assert.NotNil(t, resp.Alerts)
	assert.Equal(t, []string{"backtest"}, rec.kinds)
}

func TestBacktest_Errors(t *testing.T) {
	svc, rec := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Backtest(ctx, BacktestRequest{StrategyID: "ma_cross"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = svc.Backtest(ctx, BacktestRequest{DataRequest: DataRequest{Symbols: []string{"AAA"}}, StrategyID: "ma_cross"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig, "no source configured")

	_, err = svc.Backtest(ctx, BacktestRequest{DataRequest: inline("AAA"), StrategyID: "nope"})
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)

	bad := engine.DefaultConfig()
	bad.CommissionRate = -1
	_, err = svc.Backtest(ctx, BacktestRequest{DataRequest: inline("AAA"), StrategyID: "rsi", Config: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	req := inline("AAA")
	req.From, req.To = "2023-03-01", "2023-02-01"
	_, err = svc.Backtest(ctx, BacktestRequest{DataRequest: req, StrategyID: "rsi"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	assert.Equal(t, 5, rec.errs)
}

func TestUniverse_FromSource(t *testing.T) {
	src := &stubSource{series: map[string]market.Series{"AAA": wave(40, 0), "BBB": wave(40, 1)}}
	svc, _ := newService(t, src)

	u, err := svc.Universe(context.Background(), DataRequest{Symbols: []string{"bbb", "AAA", "aaa"}, From: "2023-01-12"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, src.loads)
	assert.Len(t, u["AAA"], 30)

	_, err = svc.Universe(context.Background(), DataRequest{Symbols: []string{"ZZZ"}})
	assert.ErrorIs(t, err, data.ErrNoData)
}

func TestUniverse_RejectsBadInlineSeries(t *testing.T) {
	svc, _ := newService(t, nil)
	s := wave(5, 0)
	s[3].Close = -1
	_, err := svc.Universe(context.Background(), DataRequest{Series: map[string]market.Series{"BAD": s}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompare_DefaultsToCatalog(t *testing.T) {
	svc, _ := newService(t, nil)
	res, err := svc.Compare(context.Background(), CompareRequest{DataRequest: inline("AAA")}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Runs, svc.Registry().Len())
	for _, r := range res.Runs {
		assert.Nil(t, r.Result)
		assert.NotNil(t, r.Metrics)
	}
	assert.NotEmpty(t, res.Comparison.Best)
}

func TestOptimize_ProgressReported(t *testing.T) {
	svc, _ := newService(t, nil)
	var mu sync.Mutex
	var last, total int
	res, err := svc.Optimize(context.Background(), OptimizeRequest{
		DataRequest: inline("AAA"),
		GridRequest: scenario.GridRequest{
			StrategyID: "rsi",
			Ranges:     map[string]scenario.Range{"period": {Min: 7, Max: 14, Step: 7}},
		},
	}, func(done, n int) {
		mu.Lock()
		last, total = done, n
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Combinations)
	assert.Equal(t, 2, last)
	assert.Equal(t, 2, total)
	assert.Equal(t, perf.DefaultObjective, res.Metric)
	for _, tr := range res.Top {
		assert.Equal(t, perf.Round2(float64(tr.Score)), float64(tr.Score), "scores rounded at the boundary")
	}
}

func TestRolling_NeedsOneSymbol(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Rolling(context.Background(), RollingRequest{
		DataRequest:    inline("AAA", "BBB"),
		RollingRequest: scenario.RollingRequest{StrategyID: "rsi", Window: 50, Step: 25},
	}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	res, err := svc.Rolling(context.Background(), RollingRequest{
		DataRequest:    inline("AAA"),
		RollingRequest: scenario.RollingRequest{StrategyID: "rsi", Window: 50, Step: 25},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Windows, 5)
}

func TestMonteCarlo_SeedReproduces(t *testing.T) {
	svc, _ := newService(t, nil)
	seed := int64(99)
	req := MonteCarloRequest{
		BacktestRequest: BacktestRequest{DataRequest: inline("AAA"), StrategyID: "ma_cross"},
		Simulations:     50,
		Seed:            &seed,
	}
	a, err := svc.MonteCarlo(context.Background(), req, nil)
	require.NoError(t, err)
	b, err := svc.MonteCarlo(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, seed, a.Seed)
	assert.Equal(t, 50, a.Result.Simulations)
	assert.Equal(t, a.Result, b.Result)
}

func TestSignals(t *testing.T) {
	svc, _ := newService(t, nil)
	req := inline("AAA", "BBB")

	reports, err := svc.Signals(context.Background(), SignalsRequest{DataRequest: req})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	last := req.Series["AAA"][len(req.Series["AAA"])-1]
	assert.True(t, reports["AAA"].Date.Equal(last.Date))
	assert.Len(t, reports["AAA"].Verdicts, svc.Registry().Len())

	idx := 1000
	_, err = svc.Signals(context.Background(), SignalsRequest{DataRequest: req, Index: &idx})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestStrategies(t *testing.T) {
	svc, _ := newService(t, nil)
	list := svc.Strategies()
	require.Len(t, list, 24)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
	for _, s := range list {
		if s.ID == "macd_rsi" {
			assert.Equal(t, 1.5, s.Weight)
		}
	}
}
