package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/backtester/internal/backtest/engine"
	"github.com/sawpanic/backtester/internal/domain"
	"github.com/sawpanic/backtester/internal/domain/market"
	"github.com/sawpanic/backtester/internal/domain/signals"
	"github.com/sawpanic/backtester/internal/report/perf"
)

var start = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// wave oscillates enough to trigger moving-average crossovers
func wave(n int) market.Series {
	s := make(market.Series, n)
	for i := range s {
		c := 100 + 10*math.Sin(float64(i)/6) + float64(i)*0.05
		s[i] = market.PricePoint{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000 + float64(i%7)*100,
		}
	}
	return s
}

func newDriver(t *testing.T, opts Options) *Driver {
	t.Helper()
	e, err := engine.New(signals.DefaultRegistry(), engine.DefaultConfig())
	require.NoError(t, err)
	return NewDriver(e, nil, opts)
}

func TestRunPool_KeepsOrder(t *testing.T) {
	var mu sync.Mutex
	var calls []int
	got, err := runPool(context.Background(), 4, 20, func(_ context.Context, i int) (int, error) {
		return i * i, nil
	}, func(done, total int) {
		mu.Lock()
		calls = append(calls, done)
		mu.Unlock()
		assert.Equal(t, 20, total)
	})
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
	require.Len(t, calls, 20)
	assert.Equal(t, 20, calls[len(calls)-1])
}

func TestRunPool_FirstErrorWins(t *testing.T) {
	boom := errors.New("boom")
	_, err := runPool(context.Background(), 2, 50, func(_ context.Context, i int) (int, error) {
		if i == 3 {
			return 0, boom
		}
		return i, nil
	}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestRunPool_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runPool(ctx, 2, 10, func(_ context.Context, i int) (int, error) { return i, nil }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRange_Values(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3}, Range{Min: 1, Max: 3, Step: 1}.Values())
	assert.Len(t, Range{Min: 0.1, Max: 0.3, Step: 0.1}.Values(), 3)
	assert.Equal(t, []float64{5}, Range{Min: 5, Max: 5, Step: 1}.Values())
}

func TestExpandGrid(t *testing.T) {
	combos, err := expandGrid(map[string]Range{
		"shortPeriod": {Min: 3, Max: 5, Step: 1},
		"longPeriod":  {Min: 10, Max: 20, Step: 10},
	}, 100)
	require.NoError(t, err)
	require.Len(t, combos, 6)
	// names sort longPeriod first, so it varies slowest
	assert.Equal(t, signals.Params{"longPeriod": 10, "shortPeriod": 3}, combos[0])
	assert.Equal(t, signals.Params{"longPeriod": 20, "shortPeriod": 5}, combos[5])

	_, err = expandGrid(map[string]Range{
		"a": {Min: 1, Max: 10, Step: 1},
		"b": {Min: 1, Max: 10, Step: 1},
	}, 50)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestExpandGrid_InvalidRanges(t *testing.T) {
	tests := []struct {
		name string
		r    Range
	}{
		{"max below min", Range{Min: 5, Max: 1, Step: 1}},
		{"zero step", Range{Min: 1, Max: 5, Step: 0}},
		{"negative step", Range{Min: 1, Max: 5, Step: -1}},
		{"nan", Range{Min: math.NaN(), Max: 5, Step: 1}},
		{"infinite max", Range{Min: 0, Max: math.Inf(1), Step: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expandGrid(map[string]Range{"p": tt.r}, 0)
			assert.ErrorIs(t, err, domain.ErrInvalidRange)
			assert.True(t, domain.IsConfigError(err))
		})
	}
}

func TestRange_Count(t *testing.T) {
	assert.Equal(t, 11.0, Range{Min: 0, Max: 1, Step: 0.1}.Count())
	assert.Len(t, Range{Min: 0, Max: 1, Step: 0.1}.Values(), 11)
	assert.Equal(t, 3.0, Range{Min: 7, Max: 21, Step: 7}.Count())
	assert.Equal(t, 1.0, Range{Min: 5, Max: 5, Step: 1}.Count())
	assert.Equal(t, 2.0, Range{Min: 0, Max: 1.5, Step: 1}.Count(), "partial step is dropped")
}

func TestExpandGrid_OversizedRangeIsCheap(t *testing.T) {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	_, err := expandGrid(map[string]Range{"a": {Min: 0, Max: 2e7, Step: 1}}, 10000)
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, domain.ErrInvalidRange)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20), "rejected without expanding")

	_, err = expandGrid(map[string]Range{
		"a": {Min: 0, Max: 1e300, Step: 1e-300},
		"b": {Min: 0, Max: 1, Step: 1},
	}, 10000)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestRankTrials(t *testing.T) {
	trials := []Trial{
		{Params: signals.Params{"p": 1}, Score: 1.5},
		{Params: signals.Params{"p": 2}, Score: perf.Ratio(math.Inf(1))},
		{Params: signals.Params{"p": 3}, Score: perf.Ratio(math.NaN())},
		{Params: signals.Params{"p": 4}, Score: perf.Ratio(math.Inf(1))},
		{Params: signals.Params{"p": 5}, Score: 1.5},
	}
	rankTrials(trials)

	var order []float64
	for _, tr := range trials {
		order = append(order, tr.Params["p"])
	}
	assert.Equal(t, []float64{2, 4, 1, 5, 3}, order, "ties keep combination order")
}

// exitAfter buys on day one and sells after the hold parameter, so on a rising
// series every trade wins and the profit factor is unbounded
func exitAfter() signals.Strategy {
	return signals.New("exit_after", "buy once, sell after hold days", signals.Params{"hold": 2},
		func(_ market.Series, i int, p signals.Params) signals.Signal {
			switch i {
			case 1:
				return signals.Buy
			case 1 + p.Int("hold"):
				return signals.Sell
			}
			return signals.Hold
		})
}

func TestOptimize_UnboundedProfitFactor(t *testing.T) {
	e, err := engine.New(signals.MustRegistry(exitAfter()), engine.DefaultConfig())
	require.NoError(t, err)
	d := NewDriver(e, nil, Options{Workers: 2})

	rising := make(market.Series, 20)
	for i := range rising {
		c := 100 + 5*float64(i)
		rising[i] = market.PricePoint{Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}

	res, err := d.Optimize(context.Background(), map[string]market.Series{"UP": rising}, GridRequest{
		StrategyID: "exit_after",
		Ranges:     map[string]Range{"hold": {Min: 1, Max: 3, Step: 1}},
		Metric:     "profitFactor",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Best)
	assert.True(t, res.Best.Score.IsInf())
	assert.Equal(t, signals.Params{"hold": 1}, res.Best.Params, "tied scores keep combination order")

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"score":"Infinity"`)

	var back GridResult
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Len(t, back.Top, 3)
	assert.True(t, back.Top[2].Score.IsInf())
}

func TestOptimize(t *testing.T) {
	d := newDriver(t, Options{Workers: 3, TopN: 3})
	universe := map[string]market.Series{"WAVE": wave(160)}

	res, err := d.Optimize(context.Background(), universe, GridRequest{
		StrategyID: "ma_cross",
		Ranges: map[string]Range{
			"shortPeriod": {Min: 3, Max: 5, Step: 2},
			"longPeriod":  {Min: 10, Max: 20, Step: 10},
		},
		Metric: "totalReturn",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Combinations)
	assert.Equal(t, 4, res.Evaluated)
	require.Len(t, res.Top, 3)
	require.NotNil(t, res.Best)
	assert.Equal(t, res.Top[0].Score, res.Best.Score)
	for i := 1; i < len(res.Top); i++ {
		assert.GreaterOrEqual(t, res.Top[i-1].Score, res.Top[i].Score)
	}
	for _, tr := range res.Top {
		assert.Equal(t, perf.Ratio(tr.Metrics.TotalReturn), tr.Score)
	}
}

func TestOptimize_Rejections(t *testing.T) {
	d := newDriver(t, Options{Workers: 1})
	universe := map[string]market.Series{"WAVE": wave(60)}

	_, err := d.Optimize(context.Background(), universe, GridRequest{StrategyID: "nope"})
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)

	_, err = d.Optimize(context.Background(), universe, GridRequest{StrategyID: "ma_cross", Metric: "luck"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMultiStrategy_RequestOrder(t *testing.T) {
	var mu sync.Mutex
	var progress int
	d := newDriver(t, Options{Workers: 4}).WithProgress(func(done, total int) {
		mu.Lock()
		progress = done
		mu.Unlock()
	})
	ids := []string{"rsi", "ma_cross", "macd", "bollinger"}

	res, err := d.MultiStrategy(context.Background(), map[string]market.Series{"WAVE": wave(200)}, ids, nil)
	require.NoError(t, err)
	require.Len(t, res.Runs, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, res.Runs[i].StrategyID)
		assert.NotNil(t, res.Runs[i].Metrics)
	}
	assert.Len(t, res.Comparison.Rankings, len(ids))
	assert.Contains(t, ids, res.Comparison.Best)
	assert.Equal(t, len(ids), progress)
}

func TestMultiStrategy_MatchesSingleRuns(t *testing.T) {
	d := newDriver(t, Options{Workers: 4})
	universe := map[string]market.Series{"WAVE": wave(200)}

	multi, err := d.MultiStrategy(context.Background(), universe, []string{"ma_cross", "kd"}, nil)
	require.NoError(t, err)
	single, err := d.Single(universe, "kd", nil)
	require.NoError(t, err)
	assert.Equal(t, single.Result.FinalEquity, multi.Runs[1].Result.FinalEquity)
	assert.Equal(t, single.Result.Trades, multi.Runs[1].Result.Trades)
}

func TestMultiStrategy_UnknownFailsUpFront(t *testing.T) {
	d := newDriver(t, Options{})
	_, err := d.MultiStrategy(context.Background(), map[string]market.Series{"WAVE": wave(50)}, []string{"rsi", "bogus"}, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

func TestRolling_Windows(t *testing.T) {
	d := newDriver(t, Options{Workers: 2})
	s := wave(100)

	res, err := d.Rolling(context.Background(), "WAVE", s, RollingRequest{StrategyID: "ma_cross", Window: 30, Step: 10})
	require.NoError(t, err)
	require.Len(t, res.Windows, 8)
	for i, w := range res.Windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, i*10, w.Start)
		assert.True(t, w.StartDate.Equal(s[i*10].Date))
		assert.True(t, w.EndDate.Equal(s[i*10+29].Date))
		assert.Equal(t, engine.DefaultConfig().InitialCapital, w.Metrics.InitialCapital)
	}
	assert.Equal(t, 8, res.Summary.Windows)
	assert.LessOrEqual(t, res.Summary.PositiveWindows, 8)
}

func TestRolling_EdgeCases(t *testing.T) {
	d := newDriver(t, Options{})
	s := wave(20)

	res, err := d.Rolling(context.Background(), "WAVE", s, RollingRequest{StrategyID: "ma_cross", Window: 50, Step: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Windows)
	assert.Zero(t, res.Summary.ConsistencyRate)

	_, err = d.Rolling(context.Background(), "WAVE", s, RollingRequest{StrategyID: "ma_cross", Window: 10, Step: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = d.Rolling(context.Background(), "WAVE", s, RollingRequest{StrategyID: "ma_cross", Window: 0, Step: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

// roundTrips builds a ledger whose round trips return the given percentages
// on a 1000 cost basis
func roundTrips(pcts ...float64) *engine.Result {
	res := &engine.Result{InitialCapital: 1000, FinalEquity: 1000}
	for i, pct := range pcts {
		day := start.AddDate(0, 0, 2*i)
		res.Trades = append(res.Trades,
			engine.Trade{Date: day, Symbol: "X", Side: signals.Buy, Reason: engine.ReasonSignal, Price: 10, Shares: 100},
			engine.Trade{Date: day.AddDate(0, 0, 1), Symbol: "X", Side: signals.Sell, Reason: engine.ReasonSignal,
				Price: 10 * (1 + pct/100), Shares: 100, RealizedPnL: 10 * pct},
		)
	}
	return res
}

func TestMonteCarlo_CompoundingIsOrderFree(t *testing.T) {
	d := newDriver(t, Options{Workers: 4})
	res, err := d.MonteCarlo(context.Background(), roundTrips(10, -5, 20), 200, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	assert.Equal(t, 200, res.Simulations)
	assert.Equal(t, 3, res.Trades)
	assert.InDelta(t, 1254.0, res.FinalEquity.Min, 1e-6)
	assert.InDelta(t, 1254.0, res.FinalEquity.Max, 1e-6)
	assert.Zero(t, res.ProbabilityOfLoss)
	assert.InDelta(t, 5.0, res.MaxDrawdownPercent.Max, 1e-9)
}

func TestMonteCarlo_SeededIsDeterministic(t *testing.T) {
	input := roundTrips(12, -8, 3, -15, 7, 9, -2)

	a, err := newDriver(t, Options{Workers: 1}).MonteCarlo(context.Background(), input, 300, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	b, err := newDriver(t, Options{Workers: 8}).MonteCarlo(context.Background(), input, 300, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	assert.Equal(t, a.MaxDrawdownPercent, b.MaxDrawdownPercent)
	assert.Equal(t, a.FinalEquity, b.FinalEquity)
	assert.GreaterOrEqual(t, a.MaxDrawdownPercent.Max, a.MaxDrawdownPercent.Min)
	assert.GreaterOrEqual(t, a.MaxDrawdownPercent.Min, 15.0-1e-9)
}

func TestMonteCarlo_NoTrades(t *testing.T) {
	d := newDriver(t, Options{})
	res, err := d.MonteCarlo(context.Background(), &engine.Result{InitialCapital: 5000, FinalEquity: 5000}, 10, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Trades)
	assert.Equal(t, 5000.0, res.FinalEquity.Percentiles["p50"])
	assert.Zero(t, res.MaxDrawdownPercent.Max)
}

func TestMonteCarlo_Rejections(t *testing.T) {
	d := newDriver(t, Options{})
	_, err := d.MonteCarlo(context.Background(), nil, 10, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = d.MonteCarlo(context.Background(), roundTrips(1), -1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestSimulatePath_Compounds(t *testing.T) {
	p := simulatePath([]float64{50, -50}, 100, rand.New(rand.NewSource(1)))
	assert.InDelta(t, 75.0, p.final, 1e-9)
	assert.Greater(t, p.maxDD, 0.0)
	assert.Equal(t, perf.PathMaxDrawdownPercent([]float64{100}), 0.0)
}
