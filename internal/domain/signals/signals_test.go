package signals

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/backtester/internal/domain"
	"github.com/sawpanic/backtester/internal/domain/market"
)

func closes(cs ...float64) market.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, len(cs))
	for i, c := range cs {
		s[i] = market.PricePoint{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return s
}

func flat(n int, price float64) market.Series {
	cs := make([]float64, n)
	for i := range cs {
		cs[i] = price
	}
	return closes(cs...)
}

func TestCatalog_HasUniqueIDs(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, 24, reg.Len())

	ids := reg.IDs()
	for _, want := range []string{"ma_cross", "rsi", "macd", "kd", "adx", "macd_rsi", "kd_bollinger", "ma_volume"} {
		assert.Contains(t, ids, want)
	}
	assert.IsIncreasing(t, ids)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	noop := func(market.Series, int, Params) Signal { return Hold }
	_, err := NewRegistry(New("a", "", nil, noop), New("a", "", nil, noop))
	require.Error(t, err)

	_, err = NewRegistry(New("", "", nil, noop))
	require.Error(t, err)
}

func TestRegistry_UnknownStrategy(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.Lookup("does_not_exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownStrategy))
	assert.True(t, domain.IsConfigError(err))

	_, _, err = reg.Resolve("does_not_exist", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

func TestRegistry_ResolveDoesNotMutate(t *testing.T) {
	reg := DefaultRegistry()
	overrides := Params{"shortPeriod": 3}

	st, merged, err := reg.Resolve("ma_cross", overrides)
	require.NoError(t, err)
	assert.Equal(t, 3.0, merged["shortPeriod"])
	assert.Equal(t, 20.0, merged["longPeriod"])

	merged["longPeriod"] = 99
	assert.Equal(t, 20.0, st.Defaults()["longPeriod"])
	assert.Len(t, overrides, 1)
}

func TestStrategies_HoldDuringWarmup(t *testing.T) {
	s := closes(100, 101, 99)
	for _, st := range DefaultRegistry().All() {
		for i := range s {
			assert.Equal(t, Hold, st.Evaluate(s, i, st.Defaults()), "%s at %d", st.ID(), i)
		}
		assert.Equal(t, Hold, st.Evaluate(s, -1, st.Defaults()), st.ID())
		assert.Equal(t, Hold, st.Evaluate(s, len(s), st.Defaults()), st.ID())
	}
}

func TestStrategies_NeverBuyFlatSeries(t *testing.T) {
	s := flat(80, 100)
	for _, st := range DefaultRegistry().All() {
		for i := range s {
			assert.False(t, st.Evaluate(s, i, st.Defaults()).IsBuy(), "%s at %d", st.ID(), i)
		}
	}
}

func TestMACross_ShortSeriesHolds(t *testing.T) {
	st, p, err := DefaultRegistry().Resolve("ma_cross", Params{"shortPeriod": 5, "longPeriod": 20})
	require.NoError(t, err)
	s := closes(100, 100, 100)
	for i := range s {
		assert.Equal(t, Hold, st.Evaluate(s, i, p))
	}
}

func TestMACross_Crossovers(t *testing.T) {
	st, p, err := DefaultRegistry().Resolve("ma_cross", Params{"shortPeriod": 2, "longPeriod": 4})
	require.NoError(t, err)

	up := closes(10, 10, 10, 10, 10, 12)
	assert.Equal(t, Hold, st.Evaluate(up, 4, p))
	assert.Equal(t, StrongBuy, st.Evaluate(up, 5, p))

	down := closes(10, 10, 10, 10, 10, 8)
	assert.Equal(t, StrongSell, st.Evaluate(down, 5, p))
}

func TestRSI_Levels(t *testing.T) {
	st, p, err := DefaultRegistry().Resolve("rsi", Params{"period": 3})
	require.NoError(t, err)

	falling := closes(20, 19, 18, 17, 16)
	assert.Equal(t, StrongBuy, st.Evaluate(falling, 4, p))

	rising := closes(16, 17, 18, 19, 20)
	assert.Equal(t, StrongSell, st.Evaluate(rising, 4, p))
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		a, b Signal
		want Signal
	}{
		{Buy, Buy, StrongBuy},
		{StrongBuy, Buy, StrongBuy},
		{Sell, StrongSell, StrongSell},
		{Buy, Hold, Buy},
		{Hold, StrongBuy, Buy},
		{Sell, Hold, Sell},
		{Hold, StrongSell, Sell},
		{Buy, Sell, Hold},
		{Hold, Hold, Hold},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Confirm(tt.a, tt.b), "%s + %s", tt.a, tt.b)
	}
}

func TestComposite_PrefixedParams(t *testing.T) {
	st, err := DefaultRegistry().Lookup("macd_rsi")
	require.NoError(t, err)

	d := st.Defaults()
	assert.Equal(t, 12.0, d["macd.fast"])
	assert.Equal(t, 14.0, d["rsi.period"])
	assert.Equal(t, CompositeWeight, WeightOf(st))

	// legs read their own prefixed overrides
	s := closes(20, 19, 18, 17, 16)
	p := Merge(d, Params{"rsi.period": 3})
	assert.Equal(t, Buy, st.Evaluate(s, 4, p))
}

func TestBuildReport_Score(t *testing.T) {
	always := func(sig Signal) EvalFunc {
		return func(market.Series, int, Params) Signal { return sig }
	}
	s := flat(5, 100)

	reg := MustRegistry(
		New("a", "", nil, always(StrongBuy)),
		New("b", "", nil, always(Hold)),
	)
	rep := BuildReport(reg, s, 4)
	assert.InDelta(t, 50.0, rep.Score, 1e-9)
	assert.Equal(t, Buy, rep.Overall)
	assert.Equal(t, 1, rep.Counts["STRONG_BUY"])
	assert.Equal(t, 1, rep.Counts["HOLD"])
	require.Len(t, rep.Verdicts, 2)
	assert.Equal(t, "a", rep.Verdicts[0].StrategyID)

	reg = MustRegistry(
		New("a", "", nil, always(StrongBuy)),
		NewWeighted("c", "", nil, 1.5, always(Sell)),
	)
	rep = BuildReport(reg, s, 4)
	assert.InDelta(t, 10.0, rep.Score, 1e-9)
	assert.Equal(t, Hold, rep.Overall)
}

func TestBuildReport_OutOfRange(t *testing.T) {
	rep := BuildReport(DefaultRegistry(), flat(3, 100), 10)
	assert.Empty(t, rep.Verdicts)
	assert.Equal(t, Hold, rep.Overall)
	assert.Zero(t, rep.Score)
}

func TestScoreSignal(t *testing.T) {
	assert.Equal(t, StrongBuy, ScoreSignal(51))
	assert.Equal(t, Buy, ScoreSignal(21))
	assert.Equal(t, Hold, ScoreSignal(20))
	assert.Equal(t, Sell, ScoreSignal(-21))
	assert.Equal(t, StrongSell, ScoreSignal(-51))
}

func TestSignal_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]Signal{"s": StrongBuy})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"STRONG_BUY"}`, string(b))

	var back map[string]Signal
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, StrongBuy, back["s"])

	_, err = ParseSignal("maybe")
	assert.Error(t, err)
}
