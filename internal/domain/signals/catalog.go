package signals

import (
	"strings"

	"github.com/sawpanic/backtester/internal/domain/indicators"
	"github.com/sawpanic/backtester/internal/domain/market"
)

// CompositeWeight is the report weight of dual-confirmation strategies
const CompositeWeight = 1.5

// Confirm combines two verdicts. Agreement on a side is STRONG; one side plus
// HOLD keeps the plain verdict; disagreement is HOLD.
func Confirm(a, b Signal) Signal {
	switch {
	case a.IsBuy() && b.IsBuy():
		return StrongBuy
	case a.IsSell() && b.IsSell():
		return StrongSell
	case (a.IsBuy() && b == Hold) || (b.IsBuy() && a == Hold):
		return Buy
	case (a.IsSell() && b == Hold) || (b.IsSell() && a == Hold):
		return Sell
	}
	return Hold
}

// component is one leg of a composite: its params live under prefix+"."
type component struct {
	prefix   string
	defaults Params
	eval     EvalFunc
}

func (c component) params(p Params) Params {
	out := c.defaults.Clone()
	pfx := c.prefix + "."
	for k, v := range p {
		if strings.HasPrefix(k, pfx) {
			out[strings.TrimPrefix(k, pfx)] = v
		}
	}
	return out
}

// composite builds a dual-confirmation strategy from two components. Leg
// parameters are exposed as "<prefix>.<name>" so both can be tuned.
func composite(id, desc string, a, b component) Strategy {
	defaults := Params{}
	for _, c := range []component{a, b} {
		for k, v := range c.defaults {
			defaults[c.prefix+"."+k] = v
		}
	}
	eval := func(s market.Series, i int, p Params) Signal {
		return Confirm(a.eval(s, i, a.params(p)), b.eval(s, i, b.params(p)))
	}
	return NewWeighted(id, desc, defaults, CompositeWeight, eval)
}

var (
	maCrossDefaults        = Params{"shortPeriod": 5, "longPeriod": 20}
	rsiDefaults            = Params{"period": 14, "oversold": 30, "overbought": 70, "extremeLow": 20, "extremeHigh": 80}
	macdDefaults           = Params{"fast": 12, "slow": 26, "signal": 9}
	bollingerDefaults      = Params{"period": 20, "stdDev": 2}
	kdDefaults             = Params{"period": 9, "kSmooth": 3, "dPeriod": 3, "oversold": 20, "overbought": 80}
	volumeBreakoutDefaults = Params{"period": 20, "volumeFactor": 2}
)

// Catalog returns the built-in strategies. Each call builds fresh values.
func Catalog() []Strategy {
	return []Strategy{
		New("ma_cross", "Short/long simple moving average crossover",
			maCrossDefaults, maCross(indicators.SMA)),
		New("ema_cross", "Short/long exponential moving average crossover",
			Params{"shortPeriod": 12, "longPeriod": 26}, maCross(indicators.EMA)),
		New("wma_cross", "Short/long weighted moving average crossover",
			Params{"shortPeriod": 10, "longPeriod": 30}, maCross(indicators.WMA)),
		New("triple_ma", "Three moving averages newly stacked in order",
			Params{"shortPeriod": 5, "midPeriod": 10, "longPeriod": 20}, tripleMA),
		New("price_ma", "Close crossing its simple moving average",
			Params{"period": 20}, priceMA),
		New("rsi", "RSI oversold/overbought levels",
			rsiDefaults, rsiLevel),
		New("macd", "MACD histogram zero cross",
			macdDefaults, macdCross),
		New("bollinger", "Bollinger %B band touches",
			bollingerDefaults, bollingerBands),
		New("bollinger_squeeze", "Breakout after a Bollinger bandwidth squeeze",
			Params{"period": 20, "stdDev": 2, "squeezeLookback": 20, "squeezeRatio": 0.75}, bollingerSqueeze),
		New("kd", "Stochastic K/D crossover",
			kdDefaults, kdCross),
		New("williams_r", "Williams %R oversold/overbought levels",
			Params{"period": 14, "oversold": -80, "overbought": -20, "extremeOversold": -95, "extremeOverbought": -5}, williamsR),
		New("cci", "Commodity channel index reversal levels",
			Params{"period": 20, "threshold": 100, "extreme": 200}, cciLevel),
		New("adx", "Directional movement while ADX shows a trend",
			Params{"period": 14, "threshold": 25, "strong": 40}, adxTrend),
		New("momentum", "Momentum zero cross",
			Params{"period": 10, "strongPercent": 3}, momentumCross),
		New("roc", "Rate of change threshold",
			Params{"period": 12, "threshold": 5, "extreme": 10}, rocLevel),
		New("obv", "On-balance volume crossing its average",
			Params{"period": 20}, obvTrend),
		New("vwap", "Close crossing rolling VWAP",
			Params{"period": 20, "strongBand": 0.02}, vwapCross),
		New("atr_breakout", "Close-to-close move larger than a multiple of ATR",
			Params{"period": 14, "multiplier": 1.5}, atrBreakout),
		New("donchian", "Donchian channel breakout",
			Params{"period": 20, "exitPeriod": 10, "volumeFactor": 1.5}, donchian),
		New("volume_breakout", "Directional bar on a volume spike",
			volumeBreakoutDefaults, volumeBreakout),
		New("mean_reversion", "Z-score reversion to the moving average",
			Params{"period": 20, "entryZ": 2, "exitZ": 0}, meanReversion),

		composite("macd_rsi", "MACD cross confirmed by RSI",
			component{"macd", macdDefaults, macdCross},
			component{"rsi", rsiDefaults, rsiLevel}),
		composite("kd_bollinger", "Stochastic cross confirmed by Bollinger %B",
			component{"kd", kdDefaults, kdCross},
			component{"bollinger", bollingerDefaults, bollingerBands}),
		composite("ma_volume", "Moving average cross confirmed by a volume breakout",
			component{"ma", maCrossDefaults, maCross(indicators.SMA)},
			component{"volume", volumeBreakoutDefaults, volumeBreakout}),
	}
}
