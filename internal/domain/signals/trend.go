package signals

import (
	"github.com/sawpanic/backtester/internal/domain/indicators"
	"github.com/sawpanic/backtester/internal/domain/market"
)

// average is any close-based moving average
type average func(s market.Series, window, index int) (float64, bool)

// crossing classifies a move of a relative to b between two bars:
// +1 crossed above, -1 crossed below, 0 otherwise
func crossing(prevA, prevB, a, b float64) int {
	switch {
	case prevA <= prevB && a > b:
		return 1
	case prevA >= prevB && a < b:
		return -1
	}
	return 0
}

// maCross emits on a short/long average crossover. The verdict is STRONG when
// the close confirms on the same side of both averages and the long average
// slopes the same way.
func maCross(avg average) EvalFunc {
	return func(s market.Series, i int, p Params) Signal {
		short, long := p.Int("shortPeriod"), p.Int("longPeriod")
		if short <= 0 || long <= 0 || i < 1 {
			return Hold
		}
		sNow, ok1 := avg(s, short, i)
		lNow, ok2 := avg(s, long, i)
		sPrev, ok3 := avg(s, short, i-1)
		lPrev, ok4 := avg(s, long, i-1)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return Hold
		}
		c := s[i].Close
		switch crossing(sPrev, lPrev, sNow, lNow) {
		case 1:
			if c > sNow && c > lNow && lNow > lPrev {
				return StrongBuy
			}
			return Buy
		case -1:
			if c < sNow && c < lNow && lNow < lPrev {
				return StrongSell
			}
			return Sell
		}
		return Hold
	}
}

func tripleMA(s market.Series, i int, p Params) Signal {
	short, mid, long := p.Int("shortPeriod"), p.Int("midPeriod"), p.Int("longPeriod")
	if i < 1 {
		return Hold
	}
	var now, prev [3]float64
	for k, w := range []int{short, mid, long} {
		v, ok := indicators.SMA(s, w, i)
		pv, pok := indicators.SMA(s, w, i-1)
		if !ok || !pok {
			return Hold
		}
		now[k], prev[k] = v, pv
	}
	bullNow := now[0] > now[1] && now[1] > now[2]
	bullPrev := prev[0] > prev[1] && prev[1] > prev[2]
	bearNow := now[0] < now[1] && now[1] < now[2]
	bearPrev := prev[0] < prev[1] && prev[1] < prev[2]
	rising := now[0] > prev[0] && now[1] > prev[1] && now[2] > prev[2]
	falling := now[0] < prev[0] && now[1] < prev[1] && now[2] < prev[2]

	switch {
	case bullNow && !bullPrev:
		if rising {
			return StrongBuy
		}
		return Buy
	case bearNow && !bearPrev:
		if falling {
			return StrongSell
		}
		return Sell
	}
	return Hold
}

// priceMA trades the close crossing its moving average, strong when the
// average's slope agrees
func priceMA(s market.Series, i int, p Params) Signal {
	period := p.Int("period")
	if i < 1 {
		return Hold
	}
	ma, ok := indicators.SMA(s, period, i)
	prevMA, pok := indicators.SMA(s, period, i-1)
	if !ok || !pok {
		return Hold
	}
	switch crossing(s[i-1].Close, prevMA, s[i].Close, ma) {
	case 1:
		if ma > prevMA {
			return StrongBuy
		}
		return Buy
	case -1:
		if ma < prevMA {
			return StrongSell
		}
		return Sell
	}
	return Hold
}

func macdCross(s market.Series, i int, p Params) Signal {
	fast, slow, sig := p.Int("fast"), p.Int("slow"), p.Int("signal")
	if i < 1 {
		return Hold
	}
	now := indicators.MACD(s, fast, slow, sig, i)
	prev := indicators.MACD(s, fast, slow, sig, i-1)
	if !now.IsValid || !prev.IsValid {
		return Hold
	}
	switch crossing(prev.Histogram, 0, now.Histogram, 0) {
	case 1:
		if now.MACD > 0 {
			return StrongBuy
		}
		return Buy
	case -1:
		if now.MACD < 0 {
			return StrongSell
		}
		return Sell
	}
	return Hold
}

// adxTrend follows the dominant directional indicator while ADX shows a trend
func adxTrend(s market.Series, i int, p Params) Signal {
	res := indicators.ADX(s, p.Int("period"), i)
	if !res.IsValid || res.ADX < p.Float("threshold") {
		return Hold
	}
	strong := res.ADX >= p.Float("strong")
	switch {
	case res.PlusDI > res.MinusDI:
		if strong {
			return StrongBuy
		}
		return Buy
	case res.MinusDI > res.PlusDI:
		if strong {
			return StrongSell
		}
		return Sell
	}
	return Hold
}

// momentumCross trades momentum crossing zero; strong when the move exceeds
// strongPercent of the close
func momentumCross(s market.Series, i int, p Params) Signal {
	period := p.Int("period")
	if i < 1 {
		return Hold
	}
	m, ok := indicators.Momentum(s, period, i)
	pm, pok := indicators.Momentum(s, period, i-1)
	if !ok || !pok {
		return Hold
	}
	strong := s[i].Close > 0 && abs(m)/s[i].Close*100 >= p.Float("strongPercent")
	switch crossing(pm, 0, m, 0) {
	case 1:
		if strong {
			return StrongBuy
		}
		return Buy
	case -1:
		if strong {
			return StrongSell
		}
		return Sell
	}
	return Hold
}

// rocLevel follows the rate of change once it clears threshold
func rocLevel(s market.Series, i int, p Params) Signal {
	roc, ok := indicators.ROC(s, p.Int("period"), i)
	if !ok {
		return Hold
	}
	th, ex := p.Float("threshold"), p.Float("extreme")
	switch {
	case roc >= ex:
		return StrongBuy
	case roc >= th:
		return Buy
	case roc <= -ex:
		return StrongSell
	case roc <= -th:
		return Sell
	}
	return Hold
}

// donchian is a channel breakout: entries above the prior period's high, exits
// below the prior exitPeriod's low. Volume confirmation upgrades the verdict.
func donchian(s market.Series, i int, p Params) Signal {
	period, exit := p.Int("period"), p.Int("exitPeriod")
	if i < 1 {
		return Hold
	}
	hh, ok := indicators.Highest(s, indicators.High, period, i-1)
	ll, lok := indicators.Lowest(s, indicators.Low, exit, i-1)
	if !ok || !lok {
		return Hold
	}
	avgVol, vok := indicators.MeanOf(s, indicators.Volume, period, i-1)
	loud := vok && avgVol > 0 && s[i].Volume >= avgVol*p.Float("volumeFactor")
	switch {
	case s[i].Close > hh:
		if loud {
			return StrongBuy
		}
		return Buy
	case s[i].Close < ll:
		if loud {
			return StrongSell
		}
		return Sell
	}
	return Hold
}

// atrBreakout reacts to a close that moves more than multiplier ATRs from the
// previous close
func atrBreakout(s market.Series, i int, p Params) Signal {
	if i < 1 {
		return Hold
	}
	atr, ok := indicators.ATR(s, p.Int("period"), i-1)
	if !ok || atr == 0 {
		return Hold
	}
	mult := p.Float("multiplier")
	move := s[i].Close - s[i-1].Close
	switch {
	case move >= 2*mult*atr:
		return StrongBuy
	case move >= mult*atr:
		return Buy
	case move <= -2*mult*atr:
		return StrongSell
	case move <= -mult*atr:
		return Sell
	}
	return Hold
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
