package signals

import (
	"github.com/sawpanic/backtester/internal/domain/indicators"
	"github.com/sawpanic/backtester/internal/domain/market"
)

// obvTrend trades OBV crossing its own moving average; strong when the close
// moved the same way
func obvTrend(s market.Series, i int, p Params) Signal {
	period := p.Int("period")
	if period <= 0 || i < period {
		return Hold
	}
	obv := indicators.OBVSeries(s, i)
	mean := func(end int) float64 {
		var sum float64
		for j := end - period + 1; j <= end; j++ {
			sum += obv[j]
		}
		return sum / float64(period)
	}
	now, prev := mean(i), mean(i-1)
	up := s[i].Close > s[i-1].Close
	down := s[i].Close < s[i-1].Close
	switch crossing(obv[i-1], prev, obv[i], now) {
	case 1:
		if up {
			return StrongBuy
		}
		return Buy
	case -1:
		if down {
			return StrongSell
		}
		return Sell
	}
	return Hold
}

// vwapCross trades the close crossing rolling VWAP; a close more than
// strongBand away from VWAP upgrades the verdict
func vwapCross(s market.Series, i int, p Params) Signal {
	period := p.Int("period")
	if i < 1 {
		return Hold
	}
	v, ok := indicators.VWAP(s, period, i)
	pv, pok := indicators.VWAP(s, period, i-1)
	if !ok || !pok || v == 0 {
		return Hold
	}
	dist := (s[i].Close - v) / v
	band := p.Float("strongBand")
	switch crossing(s[i-1].Close, pv, s[i].Close, v) {
	case 1:
		if dist >= band {
			return StrongBuy
		}
		return Buy
	case -1:
		if -dist >= band {
			return StrongSell
		}
		return Sell
	}
	return Hold
}

// volumeBreakout needs a volume spike over the prior period's average; the
// bar's direction and a new period high or low decide the verdict
func volumeBreakout(s market.Series, i int, p Params) Signal {
	period := p.Int("period")
	if i < 1 {
		return Hold
	}
	avgVol, ok := indicators.MeanOf(s, indicators.Volume, period, i-1)
	if !ok || avgVol <= 0 || s[i].Volume < avgVol*p.Float("volumeFactor") {
		return Hold
	}
	hh, _ := indicators.Highest(s, indicators.Close, period, i-1)
	ll, _ := indicators.Lowest(s, indicators.Close, period, i-1)
	c, pc := s[i].Close, s[i-1].Close
	switch {
	case c > pc && c > hh:
		return StrongBuy
	case c > pc:
		return Buy
	case c < pc && c < ll:
		return StrongSell
	case c < pc:
		return Sell
	}
	return Hold
}
