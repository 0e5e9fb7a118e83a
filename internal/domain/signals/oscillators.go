package signals

import (
	"github.com/sawpanic/backtester/internal/domain/indicators"
	"github.com/sawpanic/backtester/internal/domain/market"
)

// rsiLevel buys oversold and sells overbought; the extreme bands upgrade the
// verdict
func rsiLevel(s market.Series, i int, p Params) Signal {
	rsi, ok := indicators.RSI(s, p.Int("period"), i)
	if !ok {
		return Hold
	}
	switch {
	case rsi <= p.Float("extremeLow"):
		return StrongBuy
	case rsi <= p.Float("oversold"):
		return Buy
	case rsi >= p.Float("extremeHigh"):
		return StrongSell
	case rsi >= p.Float("overbought"):
		return Sell
	}
	return Hold
}

func bollingerBands(s market.Series, i int, p Params) Signal {
	bb := indicators.Bollinger(s, p.Int("period"), p.Float("stdDev"), i)
	if !bb.IsValid {
		return Hold
	}
	switch {
	case bb.PercentB < 0:
		return StrongBuy
	case bb.PercentB < 10:
		return Buy
	case bb.PercentB > 100:
		return StrongSell
	case bb.PercentB > 90:
		return Sell
	}
	return Hold
}

// bollingerSqueeze waits for the bandwidth to contract below squeezeRatio of
// its recent average, then follows a close outside the bands
func bollingerSqueeze(s market.Series, i int, p Params) Signal {
	period, lookback := p.Int("period"), p.Int("squeezeLookback")
	k := p.Float("stdDev")
	if lookback <= 0 || i < lookback {
		return Hold
	}
	now := indicators.Bollinger(s, period, k, i)
	prev := indicators.Bollinger(s, period, k, i-1)
	if !now.IsValid || !prev.IsValid {
		return Hold
	}
	var sum float64
	for j := i - lookback; j < i; j++ {
		bb := indicators.Bollinger(s, period, k, j)
		if !bb.IsValid {
			return Hold
		}
		sum += bb.Bandwidth
	}
	avg := sum / float64(lookback)
	if avg == 0 || prev.Bandwidth > avg*p.Float("squeezeRatio") {
		return Hold
	}
	c := s[i].Close
	switch {
	case c > now.Upper:
		return StrongBuy
	case c > now.Middle && s[i-1].Close <= prev.Middle:
		return Buy
	case c < now.Lower:
		return StrongSell
	case c < now.Middle && s[i-1].Close >= prev.Middle:
		return Sell
	}
	return Hold
}

// kdCross trades K crossing D; crosses inside the oversold or overbought zone
// are strong
func kdCross(s market.Series, i int, p Params) Signal {
	period := p.Int("period")
	if i < period {
		return Hold
	}
	kd := indicators.Stochastic(s, period, p.Int("kSmooth"), p.Int("dPeriod"), i)
	if !kd.IsValid {
		return Hold
	}
	switch crossing(kd.PrevK, kd.PrevD, kd.K, kd.D) {
	case 1:
		if kd.K <= p.Float("oversold") || kd.PrevK <= p.Float("oversold") {
			return StrongBuy
		}
		return Buy
	case -1:
		if kd.K >= p.Float("overbought") || kd.PrevK >= p.Float("overbought") {
			return StrongSell
		}
		return Sell
	}
	return Hold
}

func williamsR(s market.Series, i int, p Params) Signal {
	wr, ok := indicators.WilliamsR(s, p.Int("period"), i)
	if !ok {
		return Hold
	}
	switch {
	case wr <= p.Float("extremeOversold"):
		return StrongBuy
	case wr <= p.Float("oversold"):
		return Buy
	case wr >= p.Float("extremeOverbought"):
		return StrongSell
	case wr >= p.Float("overbought"):
		return Sell
	}
	return Hold
}

// cciLevel treats CCI as a reversal oscillator: deep negative readings buy
func cciLevel(s market.Series, i int, p Params) Signal {
	cci, ok := indicators.CCI(s, p.Int("period"), i)
	if !ok {
		return Hold
	}
	th, ex := p.Float("threshold"), p.Float("extreme")
	switch {
	case cci <= -ex:
		return StrongBuy
	case cci <= -th:
		return Buy
	case cci >= ex:
		return StrongSell
	case cci >= th:
		return Sell
	}
	return Hold
}

// meanReversion buys when the close sits entryZ deviations below its mean and
// exits once it has reverted past exitZ
func meanReversion(s market.Series, i int, p Params) Signal {
	period := p.Int("period")
	mean, ok := indicators.SMA(s, period, i)
	sd, sok := indicators.StdDev(s, period, i)
	if !ok || !sok || sd == 0 {
		return Hold
	}
	z := (s[i].Close - mean) / sd
	entry, exit := p.Float("entryZ"), p.Float("exitZ")
	switch {
	case z <= -1.5*entry:
		return StrongBuy
	case z <= -entry:
		return Buy
	case z >= 1.5*entry:
		return StrongSell
	case z >= entry:
		return Sell
	}
	if i > 0 {
		if prevMean, ok := indicators.SMA(s, period, i-1); ok {
			prevSD, _ := indicators.StdDev(s, period, i-1)
			if prevSD > 0 {
				prevZ := (s[i-1].Close - prevMean) / prevSD
				if prevZ < exit && z >= exit {
					return Sell
				}
			}
		}
	}
	return Hold
}
