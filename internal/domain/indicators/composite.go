package indicators

import (
	"math"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// MACDResult represents the MACD line, its signal line and histogram at one index
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	IsValid   bool    `json:"is_valid"`
}

// MACD computes EMA(fast)-EMA(slow) and its EMA(signal) in one pass up to index.
// The MACD line is valid from slow-1; the signal line needs signal more values.
func MACD(s market.Series, fast, slow, signal, index int) MACDResult {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow || index >= len(s) {
		return MACDResult{}
	}
	first := slow - 1
	if index < first+signal-1 {
		return MACDResult{}
	}

	fastEMA, _ := SMA(s, fast, fast-1)
	kf := 2.0 / float64(fast+1)
	for i := fast; i <= first; i++ {
		fastEMA = (s[i].Close-fastEMA)*kf + fastEMA
	}
	slowEMA, _ := SMA(s, slow, first)
	ks := 2.0 / float64(slow+1)

	ksig := 2.0 / float64(signal+1)
	macd := fastEMA - slowEMA
	seed := macd
	var sig float64
	if signal == 1 {
		sig = macd
	}
	for i := first + 1; i <= index; i++ {
		fastEMA = (s[i].Close-fastEMA)*kf + fastEMA
		slowEMA = (s[i].Close-slowEMA)*ks + slowEMA
		macd = fastEMA - slowEMA
		n := i - first + 1
		switch {
		case n < signal:
			seed += macd
		case n == signal:
			seed += macd
			sig = seed / float64(signal)
		default:
			sig = (macd-sig)*ksig + sig
		}
	}
	return MACDResult{
		MACD:      macd,
		Signal:    sig,
		Histogram: macd - sig,
		IsValid:   true,
	}
}

// BollingerResult represents Bollinger Bands at one index
type BollingerResult struct {
	Upper     float64 `json:"upper"`
	Middle    float64 `json:"middle"`
	Lower     float64 `json:"lower"`
	PercentB  float64 `json:"percent_b"` // (close-lower)/(upper-lower)*100
	Bandwidth float64 `json:"bandwidth"` // (upper-lower)/middle*100
	IsValid   bool    `json:"is_valid"`
}

// Bollinger computes SMA(window) +/- k population standard deviations
func Bollinger(s market.Series, window int, k float64, index int) BollingerResult {
	mid, ok := SMA(s, window, index)
	if !ok {
		return BollingerResult{}
	}
	sd, _ := StdDev(s, window, index)
	upper := mid + k*sd
	lower := mid - k*sd

	pctB := 50.0
	if upper != lower {
		pctB = (s[index].Close - lower) / (upper - lower) * 100.0
	}
	bw := 0.0
	if mid != 0 {
		bw = (upper - lower) / mid * 100.0
	}
	return BollingerResult{
		Upper:     upper,
		Middle:    mid,
		Lower:     lower,
		PercentB:  pctB,
		Bandwidth: bw,
		IsValid:   true,
	}
}

// KDResult represents the stochastic oscillator at one index
type KDResult struct {
	K       float64 `json:"k"`
	D       float64 `json:"d"`
	PrevK   float64 `json:"prev_k"`
	PrevD   float64 `json:"prev_d"`
	RSV     float64 `json:"rsv"`
	IsValid bool    `json:"is_valid"`
}

// Stochastic computes the KD oscillator.
//
// RSV = (close-lowestLow)/(highestHigh-lowestLow)*100 over window (50 on a flat
// window). K is smoothed as K = (1-1/kSmooth)*prevK + RSV/kSmooth starting from 50,
// and D is the mean of the last dPeriod K values kept in a rolling buffer, so the
// whole history is one linear pass.
func Stochastic(s market.Series, window, kSmooth, dPeriod, index int) KDResult {
	if !ready(s, window, index) || kSmooth <= 0 || dPeriod <= 0 {
		return KDResult{}
	}
	alpha := 1.0 / float64(kSmooth)
	buf := make([]float64, 0, dPeriod)
	k, d := 50.0, 50.0
	prevK, prevD := k, d
	rsv := 50.0

	for i := window - 1; i <= index; i++ {
		hh, _ := Highest(s, High, window, i)
		ll, _ := Lowest(s, Low, window, i)
		rsv = 50.0
		if hh != ll {
			rsv = (s[i].Close - ll) / (hh - ll) * 100.0
		}
		prevK, prevD = k, d
		k = (1-alpha)*k + alpha*rsv

		if len(buf) == dPeriod {
			copy(buf, buf[1:])
			buf = buf[:dPeriod-1]
		}
		buf = append(buf, k)
		sum := 0.0
		for _, v := range buf {
			sum += v
		}
		d = sum / float64(len(buf))
	}

	return KDResult{K: k, D: d, PrevK: prevK, PrevD: prevD, RSV: rsv, IsValid: true}
}

// ADXResult represents the directional movement system at one index
type ADXResult struct {
	ADX     float64 `json:"adx"`
	PlusDI  float64 `json:"plus_di"`
	MinusDI float64 `json:"minus_di"`
	IsValid bool    `json:"is_valid"`
}

// ADX uses a single-window ratio of summed directional movement to summed true
// range, and reports DX itself as ADX. There is no Wilder smoothing.
func ADX(s market.Series, window, index int) ADXResult {
	if window <= 0 || index < window || index >= len(s) {
		return ADXResult{}
	}
	var tr, plusDM, minusDM float64
	for i := index - window + 1; i <= index; i++ {
		tr += trueRange(s, i)
		up := s[i].High - s[i-1].High
		down := s[i-1].Low - s[i].Low
		if up > down && up > 0 {
			plusDM += up
		}
		if down > up && down > 0 {
			minusDM += down
		}
	}
	if tr == 0 {
		return ADXResult{IsValid: true}
	}
	pdi := 100.0 * plusDM / tr
	mdi := 100.0 * minusDM / tr
	adx := 0.0
	if sum := pdi + mdi; sum > 0 {
		adx = 100.0 * math.Abs(pdi-mdi) / sum
	}
	return ADXResult{ADX: adx, PlusDI: pdi, MinusDI: mdi, IsValid: true}
}
