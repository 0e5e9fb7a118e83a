// Package indicators computes technical indicators over a daily OHLCV series.
//
// Every function evaluates at a single index using only bars at or before that
// index, and reports ok=false (or IsValid=false) while the lookback window is not
// yet filled. Nothing here mutates the series.
package indicators

import (
	"math"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// Field selects one column of a bar
type Field func(market.PricePoint) float64

// Standard bar fields
var (
	Close   Field = func(p market.PricePoint) float64 { return p.Close }
	High    Field = func(p market.PricePoint) float64 { return p.High }
	Low     Field = func(p market.PricePoint) float64 { return p.Low }
	Volume  Field = func(p market.PricePoint) float64 { return p.Volume }
	Typical Field = func(p market.PricePoint) float64 { return p.TypicalPrice() }
)

// ready reports whether a window ending at index fits inside the series
func ready(s market.Series, window, index int) bool {
	return window > 0 && index >= window-1 && index < len(s)
}

// SMA is the mean of the last window closes ending at index
func SMA(s market.Series, window, index int) (float64, bool) {
	return MeanOf(s, Close, window, index)
}

// MeanOf is the simple mean of a field over the window ending at index
func MeanOf(s market.Series, f Field, window, index int) (float64, bool) {
	if !ready(s, window, index) {
		return 0, false
	}
	sum := 0.0
	for i := index - window + 1; i <= index; i++ {
		sum += f(s[i])
	}
	return sum / float64(window), true
}

// EMA seeds with the SMA of the first window closes and then recurses with
// multiplier 2/(window+1) up to index
func EMA(s market.Series, window, index int) (float64, bool) {
	if !ready(s, window, index) {
		return 0, false
	}
	ema, _ := SMA(s, window, window-1)
	k := 2.0 / float64(window+1)
	for i := window; i <= index; i++ {
		ema = (s[i].Close-ema)*k + ema
	}
	return ema, true
}

// WMA is the linearly weighted mean of the last window closes, newest weighted highest
func WMA(s market.Series, window, index int) (float64, bool) {
	if !ready(s, window, index) {
		return 0, false
	}
	num, den := 0.0, 0.0
	for w := 1; w <= window; w++ {
		i := index - window + w
		num += s[i].Close * float64(w)
		den += float64(w)
	}
	return num / den, true
}

// StdDev is the population standard deviation of closes over the window
func StdDev(s market.Series, window, index int) (float64, bool) {
	mean, ok := SMA(s, window, index)
	if !ok {
		return 0, false
	}
	v := 0.0
	for i := index - window + 1; i <= index; i++ {
		d := s[i].Close - mean
		v += d * d
	}
	return math.Sqrt(v / float64(window)), true
}

// Highest returns the maximum of a field over the window ending at index
func Highest(s market.Series, f Field, window, index int) (float64, bool) {
	if !ready(s, window, index) {
		return 0, false
	}
	hi := f(s[index])
	for i := index - window + 1; i < index; i++ {
		if v := f(s[i]); v > hi {
			hi = v
		}
	}
	return hi, true
}

// Lowest returns the minimum of a field over the window ending at index
func Lowest(s market.Series, f Field, window, index int) (float64, bool) {
	if !ready(s, window, index) {
		return 0, false
	}
	lo := f(s[index])
	for i := index - window + 1; i < index; i++ {
		if v := f(s[i]); v < lo {
			lo = v
		}
	}
	return lo, true
}

// RSI uses simple (not Wilder-smoothed) averages of the window's close-to-close
// gains and losses. It needs window changes, so index >= window. Returns 100
// when there are no losses.
func RSI(s market.Series, window, index int) (float64, bool) {
	if window <= 0 || index < window || index >= len(s) {
		return 0, false
	}
	gain, loss := 0.0, 0.0
	for i := index - window + 1; i <= index; i++ {
		change := s[i].Close - s[i-1].Close
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(window)
	avgLoss := loss / float64(window)
	if avgLoss == 0 {
		return 100.0, true
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs)), true
}

// trueRange of bar i against the previous close
func trueRange(s market.Series, i int) float64 {
	hl := s[i].High - s[i].Low
	if i == 0 {
		return hl
	}
	prevClose := s[i-1].Close
	hc := math.Abs(s[i].High - prevClose)
	lc := math.Abs(s[i].Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR is the simple mean of the last window true ranges (index >= window)
func ATR(s market.Series, window, index int) (float64, bool) {
	if window <= 0 || index < window || index >= len(s) {
		return 0, false
	}
	sum := 0.0
	for i := index - window + 1; i <= index; i++ {
		sum += trueRange(s, i)
	}
	return sum / float64(window), true
}

// Momentum is close[index] - close[index-window]
func Momentum(s market.Series, window, index int) (float64, bool) {
	if window <= 0 || index < window || index >= len(s) {
		return 0, false
	}
	return s[index].Close - s[index-window].Close, true
}

// ROC is the percent rate of change over window bars
func ROC(s market.Series, window, index int) (float64, bool) {
	if window <= 0 || index < window || index >= len(s) {
		return 0, false
	}
	base := s[index-window].Close
	if base == 0 {
		return 0, false
	}
	return (s[index].Close - base) / base * 100.0, true
}

// OBV is on-balance volume accumulated from the first bar up to index
func OBV(s market.Series, index int) (float64, bool) {
	if index < 0 || index >= len(s) {
		return 0, false
	}
	obv := 0.0
	for i := 1; i <= index; i++ {
		switch {
		case s[i].Close > s[i-1].Close:
			obv += s[i].Volume
		case s[i].Close < s[i-1].Close:
			obv -= s[i].Volume
		}
	}
	return obv, true
}

// OBVSeries returns OBV values for every index up to and including upto
func OBVSeries(s market.Series, upto int) []float64 {
	if upto >= len(s) {
		upto = len(s) - 1
	}
	if upto < 0 {
		return nil
	}
	out := make([]float64, upto+1)
	for i := 1; i <= upto; i++ {
		out[i] = out[i-1]
		switch {
		case s[i].Close > s[i-1].Close:
			out[i] += s[i].Volume
		case s[i].Close < s[i-1].Close:
			out[i] -= s[i].Volume
		}
	}
	return out
}

// VWAP is the rolling volume-weighted typical price over the window
func VWAP(s market.Series, window, index int) (float64, bool) {
	if !ready(s, window, index) {
		return 0, false
	}
	pv, vol := 0.0, 0.0
	for i := index - window + 1; i <= index; i++ {
		pv += s[i].TypicalPrice() * s[i].Volume
		vol += s[i].Volume
	}
	if vol == 0 {
		return 0, false
	}
	return pv / vol, true
}

// WilliamsR is (highestHigh-close)/(highestHigh-lowestLow) * -100, -50 on a flat window
func WilliamsR(s market.Series, window, index int) (float64, bool) {
	hh, ok := Highest(s, High, window, index)
	if !ok {
		return 0, false
	}
	ll, _ := Lowest(s, Low, window, index)
	if hh == ll {
		return -50.0, true
	}
	return (hh - s[index].Close) / (hh - ll) * -100.0, true
}

// CCI is (typical - SMA(typical)) / (0.015 * mean deviation); 0 on a flat window
func CCI(s market.Series, window, index int) (float64, bool) {
	mean, ok := MeanOf(s, Typical, window, index)
	if !ok {
		return 0, false
	}
	dev := 0.0
	for i := index - window + 1; i <= index; i++ {
		dev += math.Abs(s[i].TypicalPrice() - mean)
	}
	dev /= float64(window)
	if dev == 0 {
		return 0, true
	}
	return (s[index].TypicalPrice() - mean) / (0.015 * dev), true
}
