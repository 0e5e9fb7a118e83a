package perf

import (
	"math"
	"sort"
	"strconv"
)

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev uses the n-1 denominator; fewer than two values give 0
func sampleStdDev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// downsideDeviation is the root mean square of the negative returns only
func downsideDeviation(xs []float64) float64 {
	ss, n := 0.0, 0
	for _, x := range xs {
		if x < 0 {
			ss += x * x
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(ss / float64(n))
}

// moments returns population skewness and excess kurtosis
func moments(xs []float64, mean float64) (skew, kurt float64) {
	n := float64(len(xs))
	if n < 3 {
		return 0, 0
	}
	var m2, m3, m4 float64
	for _, x := range xs {
		d := x - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= n
	m3 /= n
	m4 /= n
	if m2 == 0 {
		return 0, 0
	}
	return m3 / math.Pow(m2, 1.5), m4/(m2*m2) - 3
}

// historicalVaR reads VaR off the sorted returns at floor((1-confidence)*n)
// and averages everything at or below it for CVaR. Both are percent returns,
// negative for a loss.
func historicalVaR(xs []float64, confidence float64) (valueAtRisk, conditional float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx] * 100, meanOf(sorted[:idx+1]) * 100
}

// Percentile returns the nearest-rank percentile (0..100) of unsorted values
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p * float64(len(sorted)) / 100))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// Distribution summarises a sample
type Distribution struct {
	Mean        float64            `json:"mean"`
	StdDev      float64            `json:"stdDev"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Percentiles map[string]float64 `json:"percentiles"` // keyed "p5", "p50", ...
}

// Rounded returns a copy rounded to two decimals for presentation
func (d Distribution) Rounded() Distribution {
	out := Distribution{
		Mean:        Round2(d.Mean),
		StdDev:      Round2(d.StdDev),
		Min:         Round2(d.Min),
		Max:         Round2(d.Max),
		Percentiles: make(map[string]float64, len(d.Percentiles)),
	}
	for k, v := range d.Percentiles {
		out.Percentiles[k] = Round2(v)
	}
	return out
}

// DistributionPercentiles are the reported percentile levels
var DistributionPercentiles = []int{5, 10, 25, 50, 75, 90, 95}

// Describe builds a Distribution, all zero for an empty sample
func Describe(xs []float64) Distribution {
	d := Distribution{Percentiles: make(map[string]float64, len(DistributionPercentiles))}
	if len(xs) == 0 {
		for _, p := range DistributionPercentiles {
			d.Percentiles[percentileKey(p)] = 0
		}
		return d
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	d.Mean = meanOf(sorted)
	d.StdDev = sampleStdDev(sorted, d.Mean)
	d.Min, d.Max = sorted[0], sorted[len(sorted)-1]
	for _, p := range DistributionPercentiles {
		d.Percentiles[percentileKey(p)] = percentileSorted(sorted, float64(p))
	}
	return d
}

func percentileKey(p int) string {
	return "p" + strconv.Itoa(p)
}
