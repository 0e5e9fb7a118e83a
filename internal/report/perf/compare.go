package perf

import (
	"math"
	"sort"
)

// Comparison weights. Drawdown is ranked inverted so shallower is better.
const (
	weightTotalReturn  = 0.25
	weightSharpe       = 0.25
	weightDrawdown     = 0.20
	weightWinRate      = 0.15
	weightProfitFactor = 0.15
)

// Named pairs a label, usually a strategy id, with its metrics
type Named struct {
	Name    string   `json:"name"`
	Metrics *Metrics `json:"metrics"`
}

// Ranking is one entry of a comparison. Ranks are percentile ranks, 0..100.
type Ranking struct {
	Name    string             `json:"name"`
	Score   float64            `json:"score"`
	Ranks   map[string]float64 `json:"ranks"`
	Metrics *Metrics           `json:"metrics"`
}

// Comparison orders results by weighted percentile rank
type Comparison struct {
	Rankings []Ranking `json:"rankings"`
	Best     string    `json:"best"`
	Worst    string    `json:"worst"`
}

type compareAxis struct {
	name   string
	weight float64
	value  func(*Metrics) float64
}

var compareAxes = []compareAxis{
	{"totalReturn", weightTotalReturn, func(m *Metrics) float64 { return m.TotalReturn }},
	{"sharpeRatio", weightSharpe, func(m *Metrics) float64 { return m.SharpeRatio }},
	{"maxDrawdownPercent", weightDrawdown, func(m *Metrics) float64 { return -m.MaxDrawdownPercent }},
	{"winRate", weightWinRate, func(m *Metrics) float64 { return m.WinRate }},
	{"profitFactor", weightProfitFactor, func(m *Metrics) float64 { return float64(m.ProfitFactor) }},
}

// Compare ranks each result on every axis and combines the ranks with fixed
// weights. Ties keep input order.
func Compare(results []Named) Comparison {
	cmp := Comparison{Rankings: make([]Ranking, len(results))}
	if len(results) == 0 {
		return cmp
	}
	for i, r := range results {
		m := r.Metrics
		if m == nil {
			m = &Metrics{}
		}
		cmp.Rankings[i] = Ranking{Name: r.Name, Ranks: make(map[string]float64, len(compareAxes)), Metrics: m}
	}

	for _, axis := range compareAxes {
		values := make([]float64, len(results))
		for i := range cmp.Rankings {
			values[i] = axis.value(cmp.Rankings[i].Metrics)
		}
		for i, v := range values {
			rank := percentileRank(values, v)
			cmp.Rankings[i].Ranks[axis.name] = rank
			cmp.Rankings[i].Score += rank * axis.weight
		}
	}

	sort.SliceStable(cmp.Rankings, func(i, j int) bool {
		return cmp.Rankings[i].Score > cmp.Rankings[j].Score
	})
	cmp.Best = cmp.Rankings[0].Name
	cmp.Worst = cmp.Rankings[len(cmp.Rankings)-1].Name
	return cmp
}

// percentileRank is the share of other values strictly below v; a lone value ranks 100
func percentileRank(values []float64, v float64) float64 {
	if len(values) == 1 {
		return 100
	}
	below := 0
	for _, x := range values {
		if x < v && !math.IsNaN(x) {
			below++
		}
	}
	return float64(below) / float64(len(values)-1) * 100
}
