package perf

import (
	"time"

	"github.com/sawpanic/backtester/internal/backtest/engine"
)

// DrawdownPoint is the running peak and drawdown at one equity sample
type DrawdownPoint struct {
	Date            time.Time `json:"date"`
	Equity          float64   `json:"equity"`
	Peak            float64   `json:"peak"`
	Drawdown        float64   `json:"drawdown"`
	DrawdownPercent float64   `json:"drawdownPercent"`
}

// Drawdowns computes the running peak and drawdown series of an equity curve
func Drawdowns(curve []engine.EquitySample) []DrawdownPoint {
	out := make([]DrawdownPoint, len(curve))
	peak := 0.0
	for i, s := range curve {
		if i == 0 || s.Equity > peak {
			peak = s.Equity
		}
		p := DrawdownPoint{Date: s.Date, Equity: s.Equity, Peak: peak, Drawdown: peak - s.Equity}
		if peak > 0 {
			p.DrawdownPercent = p.Drawdown / peak * 100
		}
		out[i] = p
	}
	return out
}

// PathMaxDrawdownPercent is the deepest percent drawdown of a bare value path
func PathMaxDrawdownPercent(path []float64) float64 {
	peak, worst := 0.0, 0.0
	for i, v := range path {
		if i == 0 || v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// calculateDrawdown fills maximum, duration and average drawdown
func calculateDrawdown(curve []engine.EquitySample, m *Metrics) {
	var sumPct float64
	var underwater, run int
	for _, p := range Drawdowns(curve) {
		if p.Drawdown > m.MaxDrawdown {
			m.MaxDrawdown = p.Drawdown
		}
		if p.DrawdownPercent > m.MaxDrawdownPercent {
			m.MaxDrawdownPercent = p.DrawdownPercent
		}
		if p.Drawdown > 0 {
			run++
			underwater++
			sumPct += p.DrawdownPercent
			if run > m.MaxDrawdownDuration {
				m.MaxDrawdownDuration = run
			}
		} else {
			run = 0
		}
	}
	if underwater > 0 {
		m.AverageDrawdownPercent = sumPct / float64(underwater)
	}
}
