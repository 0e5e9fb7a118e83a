package perf

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Round2 rounds half away from zero to two decimals through a decimal so
// values like 1.005 come out as 1.01. Infinities and NaN pass through.
func Round2(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Ratio is a float that may legitimately be +Inf, such as a profit factor with
// no losing trades. JSON has no infinity, so it travels as "Infinity".
type Ratio float64

const infinityText = "Infinity"

// IsInf reports an unbounded ratio
func (r Ratio) IsInf() bool { return math.IsInf(float64(r), 1) }

// MarshalJSON implements json.Marshaler
func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return json.Marshal(infinityText)
	case math.IsInf(f, -1) || math.IsNaN(f):
		return []byte("0"), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Ratio) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != infinityText {
			return fmt.Errorf("invalid ratio %q", s)
		}
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("invalid ratio: %w", err)
	}
	*r = Ratio(f)
	return nil
}

func (r Ratio) String() string {
	if r.IsInf() {
		return infinityText
	}
	return fmt.Sprintf("%.2f", float64(r))
}

// Rounded returns a copy with every monetary, percent and ratio field rounded
// to two decimals for presentation
func (m *Metrics) Rounded() *Metrics {
	out := *m
	for _, f := range []*float64{
		&out.InitialCapital, &out.FinalEquity,
		&out.TotalReturn, &out.AnnualizedReturn, &out.Volatility, &out.BenchmarkReturn, &out.ExcessReturn,
		&out.SharpeRatio, &out.SortinoRatio, &out.CalmarRatio, &out.Skewness, &out.Kurtosis,
		&out.VaR95, &out.CVaR95, &out.VaR99, &out.CVaR99,
		&out.MaxDrawdown, &out.MaxDrawdownPercent, &out.AverageDrawdownPercent, &out.RecoveryFactor,
		&out.WinRate, &out.AverageWin, &out.AverageLoss, &out.AverageWinPercent, &out.AverageLossPercent,
		&out.LargestWin, &out.LargestLoss, &out.LargestWinPercent, &out.LargestLossPercent,
		&out.Expectancy, &out.AverageHoldingDays,
		&out.TotalCommission, &out.TotalTax, &out.TotalSlippage,
	} {
		*f = Round2(*f)
	}
	out.ProfitFactor = Ratio(Round2(float64(m.ProfitFactor)))

	if m.PerSymbol != nil {
		out.PerSymbol = make([]SymbolBreakdown, len(m.PerSymbol))
		for i, s := range m.PerSymbol {
			s.WinRate = Round2(s.WinRate)
			s.RealizedPnL = Round2(s.RealizedPnL)
			s.Best = Round2(s.Best)
			s.Worst = Round2(s.Worst)
			s.Contribution = Round2(s.Contribution)
			out.PerSymbol[i] = s
		}
	}
	return &out
}
