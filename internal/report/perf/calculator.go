// Package perf turns a simulation result into performance and risk statistics
package perf

import (
	"math"
	"time"

	"github.com/sawpanic/backtester/internal/backtest/engine"
	"github.com/sawpanic/backtester/internal/domain/market"
)

// Metrics is the flat statistics object. Its JSON names are consumed by
// downstream reporting and must stay stable.
type Metrics struct {
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
	TradingDays    int       `json:"tradingDays"`
	InitialCapital float64   `json:"initialCapital"`
	FinalEquity    float64   `json:"finalEquity"`

	// Returns, in percent
	TotalReturn      float64 `json:"totalReturn"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	Volatility       float64 `json:"volatility"`
	BenchmarkReturn  float64 `json:"benchmarkReturn"`
	ExcessReturn     float64 `json:"excessReturn"`

	// Risk-adjusted
	SharpeRatio  float64 `json:"sharpeRatio"`
	SortinoRatio float64 `json:"sortinoRatio"`
	CalmarRatio  float64 `json:"calmarRatio"`
	Skewness     float64 `json:"skewness"`
	Kurtosis     float64 `json:"kurtosis"` // excess
	VaR95        float64 `json:"var95"`    // daily return percent at the 5th percentile
	CVaR95       float64 `json:"cvar95"`
	VaR99        float64 `json:"var99"`
	CVaR99       float64 `json:"cvar99"`

	// Drawdown
	MaxDrawdown            float64 `json:"maxDrawdown"`
	MaxDrawdownPercent     float64 `json:"maxDrawdownPercent"`
	MaxDrawdownDuration    int     `json:"maxDrawdownDuration"` // samples
	AverageDrawdownPercent float64 `json:"averageDrawdownPercent"`
	RecoveryFactor         float64 `json:"recoveryFactor"`

	// Trades
	TotalTrades          int     `json:"totalTrades"`
	WinningTrades        int     `json:"winningTrades"`
	LosingTrades         int     `json:"losingTrades"`
	OpenTrades           int     `json:"openTrades"`
	WinRate              float64 `json:"winRate"`
	AverageWin           float64 `json:"averageWin"`
	AverageLoss          float64 `json:"averageLoss"`
	AverageWinPercent    float64 `json:"averageWinPercent"`
	AverageLossPercent   float64 `json:"averageLossPercent"`
	LargestWin           float64 `json:"largestWin"`
	LargestLoss          float64 `json:"largestLoss"`
	LargestWinPercent    float64 `json:"largestWinPercent"`
	LargestLossPercent   float64 `json:"largestLossPercent"`
	ProfitFactor         Ratio   `json:"profitFactor"`
	Expectancy           float64 `json:"expectancy"`
	AverageHoldingDays   float64 `json:"averageHoldingDays"`
	MaxConsecutiveWins   int     `json:"maxConsecutiveWins"`
	MaxConsecutiveLosses int     `json:"maxConsecutiveLosses"`

	// Costs
	TotalCommission float64 `json:"totalCommission"`
	TotalTax        float64 `json:"totalTax"`
	TotalSlippage   float64 `json:"totalSlippage"`

	PerSymbol []SymbolBreakdown `json:"perSymbol,omitempty"`
}

// CalculatorConfig holds the annualization constants
type CalculatorConfig struct {
	RiskFreeRate       float64 `yaml:"risk_free_rate" json:"riskFreeRate"`             // annual, default 0.02
	TradingDaysPerYear int     `yaml:"trading_days_per_year" json:"tradingDaysPerYear"` // default 252
}

// DefaultCalculatorConfig returns the standard constants
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		RiskFreeRate:       0.02,
		TradingDaysPerYear: 252,
	}
}

// Calculator computes Metrics. It never fails: empty input yields neutral values.
type Calculator struct {
	config CalculatorConfig
}

// NewCalculator creates a calculator, filling unset constants with defaults
func NewCalculator(config CalculatorConfig) *Calculator {
	if config.TradingDaysPerYear <= 0 {
		config.TradingDaysPerYear = 252
	}
	return &Calculator{config: config}
}

// Calculate computes every statistic for a result
func (c *Calculator) Calculate(res *engine.Result) *Metrics {
	m := &Metrics{}
	if res == nil {
		return m
	}
	m.InitialCapital = res.InitialCapital
	m.FinalEquity = res.FinalEquity
	m.StartDate = res.StartDate()
	m.EndDate = res.EndDate()
	m.TradingDays = len(res.EquityCurve)
	m.TotalCommission = res.Stats.TotalCommission
	m.TotalTax = res.Stats.TotalTax
	m.TotalSlippage = res.Stats.TotalSlippage
	if res.InitialCapital > 0 {
		m.TotalReturn = (res.FinalEquity - res.InitialCapital) / res.InitialCapital * 100
	}

	trips, open := PairRoundTrips(res.Trades)
	m.OpenTrades = open
	calculateTradeStats(trips, m)
	calculateDrawdown(res.EquityCurve, m)
	c.calculateReturnStats(res.EquityCurve, m)

	if m.MaxDrawdownPercent > 0 {
		m.RecoveryFactor = m.TotalReturn / m.MaxDrawdownPercent
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdownPercent
	}
	if len(res.Symbols) > 1 {
		m.PerSymbol = breakdownBySymbol(res.Symbols, trips)
	}
	return m
}

// WithBenchmark sets the equal-weight buy-and-hold return of the universe and
// the strategy's excess over it
func (c *Calculator) WithBenchmark(m *Metrics, universe map[string]market.Series) *Metrics {
	m.BenchmarkReturn = BuyAndHoldReturn(universe)
	m.ExcessReturn = m.TotalReturn - m.BenchmarkReturn
	return m
}

// calculateTradeStats derives hit rate, payoff and streak figures from round trips
func calculateTradeStats(trips []RoundTrip, m *Metrics) {
	m.TotalTrades = len(trips)
	if len(trips) == 0 {
		return
	}

	var grossWin, grossLoss, winPct, lossPct, holding float64
	var winStreak, lossStreak int
	for _, rt := range trips {
		holding += float64(rt.HoldingDays)
		switch {
		case rt.IsWin():
			m.WinningTrades++
			grossWin += rt.Profit
			winPct += rt.ProfitPercent
			m.LargestWin = math.Max(m.LargestWin, rt.Profit)
			m.LargestWinPercent = math.Max(m.LargestWinPercent, rt.ProfitPercent)
			winStreak++
			lossStreak = 0
		case rt.IsLoss():
			m.LosingTrades++
			grossLoss += rt.Profit
			lossPct += rt.ProfitPercent
			m.LargestLoss = math.Min(m.LargestLoss, rt.Profit)
			m.LargestLossPercent = math.Min(m.LargestLossPercent, rt.ProfitPercent)
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		if winStreak > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = winStreak
		}
		if lossStreak > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = lossStreak
		}
	}

	n := float64(len(trips))
	winRate := float64(m.WinningTrades) / n
	m.WinRate = winRate * 100
	m.AverageHoldingDays = holding / n
	if m.WinningTrades > 0 {
		m.AverageWin = grossWin / float64(m.WinningTrades)
		m.AverageWinPercent = winPct / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss / float64(m.LosingTrades)
		m.AverageLossPercent = lossPct / float64(m.LosingTrades)
	}
	m.Expectancy = winRate*m.AverageWinPercent + (1-winRate)*m.AverageLossPercent

	switch {
	case grossLoss < 0:
		m.ProfitFactor = Ratio(grossWin / -grossLoss)
	case m.WinningTrades > 0:
		m.ProfitFactor = Ratio(math.Inf(1))
	}
}

// calculateReturnStats works on daily close-to-close equity returns
func (c *Calculator) calculateReturnStats(curve []engine.EquitySample, m *Metrics) {
	returns := DailyReturns(curve)
	n := len(returns)
	if n == 0 {
		return
	}
	days := float64(c.config.TradingDaysPerYear)
	annualize := math.Sqrt(days)

	growth := 1 + m.TotalReturn/100
	if growth > 0 {
		m.AnnualizedReturn = (math.Pow(growth, days/float64(n)) - 1) * 100
	} else {
		m.AnnualizedReturn = -100
	}

	mean := meanOf(returns)
	sd := sampleStdDev(returns, mean)
	m.Volatility = sd * annualize * 100

	excess := mean - c.config.RiskFreeRate/days
	if sd > 0 {
		m.SharpeRatio = excess / sd * annualize
	}
	if dd := downsideDeviation(returns); dd > 0 {
		m.SortinoRatio = excess / dd * annualize
	}

	m.Skewness, m.Kurtosis = moments(returns, mean)
	m.VaR95, m.CVaR95 = historicalVaR(returns, 0.95)
	m.VaR99, m.CVaR99 = historicalVaR(returns, 0.99)
}

// DailyReturns converts an equity curve into fractional period returns,
// skipping periods that start from non-positive equity
func DailyReturns(curve []engine.EquitySample) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}
