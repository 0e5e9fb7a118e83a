package perf

// DefaultObjective is the metric optimizations rank by unless told otherwise
const DefaultObjective = "sharpeRatio"

var objectives = map[string]func(*Metrics) float64{
	"totalReturn":      func(m *Metrics) float64 { return m.TotalReturn },
	"annualizedReturn": func(m *Metrics) float64 { return m.AnnualizedReturn },
	"sharpeRatio":      func(m *Metrics) float64 { return m.SharpeRatio },
	"sortinoRatio":     func(m *Metrics) float64 { return m.SortinoRatio },
	"calmarRatio":      func(m *Metrics) float64 { return m.CalmarRatio },
	"profitFactor":     func(m *Metrics) float64 { return float64(m.ProfitFactor) },
	"winRate":          func(m *Metrics) float64 { return m.WinRate },
	"expectancy":       func(m *Metrics) float64 { return m.Expectancy },
	"recoveryFactor":   func(m *Metrics) float64 { return m.RecoveryFactor },
	// lower drawdown is better, so it scores negated
	"maxDrawdownPercent": func(m *Metrics) float64 { return -m.MaxDrawdownPercent },
}

// Objective scores metrics by name so that higher is always better
func Objective(m *Metrics, name string) (float64, bool) {
	fn, ok := objectives[name]
	if !ok {
		return 0, false
	}
	return fn(m), true
}

// ObjectiveNames lists the supported objective metrics
func ObjectiveNames() []string {
	return []string{
		"totalReturn", "annualizedReturn", "sharpeRatio", "sortinoRatio", "calmarRatio",
		"profitFactor", "winRate", "expectancy", "recoveryFactor", "maxDrawdownPercent",
	}
}
