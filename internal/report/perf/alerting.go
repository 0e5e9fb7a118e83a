package perf

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Alert flags a statistic outside its acceptable range
type Alert struct {
	Type      string  `json:"type"`     // sharpe, drawdown, win_rate, profit_factor
	Severity  string  `json:"severity"` // CRITICAL, WARNING
	Message   string  `json:"message"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// AlertThresholds configures CheckAlerts
type AlertThresholds struct {
	MinSharpeRatio        float64 `yaml:"min_sharpe_ratio" json:"minSharpeRatio"`               // default 1.0
	MaxDrawdownPercent    float64 `yaml:"max_drawdown_percent" json:"maxDrawdownPercent"`       // default 20
	MinWinRate            float64 `yaml:"min_win_rate" json:"minWinRate"`                       // default 40
	MinTradesForRateCheck int     `yaml:"min_trades_for_rate_check" json:"minTradesForRateCheck"` // default 5
}

// DefaultAlertThresholds returns the standard review thresholds
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MinSharpeRatio:        1.0,
		MaxDrawdownPercent:    20,
		MinWinRate:            40,
		MinTradesForRateCheck: 5,
	}
}

// CheckAlerts reviews metrics against thresholds. A run without trades only
// gets the drawdown check.
func CheckAlerts(m *Metrics, th AlertThresholds) []Alert {
	alerts := make([]Alert, 0)

	if m.MaxDrawdownPercent > th.MaxDrawdownPercent && th.MaxDrawdownPercent > 0 {
		severity := "WARNING"
		if m.MaxDrawdownPercent > th.MaxDrawdownPercent*1.5 {
			severity = "CRITICAL"
		}
		alerts = append(alerts, Alert{
			Type:      "drawdown",
			Severity:  severity,
			Message:   fmt.Sprintf("max drawdown %.2f%% exceeds %.2f%%", m.MaxDrawdownPercent, th.MaxDrawdownPercent),
			Metric:    "maxDrawdownPercent",
			Value:     m.MaxDrawdownPercent,
			Threshold: th.MaxDrawdownPercent,
		})
	}

	if m.TotalTrades == 0 {
		return alerts
	}

	if m.SharpeRatio < th.MinSharpeRatio {
		alerts = append(alerts, Alert{
			Type:      "sharpe",
			Severity:  "WARNING",
			Message:   fmt.Sprintf("sharpe ratio %.2f below %.2f", m.SharpeRatio, th.MinSharpeRatio),
			Metric:    "sharpeRatio",
			Value:     m.SharpeRatio,
			Threshold: th.MinSharpeRatio,
		})
	}

	if m.TotalTrades >= th.MinTradesForRateCheck && m.WinRate < th.MinWinRate {
		alerts = append(alerts, Alert{
			Type:      "win_rate",
			Severity:  "WARNING",
			Message:   fmt.Sprintf("win rate %.2f%% below %.2f%%", m.WinRate, th.MinWinRate),
			Metric:    "winRate",
			Value:     m.WinRate,
			Threshold: th.MinWinRate,
		})
	}

	if pf := float64(m.ProfitFactor); m.LosingTrades > 0 && pf < 1.0 {
		alerts = append(alerts, Alert{
			Type:      "profit_factor",
			Severity:  "CRITICAL",
			Message:   fmt.Sprintf("profit factor %.2f indicates net losses", pf),
			Metric:    "profitFactor",
			Value:     pf,
			Threshold: 1.0,
		})
	}
	return alerts
}

// LogAlerts writes each alert through the global logger
func LogAlerts(label string, alerts []Alert) {
	for _, a := range alerts {
		ev := log.Warn()
		if a.Severity == "CRITICAL" {
			ev = log.Error()
		}
		ev.Str("run", label).
			Str("type", a.Type).
			Str("metric", a.Metric).
			Float64("value", a.Value).
			Float64("threshold", a.Threshold).
			Msg(a.Message)
	}
}
