package scenario

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/domain"
	"github.com/sawpanic/backtester/internal/domain/market"
	"github.com/sawpanic/backtester/internal/domain/signals"
	"github.com/sawpanic/backtester/internal/report/perf"
)

// RollingRequest slides a fixed-size window over one series
type RollingRequest struct {
	StrategyID string         `json:"strategyId"`
	Params     signals.Params `json:"params,omitempty"`
	Window     int            `json:"window"` // bars per run
	Step       int            `json:"step"`   // bars between window starts
}

// WindowRun is one independent simulation over bars [Start, Start+Window)
type WindowRun struct {
	Index     int           `json:"index"`
	Start     int           `json:"start"`
	StartDate time.Time     `json:"startDate"`
	EndDate   time.Time     `json:"endDate"`
	Metrics   *perf.Metrics `json:"metrics"`
}

// RollingSummary aggregates window outcomes
type RollingSummary struct {
	Windows         int               `json:"windows"`
	PositiveWindows int               `json:"positiveWindows"`
	ConsistencyRate float64           `json:"consistencyRate"` // percent of windows with a positive return
	Returns         perf.Distribution `json:"returns"`
	Sharpe          perf.Distribution `json:"sharpe"`
}

// RollingResult lists every window in start order
type RollingResult struct {
	StrategyID string         `json:"strategyId"`
	Windows    []WindowRun    `json:"windows"`
	Summary    RollingSummary `json:"summary"`
}

// Rolling runs the strategy on each window from a fresh initial capital. No
// equity carries between windows.
func (d *Driver) Rolling(ctx context.Context, symbol string, series market.Series, req RollingRequest) (*RollingResult, error) {
	if _, err := d.engine.Registry().Lookup(req.StrategyID); err != nil {
		return nil, err
	}
	if req.Window <= 0 {
		return nil, domain.NewConfigError(domain.ErrInvalidConfig, "window", "must be positive")
	}
	if req.Step <= 0 {
		return nil, domain.NewConfigError(domain.ErrInvalidConfig, "step", "must be positive")
	}

	var starts []int
	for s := 0; s+req.Window <= len(series); s += req.Step {
		starts = append(starts, s)
	}

	windows, err := runPool(ctx, d.opts.Workers, len(starts), func(_ context.Context, i int) (WindowRun, error) {
		start := starts[i]
		slice := series[start : start+req.Window]
		run, err := d.Single(map[string]market.Series{symbol: slice}, req.StrategyID, req.Params)
		if err != nil {
			return WindowRun{}, err
		}
		return WindowRun{
			Index:     i,
			Start:     start,
			StartDate: slice[0].Date,
			EndDate:   slice[len(slice)-1].Date,
			Metrics:   run.Metrics,
		}, nil
	}, d.opts.Progress)
	if err != nil {
		return nil, err
	}

	out := &RollingResult{StrategyID: req.StrategyID, Windows: windows, Summary: summarizeWindows(windows)}
	log.Info().
		Str("strategy", req.StrategyID).
		Str("symbol", symbol).
		Int("windows", len(windows)).
		Float64("consistency", out.Summary.ConsistencyRate).
		Msg("rolling window analysis complete")
	return out, nil
}

func summarizeWindows(windows []WindowRun) RollingSummary {
	sum := RollingSummary{Windows: len(windows)}
	returns := make([]float64, len(windows))
	sharpe := make([]float64, len(windows))
	for i, w := range windows {
		returns[i] = w.Metrics.TotalReturn
		sharpe[i] = w.Metrics.SharpeRatio
		if w.Metrics.TotalReturn > 0 {
			sum.PositiveWindows++
		}
	}
	if len(windows) > 0 {
		sum.ConsistencyRate = float64(sum.PositiveWindows) / float64(len(windows)) * 100
	}
	sum.Returns = perf.Describe(returns)
	sum.Sharpe = perf.Describe(sharpe)
	return sum
}
