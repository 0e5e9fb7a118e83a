// Package scenario runs many independent simulations: strategy comparisons,
// parameter grids, rolling windows and Monte Carlo trade reshuffles.
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/backtest/engine"
	"github.com/sawpanic/backtester/internal/domain/market"
	"github.com/sawpanic/backtester/internal/domain/signals"
	"github.com/sawpanic/backtester/internal/report/perf"
)

const (
	DefaultMaxCombinations = 10000
	DefaultTopN            = 10
)

// Options tune how a Driver schedules runs
type Options struct {
	Workers         int          `yaml:"workers" json:"workers"`                  // 0 = NumCPU
	MaxCombinations int          `yaml:"max_combinations" json:"maxCombinations"` // grid guard, default 10000
	TopN            int          `yaml:"top_n" json:"topN"`                       // grid results kept, default 10
	Progress        ProgressFunc `yaml:"-" json:"-"`
}

// Driver fans independent simulations out over a worker pool. Every run owns
// its own engine state; inputs are shared read-only.
type Driver struct {
	engine *engine.Engine
	calc   *perf.Calculator
	opts   Options
}

// NewDriver creates a driver around an engine and metrics calculator
func NewDriver(e *engine.Engine, calc *perf.Calculator, opts Options) *Driver {
	if opts.MaxCombinations <= 0 {
		opts.MaxCombinations = DefaultMaxCombinations
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if calc == nil {
		calc = perf.NewCalculator(perf.DefaultCalculatorConfig())
	}
	return &Driver{engine: e, calc: calc, opts: opts}
}

// WithProgress returns a copy of the driver reporting to fn
func (d *Driver) WithProgress(fn ProgressFunc) *Driver {
	cp := *d
	cp.opts.Progress = fn
	return &cp
}

// Engine exposes the underlying engine
func (d *Driver) Engine() *engine.Engine { return d.engine }

// Calculator exposes the metrics calculator
func (d *Driver) Calculator() *perf.Calculator { return d.calc }

// Run is one completed simulation with its metrics
type Run struct {
	StrategyID string         `json:"strategyId"`
	Params     signals.Params `json:"params"`
	Result     *engine.Result `json:"result,omitempty"`
	Metrics    *perf.Metrics  `json:"metrics"`
}

// Single runs one strategy and computes its metrics, including the benchmark
func (d *Driver) Single(universe map[string]market.Series, strategyID string, params signals.Params) (*Run, error) {
	res, err := d.engine.RunMulti(universe, strategyID, params)
	if err != nil {
		return nil, err
	}
	m := d.calc.WithBenchmark(d.calc.Calculate(res), universe)
	return &Run{StrategyID: res.StrategyID, Params: res.StrategyParams, Result: res, Metrics: m}, nil
}

// MultiStrategyResult holds one run per requested strategy plus their ranking
type MultiStrategyResult struct {
	Runs       []Run           `json:"runs"`
	Comparison perf.Comparison `json:"comparison"`
}

// MultiStrategy runs each strategy over the same data and config. Runs come
// back in request order; an unknown id fails the whole request up front.
func (d *Driver) MultiStrategy(ctx context.Context, universe map[string]market.Series, ids []string, overrides map[string]signals.Params) (*MultiStrategyResult, error) {
	for _, id := range ids {
		if _, err := d.engine.Registry().Lookup(id); err != nil {
			return nil, err
		}
	}
	started := time.Now()
	runs, err := runPool(ctx, d.opts.Workers, len(ids), func(_ context.Context, i int) (Run, error) {
		r, err := d.Single(universe, ids[i], overrides[ids[i]])
		if err != nil {
			return Run{}, fmt.Errorf("strategy %s: %w", ids[i], err)
		}
		return *r, nil
	}, d.opts.Progress)
	if err != nil {
		return nil, err
	}

	named := make([]perf.Named, len(runs))
	for i, r := range runs {
		named[i] = perf.Named{Name: r.StrategyID, Metrics: r.Metrics}
	}
	out := &MultiStrategyResult{Runs: runs, Comparison: perf.Compare(named)}

	log.Info().
		Int("strategies", len(ids)).
		Str("best", out.Comparison.Best).
		Dur("elapsed", time.Since(started)).
		Msg("multi-strategy comparison complete")
	return out, nil
}
