package scenario

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/domain"
	"github.com/sawpanic/backtester/internal/domain/market"
	"github.com/sawpanic/backtester/internal/domain/signals"
	"github.com/sawpanic/backtester/internal/report/perf"
)

const rangeEpsilon = 1e-9

// Range is an inclusive parameter sweep
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Count is the number of values the range expands to, computed without
// expanding it. It is a float so that absurd ranges compare without overflow.
func (r Range) Count() float64 {
	return math.Floor((r.Max-r.Min)/r.Step+rangeEpsilon) + 1
}

// Values expands the range, including Max when it lands within epsilon
func (r Range) Values() []float64 {
	n := int(r.Count())
	out := make([]float64, n)
	for k := range out {
		out[k] = r.Min + float64(k)*r.Step
	}
	return out
}

func (r Range) validate(name string) error {
	for _, v := range []float64{r.Min, r.Max, r.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.NewConfigError(domain.ErrInvalidRange, name, "non-finite bound")
		}
	}
	if r.Max < r.Min {
		return domain.NewConfigError(domain.ErrInvalidRange, name, fmt.Sprintf("max %v below min %v", r.Max, r.Min))
	}
	if r.Step <= 0 {
		return domain.NewConfigError(domain.ErrInvalidRange, name, "step must be positive")
	}
	return nil
}

// GridRequest describes a parameter sweep for one strategy
type GridRequest struct {
	StrategyID string           `json:"strategyId"`
	Ranges     map[string]Range `json:"ranges"`
	Fixed      signals.Params   `json:"fixed,omitempty"` // applied under every combination
	Metric     string           `json:"metric,omitempty"` // default sharpeRatio
}

// Trial is one evaluated parameter combination
type Trial struct {
	Params  signals.Params `json:"params"`
	Score   perf.Ratio     `json:"score"`
	Metrics *perf.Metrics  `json:"metrics"`
}

// GridResult ranks every combination by the chosen metric
type GridResult struct {
	StrategyID   string  `json:"strategyId"`
	Metric       string  `json:"metric"`
	Combinations int     `json:"combinations"`
	Evaluated    int     `json:"evaluated"`
	Best         *Trial  `json:"best"`
	Top          []Trial `json:"top"`
}

// Optimize evaluates the full Cartesian product of the ranges. The number of
// runs is the product of every range's length, so it grows exponentially with
// the number of parameters; MaxCombinations rejects oversized grids.
func (d *Driver) Optimize(ctx context.Context, universe map[string]market.Series, req GridRequest) (*GridResult, error) {
	if _, err := d.engine.Registry().Lookup(req.StrategyID); err != nil {
		return nil, err
	}
	metric := req.Metric
	if metric == "" {
		metric = perf.DefaultObjective
	}
	if _, ok := perf.Objective(&perf.Metrics{}, metric); !ok {
		return nil, domain.NewConfigError(domain.ErrInvalidConfig, "metric", fmt.Sprintf("unknown metric %q", metric))
	}

	combos, err := expandGrid(req.Ranges, d.opts.MaxCombinations)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("strategy", req.StrategyID).
		Str("metric", metric).
		Int("combinations", len(combos)).
		Int("workers", d.opts.Workers).
		Msg("grid optimization started")
	started := time.Now()

	trials, err := runPool(ctx, d.opts.Workers, len(combos), func(_ context.Context, i int) (Trial, error) {
		params := signals.Merge(req.Fixed, combos[i])
		run, err := d.Single(universe, req.StrategyID, params)
		if err != nil {
			return Trial{}, err
		}
		score, _ := perf.Objective(run.Metrics, metric)
		return Trial{Params: params, Score: perf.Ratio(score), Metrics: run.Metrics}, nil
	}, d.opts.Progress)
	if err != nil {
		return nil, err
	}

	rankTrials(trials)
	top := trials
	if len(top) > d.opts.TopN {
		top = top[:d.opts.TopN]
	}
	out := &GridResult{
		StrategyID:   req.StrategyID,
		Metric:       metric,
		Combinations: len(combos),
		Evaluated:    len(trials),
		Top:          append([]Trial(nil), top...),
	}
	if len(out.Top) > 0 {
		best := out.Top[0]
		out.Best = &best
	}

	log.Info().
		Str("strategy", req.StrategyID).
		Int("evaluated", out.Evaluated).
		Dur("elapsed", time.Since(started)).
		Msg("grid optimization complete")
	return out, nil
}

// expandGrid builds the Cartesian product with parameter names in sorted order
// so combination order is reproducible
func expandGrid(ranges map[string]Range, maxCombinations int) ([]signals.Params, error) {
	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 1.0
	for _, name := range names {
		r := ranges[name]
		if err := r.validate(name); err != nil {
			return nil, err
		}
		total *= r.Count()
		if maxCombinations > 0 && total > float64(maxCombinations) {
			return nil, domain.NewConfigError(domain.ErrInvalidRange, "ranges",
				fmt.Sprintf("grid exceeds %d combinations", maxCombinations))
		}
	}

	values := make([][]float64, len(names))
	for i, name := range names {
		values[i] = ranges[name].Values()
	}

	combos := []signals.Params{{}}
	for i, name := range names {
		next := make([]signals.Params, 0, len(combos)*len(values[i]))
		for _, base := range combos {
			for _, v := range values[i] {
				p := base.Clone()
				p[name] = v
				next = append(next, p)
			}
		}
		combos = next
	}
	return combos, nil
}

// rankTrials orders trials best first. Ties, including several unbounded
// scores, keep combination order.
func rankTrials(trials []Trial) {
	sort.SliceStable(trials, func(i, j int) bool {
		a, b := float64(trials[i].Score), float64(trials[j].Score)
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a > b
	})
}
