package scenario

import (
	"context"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/backtest/engine"
	"github.com/sawpanic/backtester/internal/domain"
	"github.com/sawpanic/backtester/internal/report/perf"
)

// DefaultSimulations is the Monte Carlo path count when none is given
const DefaultSimulations = 1000

// MonteCarloResult describes the spread of outcomes over reshuffled trade
// orders. Compounded final equity does not depend on order, so the drawdown
// distribution carries most of the path information.
type MonteCarloResult struct {
	Simulations         int               `json:"simulations"`
	Trades              int               `json:"trades"`
	InitialCapital      float64           `json:"initialCapital"`
	OriginalFinalEquity float64           `json:"originalFinalEquity"`
	FinalEquity         perf.Distribution `json:"finalEquity"`
	MaxDrawdownPercent  perf.Distribution `json:"maxDrawdownPercent"`
	ProbabilityOfLoss   float64           `json:"probabilityOfLoss"` // percent of paths ending below initial capital
}

type mcPath struct {
	final float64
	maxDD float64
}

// MonteCarlo shuffles the realized per-trade returns of res without
// replacement, once per simulation, and compounds each order from the initial
// capital. Each path draws its seed from rng in sequence, so a seeded rng
// reproduces the same distribution regardless of worker count.
func (d *Driver) MonteCarlo(ctx context.Context, res *engine.Result, simulations int, rng *rand.Rand) (*MonteCarloResult, error) {
	if res == nil {
		return nil, domain.NewConfigError(domain.ErrInvalidConfig, "result", "missing simulation result")
	}
	if simulations < 0 {
		return nil, domain.NewConfigError(domain.ErrInvalidConfig, "simulations", "must not be negative")
	}
	if simulations == 0 {
		simulations = DefaultSimulations
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	returns := perf.TradeReturns(res.Trades)
	seeds := make([]int64, simulations)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	paths, err := runPool(ctx, d.opts.Workers, simulations, func(_ context.Context, i int) (mcPath, error) {
		return simulatePath(returns, res.InitialCapital, rand.New(rand.NewSource(seeds[i]))), nil
	}, d.opts.Progress)
	if err != nil {
		return nil, err
	}

	finals := make([]float64, len(paths))
	dds := make([]float64, len(paths))
	losses := 0
	for i, p := range paths {
		finals[i] = p.final
		dds[i] = p.maxDD
		if p.final < res.InitialCapital {
			losses++
		}
	}

	out := &MonteCarloResult{
		Simulations:         simulations,
		Trades:              len(returns),
		InitialCapital:      res.InitialCapital,
		OriginalFinalEquity: res.FinalEquity,
		FinalEquity:         perf.Describe(finals),
		MaxDrawdownPercent:  perf.Describe(dds),
		ProbabilityOfLoss:   float64(losses) / float64(simulations) * 100,
	}
	log.Info().
		Int("simulations", simulations).
		Int("trades", len(returns)).
		Float64("p50_final_equity", out.FinalEquity.Percentiles["p50"]).
		Float64("probability_of_loss", out.ProbabilityOfLoss).
		Msg("monte carlo complete")
	return out, nil
}

// simulatePath applies a Fisher-Yates shuffle of returns and compounds them
func simulatePath(returns []float64, capital float64, rng *rand.Rand) mcPath {
	order := append([]float64(nil), returns...)
	for i := len(order) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}

	path := make([]float64, 0, len(order)+1)
	equity := capital
	path = append(path, equity)
	for _, r := range order {
		equity *= 1 + r/100
		path = append(path, equity)
	}
	return mcPath{final: equity, maxDD: perf.PathMaxDrawdownPercent(path)}
}
