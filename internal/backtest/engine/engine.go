// Package engine simulates a strategy over daily bars: it walks the timeline
// one date at a time, applies protective exits and strategy verdicts to a
// cash/position ledger, and records every trade and end-of-day equity.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/domain/market"
	"github.com/sawpanic/backtester/internal/domain/signals"
)

// Engine runs simulations. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	registry *signals.Registry
	config   Config
}

// New validates cfg and binds it to a strategy registry
func New(registry *signals.Registry, cfg Config) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("engine requires a strategy registry")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{registry: registry, config: cfg}, nil
}

// Config returns the engine's configuration
func (e *Engine) Config() Config { return e.config }

// Registry returns the strategy registry the engine resolves against
func (e *Engine) Registry() *signals.Registry { return e.registry }

// WithConfig returns an engine sharing the registry with a different config
func (e *Engine) WithConfig(cfg Config) (*Engine, error) {
	return New(e.registry, cfg)
}

// Run simulates one symbol
func (e *Engine) Run(symbol string, series market.Series, strategyID string, params signals.Params) (*Result, error) {
	return e.RunMulti(map[string]market.Series{symbol: series}, strategyID, params)
}

// RunMulti simulates several symbols sharing one cash balance. Dates are the
// union of every symbol's dates; a symbol without a bar keeps its last price.
func (e *Engine) RunMulti(universe map[string]market.Series, strategyID string, params signals.Params) (*Result, error) {
	strategy, merged, err := e.registry.Resolve(strategyID, params)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	r := &runner{
		cfg:      e.config,
		strategy: strategy,
		params:   merged,
		universe: universe,
		symbols:  symbols,
		ledger:   newLedger(e.config),
		index:    indexByDate(universe),
	}
	r.simulate()

	res := &Result{
		StrategyID:     strategy.ID(),
		StrategyParams: merged.Clone(),
		Symbols:        symbols,
		Config:         e.config,
		InitialCapital: e.config.InitialCapital,
		FinalEquity:    r.ledger.equity(),
		Trades:         r.ledger.trades,
		EquityCurve:    r.ledger.curve,
		Stats:          r.ledger.stats,
	}
	if res.Trades == nil {
		res.Trades = []Trade{}
	}
	if res.EquityCurve == nil {
		res.EquityCurve = []EquitySample{}
	}

	log.Debug().
		Str("strategy", res.StrategyID).
		Int("symbols", len(symbols)).
		Int("days", res.Stats.Days).
		Int("trades", len(res.Trades)).
		Float64("final_equity", res.FinalEquity).
		Msg("simulation complete")
	return res, nil
}

type runner struct {
	cfg      Config
	strategy signals.Strategy
	params   signals.Params
	universe map[string]market.Series
	symbols  []string
	ledger   *ledger
	index    map[string]map[int64]int // symbol -> date key -> bar index
}

type order struct {
	symbol string
	close  float64
	side   signals.Signal
	reason Reason
}

func dateKey(t time.Time) int64 { return t.Unix() }

func indexByDate(universe map[string]market.Series) map[string]map[int64]int {
	out := make(map[string]map[int64]int, len(universe))
	for sym, s := range universe {
		m := make(map[int64]int, len(s))
		for i, p := range s {
			m[dateKey(p.Date)] = i
		}
		out[sym] = m
	}
	return out
}

// timeline merges every symbol's dates into one ascending, de-duplicated list
func (r *runner) timeline() []time.Time {
	seen := make(map[int64]time.Time)
	for _, s := range r.universe {
		for _, p := range s {
			if _, ok := seen[dateKey(p.Date)]; !ok {
				seen[dateKey(p.Date)] = p.Date
			}
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func (r *runner) simulate() {
	l := r.ledger
	dates := r.timeline()
	trailing := r.cfg.TrailingStop > 0

	for _, date := range dates {
		var sells, buys []order
		key := dateKey(date)

		for _, sym := range r.symbols {
			i, ok := r.index[sym][key]
			if !ok {
				continue
			}
			bar := r.universe[sym][i]

			if pos, held := l.positions[sym]; held {
				pos.mark(bar.Close, bar.High, trailing)
				if reason := pos.exitReason(r.cfg, bar.Close); reason != "" {
					l.stats.ProtectiveExits++
					sells = append(sells, order{symbol: sym, close: bar.Close, side: signals.Sell, reason: reason})
					continue
				}
			}

			sig := r.strategy.Evaluate(r.universe[sym], i, r.params)
			l.stats.SignalsEvaluated++
			switch {
			case sig.IsSell():
				l.stats.SellSignals++
				sells = append(sells, order{symbol: sym, close: bar.Close, side: sig, reason: ReasonSignal})
			case sig.IsBuy():
				l.stats.BuySignals++
				buys = append(buys, order{symbol: sym, close: bar.Close, side: sig, reason: ReasonSignal})
			}
		}

		for _, o := range sells {
			l.sell(date, o.symbol, o.close, o.side, o.reason)
		}
		sort.SliceStable(buys, func(i, j int) bool {
			if buys[i].side != buys[j].side {
				return buys[i].side > buys[j].side
			}
			return buys[i].symbol < buys[j].symbol
		})
		for _, o := range buys {
			l.buy(date, o.symbol, o.close, o.side)
		}

		l.curve = append(l.curve, l.sample(date))
		l.stats.Days++
	}

	if len(dates) > 0 && len(l.positions) > 0 {
		last := dates[len(dates)-1]
		l.liquidate(last)
		l.curve[len(l.curve)-1] = l.sample(last)
	}
}
