package engine

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/domain/signals"
)

// ledger is the mutable cash/position state of one run. It is never shared.
type ledger struct {
	cfg       Config
	cash      float64
	positions map[string]*Position
	trades    []Trade
	curve     []EquitySample
	stats     Stats
}

func newLedger(cfg Config) *ledger {
	return &ledger{
		cfg:       cfg,
		cash:      cfg.InitialCapital,
		positions: make(map[string]*Position),
	}
}

func (l *ledger) stockValue() float64 {
	v := 0.0
	for _, sym := range l.openSymbols() {
		v += l.positions[sym].MarketValue()
	}
	return v
}

func (l *ledger) equity() float64 {
	return l.cash + l.stockValue()
}

// openSymbols lists held symbols in sorted order so float sums are stable
func (l *ledger) openSymbols() []string {
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (l *ledger) sample(date time.Time) EquitySample {
	stock := l.stockValue()
	return EquitySample{
		Date:              date,
		Cash:              l.cash,
		StockValue:        stock,
		Equity:            l.cash + stock,
		OpenPositionCount: len(l.positions),
	}
}

// buy opens or adds to a position. A pyramid adds PyramidFraction of a freshly
// sized amount to an existing holding.
func (l *ledger) buy(date time.Time, symbol string, close float64, side signals.Signal) {
	pos, held := l.positions[symbol]
	reason := ReasonSignal
	fraction := 1.0
	if held {
		if side != signals.StrongBuy {
			log.Debug().Str("symbol", symbol).Time("date", date).Msg("BUY ignored, position already open")
			return
		}
		reason = ReasonPyramid
		fraction = PyramidFraction
	} else if l.cfg.MaxPositions > 0 && len(l.positions) >= l.cfg.MaxPositions {
		l.stats.SkippedMaxPositions++
		log.Debug().Str("symbol", symbol).Time("date", date).Int("max_positions", l.cfg.MaxPositions).
			Msg("buy skipped, position cap reached")
		return
	}

	fill := l.cfg.buyFill(close)
	lotCost := fill * (1 + l.cfg.CommissionRate) * l.cfg.lot()
	if l.cash < lotCost {
		l.stats.SkippedInsufficientCash++
		log.Debug().Str("symbol", symbol).Time("date", date).Float64("cash", l.cash).Float64("lot_cost", lotCost).
			Msg("buy skipped, insufficient cash")
		return
	}

	amount := l.cfg.targetAmount(l.equity(), l.cash) * fraction
	shares := l.cfg.sharesFor(amount, fill)
	if shares <= 0 {
		l.stats.SkippedZeroShares++
		log.Debug().Str("symbol", symbol).Time("date", date).Float64("amount", amount).
			Msg("buy skipped, sized to zero shares")
		return
	}

	notional := fill * shares
	commission := notional * l.cfg.CommissionRate
	slippage := (fill - close) * shares
	cost := notional + commission
	l.cash -= cost

	if held {
		total := pos.Shares + shares
		pos.EntryPrice = (pos.EntryPrice*pos.Shares + fill*shares) / total
		pos.Shares = total
		pos.CostBasis += cost
		l.stats.PyramidBuys++
	} else {
		pos = &Position{
			Symbol:                 symbol,
			Shares:                 shares,
			EntryPrice:             fill,
			EntryDate:              date,
			CostBasis:              cost,
			HighestPriceSinceEntry: close,
		}
		l.positions[symbol] = pos
	}
	pos.mark(close, close, l.cfg.TrailingStop > 0)

	l.stats.TotalCommission += commission
	l.stats.TotalSlippage += slippage
	l.trades = append(l.trades, Trade{
		Date:          date,
		Symbol:        symbol,
		Side:          side,
		Reason:        reason,
		Price:         fill,
		Shares:        shares,
		Commission:    commission,
		Slippage:      slippage,
		ResultingCash: l.cash,
	})
}

// sell fully closes a position. Realized P&L is net proceeds less the whole
// cost basis.
func (l *ledger) sell(date time.Time, symbol string, close float64, side signals.Signal, reason Reason) {
	pos, held := l.positions[symbol]
	if !held {
		l.stats.SkippedNoPosition++
		log.Debug().Str("symbol", symbol).Time("date", date).Msg("sell skipped, no open position")
		return
	}

	fill := l.cfg.sellFill(close)
	notional := fill * pos.Shares
	commission := notional * l.cfg.CommissionRate
	tax := notional * l.cfg.TaxRate
	slippage := (close - fill) * pos.Shares
	proceeds := notional - commission - tax
	l.cash += proceeds
	delete(l.positions, symbol)

	l.stats.TotalCommission += commission
	l.stats.TotalTax += tax
	l.stats.TotalSlippage += slippage
	l.trades = append(l.trades, Trade{
		Date:          date,
		Symbol:        symbol,
		Side:          side,
		Reason:        reason,
		Price:         fill,
		Shares:        pos.Shares,
		Commission:    commission,
		Tax:           tax,
		Slippage:      slippage,
		RealizedPnL:   proceeds - pos.CostBasis,
		ResultingCash: l.cash,
	})
}

// liquidate force-closes every open position at its last marked price
func (l *ledger) liquidate(date time.Time) {
	for _, sym := range l.openSymbols() {
		l.sell(date, sym, l.positions[sym].CurrentPrice, signals.Sell, ReasonLiquidation)
	}
}
