package perf

import (
	"math"
	"sort"
	"time"

	"github.com/sawpanic/backtester/internal/backtest/engine"
)

// RoundTrip is one entry-to-exit cycle in a symbol. Consecutive buys
// (pyramids) aggregate into a single entry.
type RoundTrip struct {
	Symbol        string    `json:"symbol"`
	EntryDate     time.Time `json:"entryDate"`
	ExitDate      time.Time `json:"exitDate"`
	EntryPrice    float64   `json:"entryPrice"` // volume-weighted over the aggregated buys
	ExitPrice     float64   `json:"exitPrice"`
	Shares        float64   `json:"shares"`
	CostBasis     float64   `json:"costBasis"`
	Profit        float64   `json:"profit"`
	ProfitPercent float64   `json:"profitPercent"`
	HoldingDays   int       `json:"holdingDays"`
	ExitReason    string    `json:"exitReason"`
}

// IsWin reports a strictly positive profit
func (rt RoundTrip) IsWin() bool { return rt.Profit > 0 }

// IsLoss reports a strictly negative profit
func (rt RoundTrip) IsLoss() bool { return rt.Profit < 0 }

type openEntry struct {
	date     time.Time
	shares   float64
	notional float64
	cost     float64
}

// PairRoundTrips matches each symbol's buys with the next sell. Round trips
// come back ordered by exit date then symbol; the count of symbols still
// holding unmatched buys is returned as open.
func PairRoundTrips(trades []engine.Trade) (trips []RoundTrip, open int) {
	entries := make(map[string]*openEntry)
	for _, t := range trades {
		switch {
		case t.IsBuy():
			e, ok := entries[t.Symbol]
			if !ok {
				e = &openEntry{date: t.Date}
				entries[t.Symbol] = e
			}
			e.shares += t.Shares
			e.notional += t.Price * t.Shares
			e.cost += t.Price*t.Shares + t.Commission
		case t.IsSell():
			e, ok := entries[t.Symbol]
			if !ok || e.shares == 0 {
				continue
			}
			delete(entries, t.Symbol)
			rt := RoundTrip{
				Symbol:      t.Symbol,
				EntryDate:   e.date,
				ExitDate:    t.Date,
				EntryPrice:  e.notional / e.shares,
				ExitPrice:   t.Price,
				Shares:      t.Shares,
				CostBasis:   e.cost,
				Profit:      t.RealizedPnL,
				HoldingDays: holdingDays(e.date, t.Date),
				ExitReason:  string(t.Reason),
			}
			if e.cost > 0 {
				rt.ProfitPercent = rt.Profit / e.cost * 100
			}
			trips = append(trips, rt)
		}
	}
	sort.SliceStable(trips, func(i, j int) bool {
		if !trips[i].ExitDate.Equal(trips[j].ExitDate) {
			return trips[i].ExitDate.Before(trips[j].ExitDate)
		}
		return trips[i].Symbol < trips[j].Symbol
	})
	return trips, len(entries)
}

// TradeReturns extracts per-round-trip profit percentages in exit order
func TradeReturns(trades []engine.Trade) []float64 {
	trips, _ := PairRoundTrips(trades)
	out := make([]float64, len(trips))
	for i, rt := range trips {
		out[i] = rt.ProfitPercent
	}
	return out
}

func holdingDays(from, to time.Time) int {
	d := to.Sub(from).Hours() / 24
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d))
}
