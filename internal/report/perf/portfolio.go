package perf

import (
	"sort"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// SymbolBreakdown attributes closed round trips to one symbol of a
// multi-asset run
type SymbolBreakdown struct {
	Symbol        string  `json:"symbol"`
	Trades        int     `json:"trades"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
	WinRate       float64 `json:"winRate"`
	RealizedPnL   float64 `json:"realizedPnL"`
	Best          float64 `json:"best"`
	Worst         float64 `json:"worst"`
	Contribution  float64 `json:"contribution"` // share of total realized P&L, percent
}

func breakdownBySymbol(symbols []string, trips []RoundTrip) []SymbolBreakdown {
	bySymbol := make(map[string]*SymbolBreakdown, len(symbols))
	for _, sym := range symbols {
		bySymbol[sym] = &SymbolBreakdown{Symbol: sym}
	}

	total := 0.0
	for _, rt := range trips {
		st, ok := bySymbol[rt.Symbol]
		if !ok {
			st = &SymbolBreakdown{Symbol: rt.Symbol}
			bySymbol[rt.Symbol] = st
		}
		if st.Trades == 0 || rt.Profit > st.Best {
			st.Best = rt.Profit
		}
		if st.Trades == 0 || rt.Profit < st.Worst {
			st.Worst = rt.Profit
		}
		st.Trades++
		st.RealizedPnL += rt.Profit
		switch {
		case rt.IsWin():
			st.WinningTrades++
		case rt.IsLoss():
			st.LosingTrades++
		}
		total += rt.Profit
	}

	out := make([]SymbolBreakdown, 0, len(bySymbol))
	for _, st := range bySymbol {
		if st.Trades > 0 {
			st.WinRate = float64(st.WinningTrades) / float64(st.Trades) * 100
		}
		if total != 0 {
			st.Contribution = st.RealizedPnL / total * 100
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// BuyAndHoldReturn is the equal-weight percent return of holding every symbol
// from its first to its last close
func BuyAndHoldReturn(universe map[string]market.Series) float64 {
	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	sum, n := 0.0, 0
	for _, sym := range symbols {
		s := universe[sym]
		if len(s) == 0 || s[0].Close <= 0 {
			continue
		}
		sum += (s[len(s)-1].Close/s[0].Close - 1) * 100
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
