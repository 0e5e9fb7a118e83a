package engine

import (
	"time"

	"github.com/sawpanic/backtester/internal/domain/signals"
)

// Trade is one immutable ledger entry
type Trade struct {
	Date          time.Time      `json:"date"`
	Symbol        string         `json:"symbol"`
	Side          signals.Signal `json:"side"` // BUY, STRONG_BUY, SELL or STRONG_SELL
	Reason        Reason         `json:"reason"`
	Price         float64        `json:"price"` // fill including slippage
	Shares        float64        `json:"shares"`
	Commission    float64        `json:"commission"`
	Tax           float64        `json:"tax"`
	Slippage      float64        `json:"slippage"`    // |fill-close| * shares
	RealizedPnL   float64        `json:"realizedPnL"` // zero on buys
	ResultingCash float64        `json:"resultingCash"`
}

// IsBuy reports a buy-side ledger entry
func (t Trade) IsBuy() bool { return t.Side.IsBuy() }

// IsSell reports a sell-side ledger entry
func (t Trade) IsSell() bool { return t.Side.IsSell() }

// EquitySample is the account state at the end of one simulated date
type EquitySample struct {
	Date              time.Time `json:"date"`
	Cash              float64   `json:"cash"`
	StockValue        float64   `json:"stockValue"`
	Equity            float64   `json:"equity"`
	OpenPositionCount int       `json:"openPositionCount"`
}

// Stats counts what happened during a run besides trades
type Stats struct {
	Days             int `json:"days"`
	SignalsEvaluated int `json:"signalsEvaluated"`
	BuySignals       int `json:"buySignals"`
	SellSignals      int `json:"sellSignals"`
	ProtectiveExits  int `json:"protectiveExits"`
	PyramidBuys      int `json:"pyramidBuys"`

	SkippedInsufficientCash int `json:"skippedInsufficientCash"`
	SkippedMaxPositions     int `json:"skippedMaxPositions"`
	SkippedNoPosition       int `json:"skippedNoPosition"`
	SkippedZeroShares       int `json:"skippedZeroShares"`

	TotalCommission float64 `json:"totalCommission"`
	TotalTax        float64 `json:"totalTax"`
	TotalSlippage   float64 `json:"totalSlippage"`
}

// Result is the immutable outcome of one simulation
type Result struct {
	StrategyID     string         `json:"strategyId"`
	StrategyParams signals.Params `json:"strategyParams"`
	Symbols        []string       `json:"symbols"`
	Config         Config         `json:"config"`
	InitialCapital float64        `json:"initialCapital"`
	FinalEquity    float64        `json:"finalEquity"`
	Trades         []Trade        `json:"trades"`
	EquityCurve    []EquitySample `json:"equityCurve"`
	Stats          Stats          `json:"stats"`
}

// StartDate returns the first simulated date, zero for an empty run
func (r *Result) StartDate() time.Time {
	if len(r.EquityCurve) == 0 {
		return time.Time{}
	}
	return r.EquityCurve[0].Date
}

// EndDate returns the last simulated date, zero for an empty run
func (r *Result) EndDate() time.Time {
	if len(r.EquityCurve) == 0 {
		return time.Time{}
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Date
}
