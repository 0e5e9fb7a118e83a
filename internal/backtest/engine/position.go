package engine

import "time"

// Reason records why a trade happened
type Reason string

const (
	ReasonSignal       Reason = "signal"
	ReasonPyramid      Reason = "pyramid"
	ReasonStopLoss     Reason = "stop_loss"
	ReasonTakeProfit   Reason = "take_profit"
	ReasonTrailingStop Reason = "trailing_stop"
	ReasonLiquidation  Reason = "liquidation"
)

// Position is an open holding in one symbol. It exists only while Shares > 0.
type Position struct {
	Symbol                 string    `json:"symbol"`
	Shares                 float64   `json:"shares"`
	EntryPrice             float64   `json:"entryPrice"` // volume-weighted average fill
	EntryDate              time.Time `json:"entryDate"`
	CostBasis              float64   `json:"costBasis"` // fills plus buy commission
	CurrentPrice           float64   `json:"currentPrice"`
	HighestPriceSinceEntry float64   `json:"highestPriceSinceEntry"`
	UnrealizedPnL          float64   `json:"unrealizedPnL"`
}

// MarketValue is shares at the last marked price
func (p *Position) MarketValue() float64 {
	return p.Shares * p.CurrentPrice
}

// mark revalues the position at close and, when trailing, lifts the high-water mark
func (p *Position) mark(close, high float64, trailing bool) {
	p.CurrentPrice = close
	if trailing && high > p.HighestPriceSinceEntry {
		p.HighestPriceSinceEntry = high
	}
	p.UnrealizedPnL = p.MarketValue() - p.CostBasis
}

// exitReason evaluates protective exits against the close in precedence
// order: stop loss, take profit, trailing stop. Empty means hold.
func (p *Position) exitReason(cfg Config, close float64) Reason {
	if cfg.StopLoss > 0 && close <= p.EntryPrice*(1-cfg.StopLoss) {
		return ReasonStopLoss
	}
	if cfg.TakeProfit > 0 && close >= p.EntryPrice*(1+cfg.TakeProfit) {
		return ReasonTakeProfit
	}
	if cfg.TrailingStop > 0 && close <= p.HighestPriceSinceEntry*(1-cfg.TrailingStop) {
		return ReasonTrailingStop
	}
	return ""
}
