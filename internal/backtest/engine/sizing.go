package engine

import "math"

// targetAmount is the capital the sizing policy assigns to a new position,
// clamped to available cash
func (c Config) targetAmount(equity, cash float64) float64 {
	var amount float64
	switch c.Sizing.Method {
	case SizingFixed:
		amount = c.Sizing.FixedAmount
	case SizingPercent:
		amount = equity * c.Sizing.Percent
	case SizingKelly:
		f := c.Sizing.KellyFraction
		if f <= 0 {
			f = DefaultKellyFraction
		}
		amount = equity * f
	case SizingEqualRisk:
		stop := c.StopLoss
		if stop <= 0 {
			stop = c.Sizing.AssumedStopDistance
		}
		if stop <= 0 {
			stop = DefaultAssumedStopDistance
		}
		amount = equity * c.RiskPerTrade / stop
	}
	return math.Max(0, math.Min(amount, cash))
}

// sharesFor converts an amount into whole lots at fill, leaving room for the
// buy commission
func (c Config) sharesFor(amount, fill float64) float64 {
	if amount <= 0 || fill <= 0 {
		return 0
	}
	shares := math.Floor(amount / (fill * (1 + c.CommissionRate)))
	lot := c.lot()
	return math.Floor(shares/lot) * lot
}

func (c Config) buyFill(close float64) float64  { return close * (1 + c.SlippageRate) }
func (c Config) sellFill(close float64) float64 { return close * (1 - c.SlippageRate) }
