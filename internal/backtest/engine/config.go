package engine

import (
	"fmt"

	"github.com/sawpanic/backtester/internal/domain"
)

// SizingMethod selects how much capital a new position receives
type SizingMethod string

const (
	SizingFixed     SizingMethod = "FIXED"      // flat currency amount
	SizingPercent   SizingMethod = "PERCENT"    // fraction of current equity
	SizingKelly     SizingMethod = "KELLY"      // fixed conservative Kelly fraction of equity
	SizingEqualRisk SizingMethod = "EQUAL_RISK" // risk budget divided by stop distance
)

const (
	DefaultKellyFraction       = 0.25
	DefaultAssumedStopDistance = 0.05
	PyramidFraction            = 0.5
)

// Sizing configures the position sizing policy
type Sizing struct {
	Method              SizingMethod `yaml:"method" json:"method"`
	FixedAmount         float64      `yaml:"fixed_amount" json:"fixedAmount"`
	Percent             float64      `yaml:"percent" json:"percent"`                          // 0..1 of equity
	KellyFraction       float64      `yaml:"kelly_fraction" json:"kellyFraction"`             // default 0.25
	AssumedStopDistance float64      `yaml:"assumed_stop_distance" json:"assumedStopDistance"` // used by EQUAL_RISK without a stop loss
}

// Config holds everything a simulation run needs besides prices and strategy
type Config struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initialCapital"`
	Sizing         Sizing  `yaml:"sizing" json:"sizing"`
	MaxPositions   int     `yaml:"max_positions" json:"maxPositions"` // 0 = no cap

	CommissionRate float64 `yaml:"commission_rate" json:"commissionRate"` // both legs
	TaxRate        float64 `yaml:"tax_rate" json:"taxRate"`               // sells only
	SlippageRate   float64 `yaml:"slippage_rate" json:"slippageRate"`

	// Protective exits as fractions of entry (stop/take) or of the high since entry (trailing); 0 disables
	StopLoss     float64 `yaml:"stop_loss" json:"stopLoss"`
	TakeProfit   float64 `yaml:"take_profit" json:"takeProfit"`
	TrailingStop float64 `yaml:"trailing_stop" json:"trailingStop"`

	RiskPerTrade   float64 `yaml:"risk_per_trade" json:"riskPerTrade"`
	MinTradeShares int     `yaml:"min_trade_shares" json:"minTradeShares"` // lot size, default 1
}

// DefaultConfig returns a conservative single-account configuration
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
		Sizing: Sizing{
			Method:              SizingPercent,
			FixedAmount:         10000,
			Percent:             0.95,
			KellyFraction:       DefaultKellyFraction,
			AssumedStopDistance: DefaultAssumedStopDistance,
		},
		MaxPositions:   5,
		CommissionRate: 0.001,
		TaxRate:        0,
		SlippageRate:   0.0005,
		RiskPerTrade:   0.02,
		MinTradeShares: 1,
	}
}

// Validate rejects configurations that cannot be simulated
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return domain.NewConfigError(domain.ErrInvalidConfig, "initialCapital", "must be positive")
	}
	rates := []struct {
		name string
		v    float64
	}{
		{"commissionRate", c.CommissionRate},
		{"taxRate", c.TaxRate},
		{"slippageRate", c.SlippageRate},
		{"stopLoss", c.StopLoss},
		{"takeProfit", c.TakeProfit},
		{"trailingStop", c.TrailingStop},
		{"riskPerTrade", c.RiskPerTrade},
	}
	for _, r := range rates {
		if r.v < 0 {
			return domain.NewConfigError(domain.ErrInvalidConfig, r.name, "must not be negative")
		}
	}
	if c.SlippageRate >= 1 || c.StopLoss >= 1 || c.TrailingStop >= 1 {
		return domain.NewConfigError(domain.ErrInvalidConfig, "rates", "slippage and stop fractions must be below 1")
	}
	if c.MaxPositions < 0 {
		return domain.NewConfigError(domain.ErrInvalidConfig, "maxPositions", "must not be negative")
	}
	if c.MinTradeShares < 0 {
		return domain.NewConfigError(domain.ErrInvalidConfig, "minTradeShares", "must not be negative")
	}

	switch c.Sizing.Method {
	case SizingFixed:
		if c.Sizing.FixedAmount <= 0 {
			return domain.NewConfigError(domain.ErrInvalidConfig, "sizing.fixedAmount", "must be positive")
		}
	case SizingPercent:
		if c.Sizing.Percent <= 0 || c.Sizing.Percent > 1 {
			return domain.NewConfigError(domain.ErrInvalidConfig, "sizing.percent", "must be in (0, 1]")
		}
	case SizingKelly:
		if c.Sizing.KellyFraction < 0 || c.Sizing.KellyFraction > 1 {
			return domain.NewConfigError(domain.ErrInvalidConfig, "sizing.kellyFraction", "must be in [0, 1]")
		}
	case SizingEqualRisk:
		if c.RiskPerTrade <= 0 {
			return domain.NewConfigError(domain.ErrInvalidConfig, "riskPerTrade", "required for EQUAL_RISK sizing")
		}
		if c.Sizing.AssumedStopDistance < 0 {
			return domain.NewConfigError(domain.ErrInvalidConfig, "sizing.assumedStopDistance", "must not be negative")
		}
	default:
		return domain.NewConfigError(domain.ErrInvalidConfig, "sizing.method",
			fmt.Sprintf("unknown method %q", c.Sizing.Method))
	}
	return nil
}

func (c Config) lot() float64 {
	if c.MinTradeShares <= 0 {
		return 1
	}
	return float64(c.MinTradeShares)
}
