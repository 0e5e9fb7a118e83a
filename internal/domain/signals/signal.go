// Package signals is the strategy catalog: named rules that turn an OHLCV series
// into a trading verdict at one index.
package signals

import (
	"fmt"
	"strings"
)

// Signal is a strategy verdict for one bar
type Signal int

const (
	StrongSell Signal = -2
	Sell       Signal = -1
	Hold       Signal = 0
	Buy        Signal = 1
	StrongBuy  Signal = 2
)

// AllSignals lists verdicts from most bullish to most bearish
var AllSignals = []Signal{StrongBuy, Buy, Hold, Sell, StrongSell}

func (s Signal) String() string {
	switch s {
	case StrongBuy:
		return "STRONG_BUY"
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	case StrongSell:
		return "STRONG_SELL"
	default:
		return "HOLD"
	}
}

// Value is the verdict's contribution to a composite score (+2..-2)
func (s Signal) Value() float64 { return float64(s) }

// IsBuy reports BUY or STRONG_BUY
func (s Signal) IsBuy() bool { return s == Buy || s == StrongBuy }

// IsSell reports SELL or STRONG_SELL
func (s Signal) IsSell() bool { return s == Sell || s == StrongSell }

// MarshalText implements encoding.TextMarshaler
func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Signal) UnmarshalText(b []byte) error {
	v, err := ParseSignal(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSignal parses the upper-case verdict names, case-insensitively
func ParseSignal(v string) (Signal, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "STRONG_BUY":
		return StrongBuy, nil
	case "BUY":
		return Buy, nil
	case "HOLD":
		return Hold, nil
	case "SELL":
		return Sell, nil
	case "STRONG_SELL":
		return StrongSell, nil
	}
	return Hold, fmt.Errorf("unknown signal %q", v)
}
