// Package market holds the daily OHLCV types shared by the indicator library,
// the signal catalog and the simulation engine.
package market

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the calendar-day format used by CSV files, the HTTP API and cache keys
const DateLayout = "2006-01-02"

// PricePoint is one daily OHLCV bar
type PricePoint struct {
	Date   time.Time `json:"date" db:"date"`
	Open   float64   `json:"open" db:"open"`
	High   float64   `json:"high" db:"high"`
	Low    float64   `json:"low" db:"low"`
	Close  float64   `json:"close" db:"close"`
	Volume float64   `json:"volume" db:"volume"`
}

// TypicalPrice returns (high+low+close)/3
func (p PricePoint) TypicalPrice() float64 {
	return (p.High + p.Low + p.Close) / 3.0
}

// Series is an ascending-date sequence of bars. Index arithmetic assumes no gaps;
// gaps are tolerated but never filled.
type Series []PricePoint

// Closes extracts the close column
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Close
	}
	return out
}

// Last returns the final bar and false for an empty series
func (s Series) Last() (PricePoint, bool) {
	if len(s) == 0 {
		return PricePoint{}, false
	}
	return s[len(s)-1], true
}

// Between returns the sub-series with from <= date <= to. Zero bounds are open.
// The returned slice aliases s.
func (s Series) Between(from, to time.Time) Series {
	start := 0
	if !from.IsZero() {
		start = sort.Search(len(s), func(i int) bool { return !s[i].Date.Before(from) })
	}
	end := len(s)
	if !to.IsZero() {
		end = sort.Search(len(s), func(i int) bool { return s[i].Date.After(to) })
	}
	if start >= end {
		return Series{}
	}
	return s[start:end]
}

// Clone returns a deep copy
func (s Series) Clone() Series {
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Validate checks ordering and price sanity
func (s Series) Validate() error {
	for i, p := range s {
		if p.Close <= 0 {
			return fmt.Errorf("bar %d (%s): close must be positive, got %v", i, p.Date.Format(DateLayout), p.Close)
		}
		if p.High < p.Low {
			return fmt.Errorf("bar %d (%s): high %v below low %v", i, p.Date.Format(DateLayout), p.High, p.Low)
		}
		if i > 0 && !p.Date.After(s[i-1].Date) {
			return fmt.Errorf("bar %d (%s): dates must be strictly ascending", i, p.Date.Format(DateLayout))
		}
	}
	return nil
}

// SortByDate sorts bars ascending in place
func SortByDate(s Series) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
}

// ParseDate parses a calendar date in DateLayout (UTC)
func ParseDate(v string) (time.Time, error) {
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return t, nil
}
