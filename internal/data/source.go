// Package data supplies daily price series to the simulation core from CSV
// files, Postgres, DynamoDB, Alpaca market data, an HTTP quote provider and a
// Redis read-through cache.
package data

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// ErrNoData is returned when a source has no bars for the requested symbol and range
var ErrNoData = errors.New("no price data")

// Source loads an ascending daily series for one symbol. Zero from/to bounds
// are open.
type Source interface {
	Load(ctx context.Context, symbol string, from, to time.Time) (market.Series, error)
	Name() string
}

// LoadUniverse loads every symbol from src. Symbols are normalized to upper
// case; duplicates load once.
func LoadUniverse(ctx context.Context, src Source, symbols []string, from, to time.Time) (map[string]market.Series, error) {
	out := make(map[string]market.Series, len(symbols))
	for _, sym := range NormalizeSymbols(symbols) {
		s, err := src.Load(ctx, sym, from, to)
		if err != nil {
			return nil, fmt.Errorf("load %s from %s: %w", sym, src.Name(), err)
		}
		out[sym] = s
	}
	return out, nil
}

// NormalizeSymbols trims, upper-cases, de-duplicates and sorts symbols
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// finish sorts, slices and validates a freshly loaded series
func finish(symbol string, s market.Series, from, to time.Time) (market.Series, error) {
	market.SortByDate(s)
	s = s.Between(from, to)
	if len(s) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	return s, nil
}
