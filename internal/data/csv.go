package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/domain/market"
)

var csvColumns = []string{"date", "open", "high", "low", "close", "volume"}

// CSVSource reads <Dir>/<SYMBOL>.csv files with a date,open,high,low,close,volume header
type CSVSource struct {
	Dir string
}

// NewCSVSource creates a source rooted at dir
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

// Name identifies the source in logs and errors
func (c *CSVSource) Name() string { return "csv" }

// Load reads one symbol's file
func (c *CSVSource) Load(ctx context.Context, symbol string, from, to time.Time) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := c.path(symbol)
	s, err := ReadCSVFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
		}
		return nil, err
	}
	return finish(symbol, s, from, to)
}

// Symbols lists the symbols with a CSV file in the directory
func (c *CSVSource) Symbols() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.Dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list csv files: %w", err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), filepath.Ext(m)))
	}
	return NormalizeSymbols(out), nil
}

// LoadDir loads every CSV file in the directory as one universe
func (c *CSVSource) LoadDir(ctx context.Context, from, to time.Time) (map[string]market.Series, error) {
	symbols, err := c.Symbols()
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%s: %w", c.Dir, ErrNoData)
	}
	return LoadUniverse(ctx, c, symbols, from, to)
}

func (c *CSVSource) path(symbol string) string {
	upper := filepath.Join(c.Dir, strings.ToUpper(symbol)+".csv")
	if _, err := os.Stat(upper); err == nil {
		return upper
	}
	return filepath.Join(c.Dir, strings.ToLower(symbol)+".csv")
}

// ReadCSVFile parses a price file from disk
func ReadCSVFile(path string) (market.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	s, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("bars", len(s)).Msg("loaded csv series")
	return s, nil
}

// ReadCSV parses rows in any column order as long as the header names all six
// columns. Rows come back in file order.
func ReadCSV(r io.Reader) (market.Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	cols := make([]int, len(csvColumns))
	for i, name := range csvColumns {
		pos, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		cols[i] = pos
	}

	var out market.Series
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p, err := parseRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseRow(rec []string, cols []int) (market.PricePoint, error) {
	date, err := market.ParseDate(strings.TrimSpace(rec[cols[0]]))
	if err != nil {
		return market.PricePoint{}, err
	}
	vals := make([]float64, 5)
	for i := range vals {
		raw := strings.TrimSpace(rec[cols[i+1]])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return market.PricePoint{}, fmt.Errorf("column %s: %w", csvColumns[i+1], err)
		}
		vals[i] = v
	}
	return market.PricePoint{
		Date:   date,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

// WriteCSV writes s with the standard header
func WriteCSV(w io.Writer, s market.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, p := range s {
		rec := []string{p.Date.Format(market.DateLayout), f(p.Open), f(p.High), f(p.Low), f(p.Close), f(p.Volume)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
