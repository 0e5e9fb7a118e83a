package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/backtester/internal/application"
	"github.com/sawpanic/backtester/internal/backtest/engine"
	"github.com/sawpanic/backtester/internal/backtest/scenario"
	"github.com/sawpanic/backtester/internal/data"
	"github.com/sawpanic/backtester/internal/domain/market"
	"github.com/sawpanic/backtester/internal/domain/signals"
)

// paramsFlag collects repeated --param name=value pairs
type paramsFlag struct {
	values signals.Params
}

var _ pflag.Value = (*paramsFlag)(nil)

func (p *paramsFlag) String() string {
	if p == nil || len(p.values) == 0 {
		return ""
	}
	names := make([]string, 0, len(p.values))
	for k := range p.values {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + strconv.FormatFloat(p.values[k], 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (p *paramsFlag) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		name, raw, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			return fmt.Errorf("expected name=value, got %q", part)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
		if p.values == nil {
			p.values = signals.Params{}
		}
		p.values[name] = v
	}
	return nil
}

func (p *paramsFlag) Type() string { return "name=value" }

// rangesFlag collects repeated --range name=min:max:step sweeps
type rangesFlag struct {
	values map[string]scenario.Range
}

var _ pflag.Value = (*rangesFlag)(nil)

func (r *rangesFlag) String() string {
	if r == nil || len(r.values) == 0 {
		return ""
	}
	names := make([]string, 0, len(r.values))
	for k := range r.values {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		rg := r.values[k]
		parts[i] = fmt.Sprintf("%s=%v:%v:%v", k, rg.Min, rg.Max, rg.Step)
	}
	return strings.Join(parts, ",")
}

func (r *rangesFlag) Set(s string) error {
	name, bounds, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=min:max:step, got %q", s)
	}
	fields := strings.Split(bounds, ":")
	if len(fields) != 3 {
		return fmt.Errorf("range %s: expected min:max:step, got %q", name, bounds)
	}
	var nums [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Errorf("range %s: %w", name, err)
		}
		nums[i] = v
	}
	if r.values == nil {
		r.values = map[string]scenario.Range{}
	}
	r.values[name] = scenario.Range{Min: nums[0], Max: nums[1], Step: nums[2]}
	return nil
}

func (r *rangesFlag) Type() string { return "name=min:max:step" }

// dataFlags select the price data for a command
type dataFlags struct {
	symbols []string
	from    string
	to      string
	files   []string
}

func (d *dataFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVarP(&d.symbols, "symbols", "s", nil, "Comma-separated symbols loaded from the configured source")
	fs.StringVar(&d.from, "from", "", "First date to simulate (YYYY-MM-DD)")
	fs.StringVar(&d.to, "to", "", "Last date to simulate (YYYY-MM-DD)")
	fs.StringSliceVarP(&d.files, "file", "f", nil, "CSV files used directly; the file name is the symbol")
}

// request builds a DataRequest; --file wins over --symbols
func (d *dataFlags) request() (application.DataRequest, error) {
	req := application.DataRequest{Symbols: d.symbols, From: d.from, To: d.to}
	if len(d.files) == 0 {
		return req, nil
	}
	req.Symbols = nil
	req.Series = make(map[string]market.Series, len(d.files))
	for _, path := range d.files {
		series, err := data.ReadCSVFile(path)
		if err != nil {
			return req, err
		}
		req.Series[symbolFromPath(path)] = series
	}
	return req, nil
}

func symbolFromPath(path string) string {
	base := filepath.Base(path)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

// engineFlags override individual engine settings from the loaded config
type engineFlags struct {
	capital      float64
	commission   float64
	tax          float64
	slippage     float64
	maxPositions int
	sizing       string
	percent      float64
	stopLoss     float64
	takeProfit   float64
	trailing     float64
}

func (e *engineFlags) register(fs *pflag.FlagSet) {
	fs.Float64Var(&e.capital, "capital", 0, "Initial capital")
	fs.Float64Var(&e.commission, "commission", 0, "Commission rate per leg, e.g. 0.00015")
	fs.Float64Var(&e.tax, "tax", 0, "Tax rate on sells")
	fs.Float64Var(&e.slippage, "slippage", 0, "Slippage rate per fill")
	fs.IntVar(&e.maxPositions, "max-positions", 0, "Maximum concurrent positions (0 = no cap)")
	fs.StringVar(&e.sizing, "sizing", "", "Position sizing (FIXED|PERCENT|KELLY|EQUAL_RISK)")
	fs.Float64Var(&e.percent, "percent", 0, "Equity fraction for PERCENT sizing")
	fs.Float64Var(&e.stopLoss, "stop-loss", 0, "Stop loss as a fraction of entry, e.g. 0.05")
	fs.Float64Var(&e.takeProfit, "take-profit", 0, "Take profit as a fraction of entry")
	fs.Float64Var(&e.trailing, "trailing-stop", 0, "Trailing stop as a fraction of the high-water mark")
}

// apply returns nil when no engine flag was set, so the service default applies
func (e *engineFlags) apply(cmd *cobra.Command, base engine.Config) *engine.Config {
	fs := cmd.Flags()
	changed := false
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
			changed = true
		}
	}
	set("capital", func() { base.InitialCapital = e.capital })
	set("commission", func() { base.CommissionRate = e.commission })
	set("tax", func() { base.TaxRate = e.tax })
	set("slippage", func() { base.SlippageRate = e.slippage })
	set("max-positions", func() { base.MaxPositions = e.maxPositions })
	set("sizing", func() { base.Sizing.Method = engine.SizingMethod(strings.ToUpper(e.sizing)) })
	set("percent", func() { base.Sizing.Percent = e.percent })
	set("stop-loss", func() { base.StopLoss = e.stopLoss })
	set("take-profit", func() { base.TakeProfit = e.takeProfit })
	set("trailing-stop", func() { base.TrailingStop = e.trailing })
	if !changed {
		return nil
	}
	return &base
}

// outputFile opens --output for writing, or returns stdout
func outputFile(path string) (*os.File, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output %s: %w", path, err)
	}
	return f, f.Close, nil
}
