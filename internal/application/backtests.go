package application

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/backtest/engine"
	"github.com/sawpanic/backtester/internal/backtest/scenario"
	"github.com/sawpanic/backtester/internal/data"
	"github.com/sawpanic/backtester/internal/domain"
	"github.com/sawpanic/backtester/internal/domain/market"
	"github.com/sawpanic/backtester/internal/domain/signals"
	"github.com/sawpanic/backtester/internal/report/perf"
)

// RunObserver is told about every completed request, e.g. to export metrics
type RunObserver interface {
	ObserveRun(kind string, elapsed time.Duration, err error)
}

// Settings are the defaults a Service applies when a request leaves them out
type Settings struct {
	Engine     engine.Config
	Scenario   scenario.Options
	Calculator perf.CalculatorConfig
	Alerts     perf.AlertThresholds
}

// Service resolves price data and runs the simulation core on behalf of the
// CLI and the HTTP API
type Service struct {
	registry *signals.Registry
	source   data.Source
	settings Settings
	calc     *perf.Calculator
	observer RunObserver
}

// NewService wires a registry and an optional price source
func NewService(registry *signals.Registry, source data.Source, settings Settings) (*Service, error) {
	if registry == nil {
		registry = signals.DefaultRegistry()
	}
	if err := settings.Engine.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		registry: registry,
		source:   source,
		settings: settings,
		calc:     perf.NewCalculator(settings.Calculator),
	}, nil
}

// WithObserver attaches a run observer
func (s *Service) WithObserver(o RunObserver) *Service {
	s.observer = o
	return s
}

// Registry exposes the strategy registry
func (s *Service) Registry() *signals.Registry { return s.registry }

// Settings exposes the defaults
func (s *Service) Settings() Settings { return s.settings }

// SourceName names the configured price source, or "inline" without one
func (s *Service) SourceName() string {
	if s.source == nil {
		return "inline"
	}
	return s.source.Name()
}

// CacheStats reports the in-process series cache, when the source has one
func (s *Service) CacheStats() (data.CacheStats, bool) {
	c, ok := s.source.(interface{ Stats() data.CacheStats })
	if !ok {
		return data.CacheStats{}, false
	}
	return c.Stats(), true
}

// DataRequest names the prices to simulate: inline series, or symbols loaded
// from the configured source between From and To (YYYY-MM-DD, optional)
type DataRequest struct {
	Symbols []string                 `json:"symbols,omitempty"`
	From    string                   `json:"from,omitempty"`
	To      string                   `json:"to,omitempty"`
	Series  map[string]market.Series `json:"series,omitempty"`
}

// Universe resolves the request into validated series keyed by symbol
func (s *Service) Universe(ctx context.Context, req DataRequest) (map[string]market.Series, error) {
	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	if len(req.Series) > 0 {
		out := make(map[string]market.Series, len(req.Series))
		for sym, series := range req.Series {
			series = series.Between(from, to)
			if err := series.Validate(); err != nil {
				return nil, domain.NewConfigError(domain.ErrInvalidConfig, "series."+sym, err.Error())
			}
			out[sym] = series
		}
		return out, nil
	}
	if len(req.Symbols) == 0 {
		return nil, domain.NewConfigError(domain.ErrInvalidConfig, "symbols", "either symbols or series is required")
	}
	if s.source == nil {
		return nil, domain.NewConfigError(domain.ErrInvalidConfig, "symbols", "no price source configured")
	}
	return data.LoadUniverse(ctx, s.source, req.Symbols, from, to)
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var f, t time.Time
	var err error
	if from != "" {
		if f, err = market.ParseDate(from); err != nil {
			return f, t, domain.NewConfigError(domain.ErrInvalidConfig, "from", err.Error())
		}
	}
	if to != "" {
		if t, err = market.ParseDate(to); err != nil {
			return f, t, domain.NewConfigError(domain.ErrInvalidConfig, "to", err.Error())
		}
	}
	if !f.IsZero() && !t.IsZero() && t.Before(f) {
		return f, t, domain.NewConfigError(domain.ErrInvalidConfig, "to", "before from")
	}
	return f, t, nil
}

// driver builds a scenario driver for one request; cfg overrides the default engine config
func (s *Service) driver(cfg *engine.Config, progress scenario.ProgressFunc) (*scenario.Driver, error) {
	ec := s.settings.Engine
	if cfg != nil {
		ec = *cfg
	}
	e, err := engine.New(s.registry, ec)
	if err != nil {
		return nil, err
	}
	opts := s.settings.Scenario
	opts.Progress = progress
	return scenario.NewDriver(e, s.calc, opts), nil
}

func (s *Service) observe(kind string, started time.Time, err error) {
	if s.observer != nil {
		s.observer.ObserveRun(kind, time.Since(started), err)
	}
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("backtest request failed")
	}
}

// BacktestRequest runs one strategy over one or more symbols
type BacktestRequest struct {
	DataRequest
	StrategyID string         `json:"strategyId"`
	Params     signals.Params `json:"params,omitempty"`
	Config     *engine.Config `json:"config,omitempty"`
}

// BacktestResponse carries the full result, rounded metrics and any alerts
type BacktestResponse struct {
	StrategyID string         `json:"strategyId"`
	Params     signals.Params `json:"params"`
	Result     *engine.Result `json:"result"`
	Metrics    *perf.Metrics  `json:"metrics"`
	Alerts     []perf.Alert   `json:"alerts"`
}

// Backtest runs a single simulation
func (s *Service) Backtest(ctx context.Context, req BacktestRequest) (resp *BacktestResponse, err error) {
	defer func(started time.Time) { s.observe("backtest", started, err) }(time.Now())

	universe, err := s.Universe(ctx, req.DataRequest)
	if err != nil {
		return nil, err
	}
	d, err := s.driver(req.Config, nil)
	if err != nil {
		return nil, err
	}
	run, err := d.Single(universe, req.StrategyID, req.Params)
	if err != nil {
		return nil, err
	}
	alerts := perf.CheckAlerts(run.Metrics, s.settings.Alerts)
	perf.LogAlerts(req.StrategyID, alerts)
	rounded := run.Metrics.Rounded()
	return &BacktestResponse{
		StrategyID: run.StrategyID,
		Params:     run.Params,
		Result:     run.Result,
		Metrics:    rounded,
		Alerts:     alerts,
	}, nil
}

// CompareRequest runs several strategies over the same data
type CompareRequest struct {
	DataRequest
	StrategyIDs []string                  `json:"strategyIds"`
	Params      map[string]signals.Params `json:"params,omitempty"` // keyed by strategy id
	Config      *engine.Config            `json:"config,omitempty"`
}

// Compare runs a multi-strategy comparison. Empty StrategyIDs means the whole catalog.
func (s *Service) Compare(ctx context.Context, req CompareRequest, progress scenario.ProgressFunc) (resp *scenario.MultiStrategyResult, err error) {
	defer func(started time.Time) { s.observe("compare", started, err) }(time.Now())

	universe, err := s.Universe(ctx, req.DataRequest)
	if err != nil {
		return nil, err
	}
	d, err := s.driver(req.Config, progress)
	if err != nil {
		return nil, err
	}
	ids := req.StrategyIDs
	if len(ids) == 0 {
		ids = s.registry.IDs()
	}
	res, err := d.MultiStrategy(ctx, universe, ids, req.Params)
	if err != nil {
		return nil, err
	}
	for i := range res.Runs {
		res.Runs[i].Result = nil
		res.Runs[i].Metrics = res.Runs[i].Metrics.Rounded()
	}
	for i := range res.Comparison.Rankings {
		res.Comparison.Rankings[i].Score = perf.Round2(res.Comparison.Rankings[i].Score)
		res.Comparison.Rankings[i].Metrics = res.Comparison.Rankings[i].Metrics.Rounded()
	}
	return res, nil
}

// OptimizeRequest sweeps a parameter grid
type OptimizeRequest struct {
	DataRequest
	scenario.GridRequest
	Config *engine.Config `json:"config,omitempty"`
}

// Optimize runs a grid search
func (s *Service) Optimize(ctx context.Context, req OptimizeRequest, progress scenario.ProgressFunc) (resp *scenario.GridResult, err error) {
	defer func(started time.Time) { s.observe("optimize", started, err) }(time.Now())

	universe, err := s.Universe(ctx, req.DataRequest)
	if err != nil {
		return nil, err
	}
	d, err := s.driver(req.Config, progress)
	if err != nil {
		return nil, err
	}
	res, err := d.Optimize(ctx, universe, req.GridRequest)
	if err != nil {
		return nil, err
	}
	for i := range res.Top {
		res.Top[i].Score = perf.Ratio(perf.Round2(float64(res.Top[i].Score)))
		res.Top[i].Metrics = res.Top[i].Metrics.Rounded()
	}
	if res.Best != nil {
		res.Best.Score = perf.Ratio(perf.Round2(float64(res.Best.Score)))
		res.Best.Metrics = res.Best.Metrics.Rounded()
	}
	return res, nil
}

// RollingRequest runs a rolling-window analysis over exactly one symbol
type RollingRequest struct {
	DataRequest
	scenario.RollingRequest
	Config *engine.Config `json:"config,omitempty"`
}

// Rolling runs independent simulations over sliding windows
func (s *Service) Rolling(ctx context.Context, req RollingRequest, progress scenario.ProgressFunc) (resp *scenario.RollingResult, err error) {
	defer func(started time.Time) { s.observe("rolling", started, err) }(time.Now())

	universe, err := s.Universe(ctx, req.DataRequest)
	if err != nil {
		return nil, err
	}
	if len(universe) != 1 {
		return nil, domain.NewConfigError(domain.ErrInvalidConfig, "symbols", fmt.Sprintf("rolling analysis needs exactly one symbol, got %d", len(universe)))
	}
	d, err := s.driver(req.Config, progress)
	if err != nil {
		return nil, err
	}
	symbol := keys(universe)[0]
	res, err := d.Rolling(ctx, symbol, universe[symbol], req.RollingRequest)
	if err != nil {
		return nil, err
	}
	for i := range res.Windows {
		res.Windows[i].Metrics = res.Windows[i].Metrics.Rounded()
	}
	res.Summary.Returns = res.Summary.Returns.Rounded()
	res.Summary.Sharpe = res.Summary.Sharpe.Rounded()
	return res, nil
}

// MonteCarloRequest reshuffles the trades of one backtest
type MonteCarloRequest struct {
	BacktestRequest
	Simulations int    `json:"simulations,omitempty"`
	Seed        *int64 `json:"seed,omitempty"` // omitted means time-seeded
}

// MonteCarloResponse reports the seed so a run can be reproduced
type MonteCarloResponse struct {
	Seed    int64                      `json:"seed"`
	Metrics *perf.Metrics              `json:"metrics"`
	Result  *scenario.MonteCarloResult `json:"monteCarlo"`
}

// MonteCarlo runs a backtest and reshuffles its round-trip returns
func (s *Service) MonteCarlo(ctx context.Context, req MonteCarloRequest, progress scenario.ProgressFunc) (resp *MonteCarloResponse, err error) {
	defer func(started time.Time) { s.observe("montecarlo", started, err) }(time.Now())

	universe, err := s.Universe(ctx, req.DataRequest)
	if err != nil {
		return nil, err
	}
	d, err := s.driver(req.Config, progress)
	if err != nil {
		return nil, err
	}
	run, err := d.Single(universe, req.StrategyID, req.Params)
	if err != nil {
		return nil, err
	}
	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}
	mc, err := d.MonteCarlo(ctx, run.Result, req.Simulations, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}
	mc.FinalEquity = mc.FinalEquity.Rounded()
	mc.MaxDrawdownPercent = mc.MaxDrawdownPercent.Rounded()
	return &MonteCarloResponse{Seed: seed, Metrics: run.Metrics.Rounded(), Result: mc}, nil
}

// SignalsRequest evaluates every strategy at one bar of each symbol
type SignalsRequest struct {
	DataRequest
	Index *int `json:"index,omitempty"` // default: last bar
}

// Signals builds a consensus report per symbol
func (s *Service) Signals(ctx context.Context, req SignalsRequest) (resp map[string]signals.Report, err error) {
	defer func(started time.Time) { s.observe("signals", started, err) }(time.Now())

	universe, err := s.Universe(ctx, req.DataRequest)
	if err != nil {
		return nil, err
	}
	out := make(map[string]signals.Report, len(universe))
	for sym, series := range universe {
		idx := len(series) - 1
		if req.Index != nil {
			idx = *req.Index
		}
		if idx < 0 || idx >= len(series) {
			return nil, domain.NewConfigError(domain.ErrInvalidConfig, "index", fmt.Sprintf("%d outside %s's %d bars", idx, sym, len(series)))
		}
		rep := signals.BuildReport(s.registry, series, idx)
		rep.Score = perf.Round2(rep.Score)
		out[sym] = rep
	}
	return out, nil
}

// StrategyInfo describes one catalog entry
type StrategyInfo struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Defaults    signals.Params `json:"defaults"`
	Weight      float64        `json:"weight"`
}

// Strategies lists the registry in id order
func (s *Service) Strategies() []StrategyInfo {
	all := s.registry.All()
	out := make([]StrategyInfo, len(all))
	for i, st := range all {
		out[i] = StrategyInfo{ID: st.ID(), Description: st.Description(), Defaults: st.Defaults(), Weight: signals.WeightOf(st)}
	}
	return out
}

func keys(universe map[string]market.Series) []string {
	out := make([]string, 0, len(universe))
	for k := range universe {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
