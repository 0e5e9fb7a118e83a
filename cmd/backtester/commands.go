package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/backtester/internal/application"
	"github.com/sawpanic/backtester/internal/backtest/scenario"
	"github.com/sawpanic/backtester/internal/data"
	httpapi "github.com/sawpanic/backtester/internal/interfaces/http"
	applog "github.com/sawpanic/backtester/internal/log"
	"github.com/sawpanic/backtester/internal/report/perf"
)

// progress returns a callback drawing on stderr, and a function that closes the line
func (a *app) progress(name string) (scenario.ProgressFunc, func(err error)) {
	if a.quiet {
		return nil, func(error) {}
	}
	cfg := applog.QuietProgressConfig()
	if applog.IsTerminal(os.Stderr) {
		cfg = applog.DefaultProgressConfig()
	}
	pi := applog.NewProgressIndicator(os.Stderr, name, 0, cfg)
	return pi.Callback(), func(err error) {
		if err != nil {
			pi.Fail(err.Error())
			return
		}
		pi.Finish()
	}
}

func newRunCmd(a *app) *cobra.Command {
	var (
		df     dataFlags
		ef     engineFlags
		params paramsFlag
	)
	cmd := &cobra.Command{
		Use:   "run STRATEGY",
		Short: "Backtest one strategy over one or more symbols",
		Example: `  backtester run ma_cross -s AAPL --from 2022-01-01 --param shortPeriod=10,longPeriod=30
  backtester run rsi -f prices/MSFT.csv --stop-loss 0.05 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dreq, err := df.request()
			if err != nil {
				return err
			}
			resp, err := a.svc.Backtest(cmd.Context(), application.BacktestRequest{
				DataRequest: dreq,
				StrategyID:  args[0],
				Params:      params.values,
				Config:      ef.apply(cmd, a.cfg.Backtest),
			})
			if err != nil {
				return err
			}
			return a.emit(resp, func(w io.Writer) { printBacktest(w, resp) })
		},
	}
	df.register(cmd.Flags())
	ef.register(cmd.Flags())
	cmd.Flags().Var(&params, "param", "Strategy parameter override, repeatable (name=value)")
	return cmd
}

func newCompareCmd(a *app) *cobra.Command {
	var (
		df dataFlags
		ef engineFlags
	)
	cmd := &cobra.Command{
		Use:   "compare [STRATEGY...]",
		Short: "Run several strategies over the same data and rank them",
		Long:  "Runs each strategy with its default parameters and ranks them by weighted percentile score. No arguments compares the whole catalog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dreq, err := df.request()
			if err != nil {
				return err
			}
			progress, done := a.progress("compare")
			res, err := a.svc.Compare(cmd.Context(), application.CompareRequest{
				DataRequest: dreq,
				StrategyIDs: args,
				Config:      ef.apply(cmd, a.cfg.Backtest),
			}, progress)
			done(err)
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) { printComparison(w, res) })
		},
	}
	df.register(cmd.Flags())
	ef.register(cmd.Flags())
	return cmd
}

func newOptimizeCmd(a *app) *cobra.Command {
	var (
		df     dataFlags
		ef     engineFlags
		ranges rangesFlag
		fixed  paramsFlag
		metric string
		top    int
	)
	cmd := &cobra.Command{
		Use:   "optimize STRATEGY",
		Short: "Grid-search strategy parameters",
		Example: `  backtester optimize ma_cross -s AAPL --range shortPeriod=5:20:5 --range longPeriod=20:60:10
  backtester optimize rsi -s SPY --range period=7:21:7 --metric calmarRatio`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ranges.values) == 0 {
				return fmt.Errorf("at least one --range is required")
			}
			dreq, err := df.request()
			if err != nil {
				return err
			}
			progress, done := a.progress("optimize")
			res, err := a.svc.Optimize(cmd.Context(), application.OptimizeRequest{
				DataRequest: dreq,
				GridRequest: scenario.GridRequest{
					StrategyID: args[0],
					Ranges:     ranges.values,
					Fixed:      fixed.values,
					Metric:     metric,
				},
				Config: ef.apply(cmd, a.cfg.Backtest),
			}, progress)
			done(err)
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) { printGrid(w, res) })
		},
	}
	df.register(cmd.Flags())
	ef.register(cmd.Flags())
	cmd.Flags().Var(&ranges, "range", "Parameter sweep, repeatable (name=min:max:step)")
	cmd.Flags().Var(&fixed, "param", "Parameter held fixed across the grid (name=value)")
	cmd.Flags().StringVar(&metric, "metric", perf.DefaultObjective, fmt.Sprintf("Objective metric %v", perf.ObjectiveNames()))
	// read in setup, before the service is built
	cmd.Flags().IntVar(&top, "top", scenario.DefaultTopN, "Number of combinations to report")
	return cmd
}

func newRollingCmd(a *app) *cobra.Command {
	var (
		df     dataFlags
		ef     engineFlags
		params paramsFlag
		window int
		step   int
	)
	cmd := &cobra.Command{
		Use:     "rolling STRATEGY",
		Short:   "Run a strategy over sliding windows of one symbol",
		Example: `  backtester rolling bollinger -s AAPL --window 252 --step 21`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dreq, err := df.request()
			if err != nil {
				return err
			}
			progress, done := a.progress("rolling")
			res, err := a.svc.Rolling(cmd.Context(), application.RollingRequest{
				DataRequest: dreq,
				RollingRequest: scenario.RollingRequest{
					StrategyID: args[0],
					Params:     params.values,
					Window:     window,
					Step:       step,
				},
				Config: ef.apply(cmd, a.cfg.Backtest),
			}, progress)
			done(err)
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) { printRolling(w, res) })
		},
	}
	df.register(cmd.Flags())
	ef.register(cmd.Flags())
	cmd.Flags().Var(&params, "param", "Strategy parameter override (name=value)")
	cmd.Flags().IntVar(&window, "window", 252, "Bars per window")
	cmd.Flags().IntVar(&step, "step", 21, "Bars between window starts")
	return cmd
}

func newMonteCarloCmd(a *app) *cobra.Command {
	var (
		df          dataFlags
		ef          engineFlags
		params      paramsFlag
		simulations int
		seed        int64
	)
	cmd := &cobra.Command{
		Use:     "montecarlo STRATEGY",
		Short:   "Reshuffle a backtest's trade returns to estimate outcome dispersion",
		Example: `  backtester montecarlo macd -s AAPL --simulations 5000 --seed 42`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dreq, err := df.request()
			if err != nil {
				return err
			}
			req := application.MonteCarloRequest{
				BacktestRequest: application.BacktestRequest{
					DataRequest: dreq,
					StrategyID:  args[0],
					Params:      params.values,
					Config:      ef.apply(cmd, a.cfg.Backtest),
				},
				Simulations: simulations,
			}
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}
			progress, done := a.progress("montecarlo")
			res, err := a.svc.MonteCarlo(cmd.Context(), req, progress)
			done(err)
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) { printMonteCarlo(w, res) })
		},
	}
	df.register(cmd.Flags())
	ef.register(cmd.Flags())
	cmd.Flags().Var(&params, "param", "Strategy parameter override (name=value)")
	cmd.Flags().IntVar(&simulations, "simulations", scenario.DefaultSimulations, "Number of reshuffled paths")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed; omitted means time-seeded")
	return cmd
}

func newSignalsCmd(a *app) *cobra.Command {
	var (
		df    dataFlags
		index int
	)
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Evaluate every strategy at one bar and report the consensus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dreq, err := df.request()
			if err != nil {
				return err
			}
			req := application.SignalsRequest{DataRequest: dreq}
			if cmd.Flags().Changed("index") {
				req.Index = &index
			}
			reports, err := a.svc.Signals(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.emit(reports, func(w io.Writer) { printSignals(w, reports) })
		},
	}
	df.register(cmd.Flags())
	cmd.Flags().IntVar(&index, "index", 0, "Bar index to evaluate (default: last bar)")
	return cmd
}

func newStrategiesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the strategy catalog with default parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list := a.svc.Strategies()
			return a.emit(list, func(w io.Writer) { printStrategies(w, list) })
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:     "import",
		Short:   "Copy CSV price files into the configured DynamoDB table",
		Example: `  backtester import -f prices/AAPL.csv -f prices/MSFT.csv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(files) == 0 {
				return fmt.Errorf("at least one --file is required")
			}
			dst, err := data.OpenDynamo(cmd.Context(), a.cfg.Data.Dynamo)
			if err != nil {
				return err
			}
			for _, path := range files {
				series, err := data.ReadCSVFile(path)
				if err != nil {
					return err
				}
				if err := series.Validate(); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if err := dst.WriteSeries(cmd.Context(), symbolFromPath(path), series); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "CSV files to import; the file name is the symbol")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var (
		host      string
		port      int
		anyOrigin bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the backtesting API over HTTP",
		Long:  "Starts a local JSON API with /health, /metrics, the backtest and scenario endpoints and the /ws/scenarios progress stream.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h := a.cfg.HTTP
			cfg := httpapi.DefaultServerConfig()
			cfg.Host, cfg.Port = h.Host, h.Port
			cfg.ReadTimeout, cfg.WriteTimeout = h.ReadTimeout, h.WriteTimeout
			cfg.MaxBodyBytes = h.MaxBodyBytes
			cfg.Version = version
			cfg.AllowAnyOrigin = anyOrigin
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			srv := httpapi.NewServer(a.svc, nil, cfg)
			log.Info().Str("addr", cfg.Addr()).Str("source", a.svc.SourceName()).Msg("Backtester API starting")
			return srv.Run(cmd.Context(), h.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	cmd.Flags().BoolVar(&anyOrigin, "cors-any", false, "Allow any CORS origin instead of localhost only")
	return cmd
}
