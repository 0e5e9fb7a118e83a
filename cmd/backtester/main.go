package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/backtester/internal/application"
	"github.com/sawpanic/backtester/internal/config"
	"github.com/sawpanic/backtester/internal/data"
	applog "github.com/sawpanic/backtester/internal/log"
)

const (
	appName = "backtester"
	version = "v1.0.0"
)

// app carries state shared by every subcommand
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	jsonOut    bool
	output     string
	quiet      bool

	cfg     *config.AppConfig
	svc     *application.Service
	closeFn func() error
}

func main() {
	a := &app{}
	root := newRootCmd(a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if a.closeFn != nil {
		if cerr := a.closeFn(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close price source")
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:     appName,
		Short:   "Rule-based daily backtesting for equity strategies",
		Version: version,
		Long: `backtester simulates rule-based trading strategies over daily OHLCV data.

It runs single backtests, strategy comparisons, parameter grid searches,
rolling-window analyses and Monte Carlo trade reshuffles, either from the
command line or through a local HTTP API (serve).`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file (defaults apply when omitted)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level (debug|info|warn|error); overrides config")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format (auto|console|json); overrides config")
	pf.BoolVar(&a.jsonOut, "json", false, "Print results as JSON")
	pf.StringVarP(&a.output, "output", "o", "", "Write results to a file instead of stdout")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "Hide progress output")

	root.AddCommand(
		newRunCmd(a),
		newCompareCmd(a),
		newOptimizeCmd(a),
		newRollingCmd(a),
		newMonteCarloCmd(a),
		newSignalsCmd(a),
		newStrategiesCmd(a),
		newImportCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup loads configuration, configures logging and opens the price source
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadAppConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := applog.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("top"); f != nil && f.Changed {
		n, err := cmd.Flags().GetInt("top")
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("--top must be positive, got %d", n)
		}
		cfg.Scenario.TopN = n
	}
	a.cfg = cfg

	var src data.Source
	if cmd.Name() != "strategies" && cmd.Name() != "import" {
		src, a.closeFn, err = data.Open(cmd.Context(), cfg.Data)
		if err != nil {
			return fmt.Errorf("failed to open price source: %w", err)
		}
	}

	svc, err := application.NewService(nil, src, application.Settings{
		Engine:     cfg.Backtest,
		Scenario:   cfg.Scenario,
		Calculator: cfg.Metrics.Calculator(),
		Alerts:     cfg.Alerts,
	})
	if err != nil {
		return err
	}
	a.svc = svc

	log.Debug().
		Str("command", cmd.Name()).
		Str("config", a.configPath).
		Str("source", svc.SourceName()).
		Msg("Backtester initialized")
	return nil
}
