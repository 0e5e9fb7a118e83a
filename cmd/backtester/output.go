package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sawpanic/backtester/internal/application"
	"github.com/sawpanic/backtester/internal/backtest/scenario"
	"github.com/sawpanic/backtester/internal/domain/signals"
	"github.com/sawpanic/backtester/internal/report/perf"
)

// emit writes v as indented JSON or through the text printer
func (a *app) emit(v any, text func(w io.Writer)) error {
	out, closeFn, err := outputFile(a.output)
	if err != nil {
		return err
	}
	defer closeFn()

	if a.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func formatParams(p signals.Params) string {
	if len(p) == 0 {
		return "-"
	}
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, " ")
}

func printMetrics(w io.Writer, m *perf.Metrics) {
	if m == nil {
		return
	}
	rows := []struct {
		label string
		value string
	}{
		{"Period", fmt.Sprintf("%s to %s (%d days)", m.StartDate.Format("2006-01-02"), m.EndDate.Format("2006-01-02"), m.TradingDays)},
		{"Initial capital", fmt.Sprintf("%.2f", m.InitialCapital)},
		{"Final equity", fmt.Sprintf("%.2f", m.FinalEquity)},
		{"Total return", fmt.Sprintf("%.2f%%", m.TotalReturn)},
		{"Annualized return", fmt.Sprintf("%.2f%%", m.AnnualizedReturn)},
		{"Benchmark return", fmt.Sprintf("%.2f%%", m.BenchmarkReturn)},
		{"Excess return", fmt.Sprintf("%.2f%%", m.ExcessReturn)},
		{"Volatility", fmt.Sprintf("%.2f%%", m.Volatility)},
		{"Sharpe", fmt.Sprintf("%.2f", m.SharpeRatio)},
		{"Sortino", fmt.Sprintf("%.2f", m.SortinoRatio)},
		{"Calmar", fmt.Sprintf("%.2f", m.CalmarRatio)},
		{"Max drawdown", fmt.Sprintf("%.2f%% (%d days)", m.MaxDrawdownPercent, m.MaxDrawdownDuration)},
		{"VaR 95 / CVaR 95", fmt.Sprintf("%.2f%% / %.2f%%", m.VaR95, m.CVaR95)},
		{"Trades", fmt.Sprintf("%d (%d won, %d lost, %d open)", m.TotalTrades, m.WinningTrades, m.LosingTrades, m.OpenTrades)},
		{"Win rate", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"Profit factor", fmt.Sprintf("%.2f", float64(m.ProfitFactor))},
		{"Expectancy", fmt.Sprintf("%.2f", m.Expectancy)},
		{"Avg holding days", fmt.Sprintf("%.2f", m.AverageHoldingDays)},
		{"Costs (comm/tax/slip)", fmt.Sprintf("%.2f / %.2f / %.2f", m.TotalCommission, m.TotalTax, m.TotalSlippage)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\n", r.label, r.value)
	}
	if len(m.PerSymbol) > 1 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SYMBOL\tTRADES\tWIN RATE\tREALIZED P&L")
		for _, s := range m.PerSymbol {
			fmt.Fprintf(w, "%s\t%d\t%.2f%%\t%.2f\n", s.Symbol, s.Trades, s.WinRate, s.RealizedPnL)
		}
	}
}

func printBacktest(w io.Writer, r *application.BacktestResponse) {
	fmt.Fprintf(w, "Strategy\t%s\n", r.StrategyID)
	fmt.Fprintf(w, "Params\t%s\n", formatParams(r.Params))
	printMetrics(w, r.Metrics)
	for _, al := range r.Alerts {
		fmt.Fprintf(w, "ALERT %s\t%s\n", al.Severity, al.Message)
	}
}

func printComparison(w io.Writer, r *scenario.MultiStrategyResult) {
	fmt.Fprintln(w, "RANK\tSTRATEGY\tSCORE\tRETURN %\tSHARPE\tMAX DD %\tWIN RATE %\tTRADES")
	for i, rk := range r.Comparison.Rankings {
		m := rk.Metrics
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%d\n",
			i+1, rk.Name, rk.Score, m.TotalReturn, m.SharpeRatio, m.MaxDrawdownPercent, m.WinRate, m.TotalTrades)
	}
	fmt.Fprintf(w, "\nBest\t%s\nWorst\t%s\n", r.Comparison.Best, r.Comparison.Worst)
}

func printGrid(w io.Writer, r *scenario.GridResult) {
	fmt.Fprintf(w, "Strategy\t%s\nObjective\t%s\nCombinations\t%d\n\n", r.StrategyID, r.Metric, r.Combinations)
	fmt.Fprintln(w, "RANK\tPARAMS\tSCORE\tRETURN %\tSHARPE\tMAX DD %\tTRADES")
	for i, t := range r.Top {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%.2f\t%.2f\t%d\n",
			i+1, formatParams(t.Params), t.Score, t.Metrics.TotalReturn, t.Metrics.SharpeRatio, t.Metrics.MaxDrawdownPercent, t.Metrics.TotalTrades)
	}
}

func printDistribution(w io.Writer, label string, d perf.Distribution) {
	fmt.Fprintf(w, "%s\tmean %.2f\tstd %.2f\tmin %.2f\tp5 %.2f\tp50 %.2f\tp95 %.2f\tmax %.2f\n",
		label, d.Mean, d.StdDev, d.Min, d.Percentiles["p5"], d.Percentiles["p50"], d.Percentiles["p95"], d.Max)
}

func printRolling(w io.Writer, r *scenario.RollingResult) {
	fmt.Fprintln(w, "WINDOW\tFROM\tTO\tRETURN %\tSHARPE\tMAX DD %\tTRADES")
	for _, win := range r.Windows {
		m := win.Metrics
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%.2f\t%.2f\t%d\n",
			win.Index, win.StartDate.Format("2006-01-02"), win.EndDate.Format("2006-01-02"),
			m.TotalReturn, m.SharpeRatio, m.MaxDrawdownPercent, m.TotalTrades)
	}
	s := r.Summary
	fmt.Fprintf(w, "\nPositive windows\t%d/%d (%.2f%%)\n", s.PositiveWindows, s.Windows, s.ConsistencyRate)
	printDistribution(w, "Return %", s.Returns)
	printDistribution(w, "Sharpe", s.Sharpe)
}

func printMonteCarlo(w io.Writer, r *application.MonteCarloResponse) {
	mc := r.Result
	fmt.Fprintf(w, "Seed\t%d\nSimulations\t%d\nTrades reshuffled\t%d\n", r.Seed, mc.Simulations, mc.Trades)
	fmt.Fprintf(w, "Original final equity\t%.2f\n", mc.OriginalFinalEquity)
	printDistribution(w, "Final equity", mc.FinalEquity)
	printDistribution(w, "Max drawdown %", mc.MaxDrawdownPercent)
	fmt.Fprintf(w, "Probability of loss\t%.2f%%\n", mc.ProbabilityOfLoss)
}

func printSignals(w io.Writer, reports map[string]signals.Report) {
	symbols := make([]string, 0, len(reports))
	for s := range reports {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	header := []string{"SYMBOL", "DATE", "CLOSE", "OVERALL", "SCORE"}
	for _, sig := range signals.AllSignals {
		header = append(header, sig.String())
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, sym := range symbols {
		rep := reports[sym]
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%.2f", sym, rep.Date.Format("2006-01-02"), rep.Close, rep.Overall, rep.Score)
		for _, sig := range signals.AllSignals {
			fmt.Fprintf(w, "\t%d", rep.Counts[sig.String()])
		}
		fmt.Fprintln(w)
	}
}

func printStrategies(w io.Writer, list []application.StrategyInfo) {
	fmt.Fprintln(w, "ID\tWEIGHT\tDEFAULTS\tDESCRIPTION")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\n", s.ID, s.Weight, formatParams(s.Defaults), s.Description)
	}
}
