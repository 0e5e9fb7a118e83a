package signals

import (
	"time"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// Overall verdict thresholds on the [-100, 100] score
const (
	StrongThreshold = 50.0
	PlainThreshold  = 20.0
)

// Verdict is one strategy's signal in a report
type Verdict struct {
	StrategyID string  `json:"strategyId"`
	Signal     Signal  `json:"signal"`
	Weight     float64 `json:"weight"`
}

// Report aggregates every registered strategy's verdict at one bar
type Report struct {
	Date     time.Time      `json:"date"`
	Close    float64        `json:"close"`
	Verdicts []Verdict      `json:"verdicts"`
	Counts   map[string]int `json:"counts"`
	Score    float64        `json:"score"`
	Overall  Signal         `json:"overall"`
}

// BuildReport evaluates each strategy in the registry with its defaults at
// index. Score is the weighted signal sum normalised by the maximum possible,
// scaled to [-100, 100].
func BuildReport(reg *Registry, s market.Series, index int) Report {
	rep := Report{Counts: make(map[string]int, len(AllSignals))}
	for _, sig := range AllSignals {
		rep.Counts[sig.String()] = 0
	}
	if index < 0 || index >= len(s) {
		rep.Overall = Hold
		return rep
	}
	rep.Date, rep.Close = s[index].Date, s[index].Close

	var num, den float64
	for _, st := range reg.All() {
		sig := st.Evaluate(s, index, st.Defaults())
		w := WeightOf(st)
		rep.Verdicts = append(rep.Verdicts, Verdict{StrategyID: st.ID(), Signal: sig, Weight: w})
		rep.Counts[sig.String()]++
		num += w * sig.Value()
		den += w * StrongBuy.Value()
	}
	if den > 0 {
		rep.Score = num / den * 100
	}
	rep.Overall = ScoreSignal(rep.Score)
	return rep
}

// ScoreSignal maps a report score onto a verdict
func ScoreSignal(score float64) Signal {
	switch {
	case score > StrongThreshold:
		return StrongBuy
	case score > PlainThreshold:
		return Buy
	case score < -StrongThreshold:
		return StrongSell
	case score < -PlainThreshold:
		return Sell
	}
	return Hold
}
