package signals

import (
	"math"
	"sort"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// Params are numeric strategy parameters keyed by name
type Params map[string]float64

// Int returns a parameter rounded to the nearest integer
func (p Params) Int(name string) int {
	return int(math.Round(p[name]))
}

// Float returns a parameter as-is
func (p Params) Float(name string) float64 {
	return p[name]
}

// Clone copies the map so callers can never alias registry defaults
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns parameter names in sorted order
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns defaults overlaid with overrides. Neither input is modified.
func Merge(defaults, overrides Params) Params {
	out := defaults.Clone()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Strategy is the capability every catalog entry implements. Evaluate must return
// Hold rather than panic when the lookback is not yet available.
type Strategy interface {
	ID() string
	Description() string
	Defaults() Params
	Evaluate(s market.Series, index int, p Params) Signal
}

// Weighted strategies carry a non-default weight in the signal report
type Weighted interface {
	Weight() float64
}

// EvalFunc is the body of a catalog strategy
type EvalFunc func(s market.Series, index int, p Params) Signal

type definition struct {
	id       string
	desc     string
	defaults Params
	weight   float64
	eval     EvalFunc
}

// New wraps an evaluation function as a Strategy with report weight 1.0
func New(id, description string, defaults Params, eval EvalFunc) Strategy {
	return NewWeighted(id, description, defaults, 1.0, eval)
}

// NewWeighted wraps an evaluation function with an explicit report weight
func NewWeighted(id, description string, defaults Params, weight float64, eval EvalFunc) Strategy {
	return &definition{
		id:       id,
		desc:     description,
		defaults: defaults.Clone(),
		weight:   weight,
		eval:     eval,
	}
}

func (d *definition) ID() string          { return d.id }
func (d *definition) Description() string { return d.desc }
func (d *definition) Defaults() Params    { return d.defaults.Clone() }
func (d *definition) Weight() float64     { return d.weight }

func (d *definition) Evaluate(s market.Series, index int, p Params) Signal {
	if index < 0 || index >= len(s) {
		return Hold
	}
	return d.eval(s, index, p)
}

// WeightOf returns a strategy's report weight, 1.0 unless it says otherwise
func WeightOf(st Strategy) float64 {
	if w, ok := st.(Weighted); ok && w.Weight() > 0 {
		return w.Weight()
	}
	return 1.0
}
