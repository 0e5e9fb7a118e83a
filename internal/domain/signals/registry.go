package signals

import (
	"fmt"
	"sort"

	"github.com/sawpanic/backtester/internal/domain"
)

// Registry is an immutable id -> Strategy catalog. Build one at startup and
// inject it wherever strategies are resolved.
type Registry struct {
	byID map[string]Strategy
	ids  []string
}

// NewRegistry builds a registry, rejecting empty and duplicate ids
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{byID: make(map[string]Strategy, len(strategies))}
	for _, st := range strategies {
		if st == nil || st.ID() == "" {
			return nil, fmt.Errorf("strategy with empty id")
		}
		if _, dup := r.byID[st.ID()]; dup {
			return nil, fmt.Errorf("duplicate strategy id %q", st.ID())
		}
		r.byID[st.ID()] = st
		r.ids = append(r.ids, st.ID())
	}
	sort.Strings(r.ids)
	return r, nil
}

// MustRegistry is NewRegistry that panics on an invalid catalog
func MustRegistry(strategies ...Strategy) *Registry {
	r, err := NewRegistry(strategies...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRegistry builds a fresh registry holding the full built-in catalog
func DefaultRegistry() *Registry {
	return MustRegistry(Catalog()...)
}

// Lookup finds a strategy or returns a ConfigError wrapping ErrUnknownStrategy
func (r *Registry) Lookup(id string) (Strategy, error) {
	st, ok := r.byID[id]
	if !ok {
		return nil, domain.NewConfigError(domain.ErrUnknownStrategy, id, "not in catalog")
	}
	return st, nil
}

// Resolve looks up a strategy and merges overrides over its defaults
func (r *Registry) Resolve(id string, overrides Params) (Strategy, Params, error) {
	st, err := r.Lookup(id)
	if err != nil {
		return nil, nil, err
	}
	return st, Merge(st.Defaults(), overrides), nil
}

// IDs returns registered ids in sorted order
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// All returns strategies in id order
func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of registered strategies
func (r *Registry) Len() int { return len(r.ids) }
