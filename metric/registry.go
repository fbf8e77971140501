package metric

import (
	"fmt"

	"go.uber.org/multierr"

	pkgerrors "github.com/luma/sparkplug/errors"
)

// Registry is the fixed, ordered set of metrics an entity declares at
// construction. It is never modified afterwards and is safe for concurrent
// reads. Definitions are cloned on the way in and out, so composite values
// held by callers never alias the registry's.
type Registry struct {
	defs  []Metric
	index map[string]int
}

// NewRegistry builds a registry from metric definitions. The definition's
// value, if any, is used as the metric's initial value in birth messages.
func NewRegistry(defs ...Metric) (*Registry, error) {
	r := &Registry{
		defs:  make([]Metric, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, pkgerrors.Configuration("metric.NewRegistry", ErrEmptyName)
		}

		if _, ok := r.index[def.Name]; ok {
			return nil, pkgerrors.Configuration("metric.NewRegistry",
				fmt.Errorf("%q: %w", def.Name, ErrDuplicateMetric))
		}

		if !def.DataType.Valid() {
			return nil, pkgerrors.Configuration("metric.NewRegistry",
				fmt.Errorf("%q: %w", def.Name, ErrUnknownDataType))
		}

		r.index[def.Name] = len(r.defs)
		r.defs = append(r.defs, def.Clone())
	}

	return r, nil
}

// MustRegistry is like NewRegistry but panics on error. It is meant for
// package level declarations and tests.
func MustRegistry(defs ...Metric) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}

	return r
}

// FilterOutgoing returns the candidates whose name is registered, keeping
// their relative order. Unregistered metrics are dropped.
func (r *Registry) FilterOutgoing(candidates []Metric) []Metric {
	out := make([]Metric, 0, len(candidates))

	for _, m := range candidates {
		if r.Has(m.Name) {
			out = append(out, m)
		}
	}

	return out
}

// Check returns one ErrUnknownMetric per candidate that FilterOutgoing would
// drop, combined with multierr. It returns nil when every name is known.
func (r *Registry) Check(candidates []Metric) (err error) {
	for _, m := range candidates {
		if !r.Has(m.Name) {
			err = multierr.Append(err, fmt.Errorf("%q: %w", m.Name, ErrUnknownMetric))
		}
	}

	return err
}

// Values returns a copy of the known metric definitions in declaration order.
func (r *Registry) Values() []Metric {
	if r == nil {
		return nil
	}

	out := make([]Metric, len(r.defs))
	for i, def := range r.defs {
		out[i] = def.Clone()
	}
	return out
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}

	out := make([]string, len(r.defs))
	for i, def := range r.defs {
		out[i] = def.Name
	}

	return out
}

func (r *Registry) Get(name string) (Metric, bool) {
	if r == nil {
		return Metric{}, false
	}

	i, ok := r.index[name]
	if !ok {
		return Metric{}, false
	}

	return r.defs[i].Clone(), true
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}

	_, ok := r.index[name]
	return ok
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}

	return len(r.defs)
}
