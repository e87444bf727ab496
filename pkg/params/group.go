package params

import (
	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/expr"
)

// Group is several parameters driven by one shared value. All members are
// assumed to hold equal values.
type Group struct {
	params []*Parameter
}

// NewGroup creates a group over a copy of params.
func NewGroup(params []*Parameter) *Group {
	return &Group{params: append([]*Parameter(nil), params...)}
}

// Parameters returns the members in order.
func (g *Group) Parameters() []*Parameter {
	return append([]*Parameter(nil), g.params...)
}

// Targets returns the member targets in order.
func (g *Group) Targets() []string {
	targets := make([]string, len(g.params))
	for i, p := range g.params {
		targets[i] = p.Target()
	}
	return targets
}

// Set writes value to every member in order. A failing member stops the
// loop; members already set keep the new value.
func (g *Group) Set(value any, scope expr.Scope) error {
	for _, p := range g.params {
		if err := p.Set(value, scope); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate returns the value of the first member.
func (g *Group) Evaluate(scope expr.Scope) (any, error) {
	if len(g.params) == 0 {
		return nil, engine.NewValueError("parameter group is empty", nil)
	}
	return g.params[0].Evaluate(scope)
}

// ReferencedComponents returns the distinct components the members mention.
func (g *Group) ReferencedComponents() []string {
	var names []string
	seen := make(map[string]bool)
	for _, p := range g.params {
		for _, name := range p.ReferencedComponents() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// Bounds returns the tightest bounds across the members.
func (g *Group) Bounds() (low, high *float64) {
	for _, p := range g.params {
		if p.Low != nil && (low == nil || *p.Low > *low) {
			low = p.Low
		}
		if p.High != nil && (high == nil || *p.High < *high) {
			high = p.High
		}
	}
	return low, high
}

// Bounds returns the bounds of an entry; for a group, the tightest bounds of
// its members.
func Bounds(e Entry) (low, high *float64) {
	switch v := e.(type) {
	case *Parameter:
		return v.Low, v.High
	case *Group:
		return v.Bounds()
	default:
		return nil, nil
	}
}
