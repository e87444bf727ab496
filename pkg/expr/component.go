package expr

import (
	"fmt"

	"go.starlark.net/starlark"
)

// componentValue exposes a component's variables to Starlark as attributes.
type componentValue struct {
	name  string
	scope Scope
}

var _ starlark.HasAttrs = (*componentValue)(nil)

func (c *componentValue) String() string        { return c.name }
func (c *componentValue) Type() string          { return "component" }
func (c *componentValue) Freeze()               {}
func (c *componentValue) Truth() starlark.Bool  { return starlark.True }
func (c *componentValue) Hash() (uint32, error) { return starlark.String(c.name).Hash() }

// Attr returns the value of the named variable.
func (c *componentValue) Attr(name string) (starlark.Value, error) {
	v, err := c.scope.Get(Ref{Path: []string{c.name, name}})
	if err != nil {
		return nil, err
	}
	sv, err := ToStarlark(v)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", c.name, name, err)
	}
	return sv, nil
}

// AttrNames is empty; variables are resolved on demand.
func (c *componentValue) AttrNames() []string {
	return nil
}
