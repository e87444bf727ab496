package expr

import (
	"strconv"
	"strings"
)

// Scope resolves variable references. An assembly is the usual scope: the
// first path element names a component, the rest names a variable on it.
type Scope interface {
	// Name returns the scope's name, used in error messages.
	Name() string

	// Get returns the current value at ref.
	Get(ref Ref) (any, error)

	// Set writes value at ref.
	Set(ref Ref, value any) error

	// Metadata returns the declared metadata of the variable at ref.
	Metadata(ref Ref) (Metadata, error)

	// Contains reports whether name is a top-level member (a component).
	Contains(name string) bool
}

// Ref is a resolved variable reference such as comp.x or comp.arr[2].
type Ref struct {
	// Path holds the dotted names, outermost first.
	Path []string `json:"path"`

	// Index holds trailing integer subscripts.
	Index []int `json:"index,omitempty"`
}

// Root returns the first path element.
func (r Ref) Root() string {
	if len(r.Path) == 0 {
		return ""
	}
	return r.Path[0]
}

// Name returns the path without its root, joined with dots.
func (r Ref) Name() string {
	if len(r.Path) < 2 {
		return ""
	}
	return strings.Join(r.Path[1:], ".")
}

// String renders the reference the way it is written.
func (r Ref) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(r.Path, "."))
	for _, idx := range r.Index {
		sb.WriteByte('[')
		sb.WriteString(strconv.Itoa(idx))
		sb.WriteByte(']')
	}
	return sb.String()
}

// Metadata is the declared metadata of a variable.
type Metadata struct {
	Low    *float64 `json:"low,omitempty" yaml:"low,omitempty"`
	High   *float64 `json:"high,omitempty" yaml:"high,omitempty"`
	Values []any    `json:"values,omitempty" yaml:"values,omitempty"`
	Units  string   `json:"units,omitempty" yaml:"units,omitempty"`
	IOType string   `json:"iotype,omitempty" yaml:"iotype,omitempty"`
	Desc   string   `json:"desc,omitempty" yaml:"desc,omitempty"`
}

// Field returns a single metadata field by its lower-case name. Absent
// bounds are reported as a nil value with ok set.
func (m Metadata) Field(name string) (any, bool) {
	switch name {
	case "low":
		if m.Low == nil {
			return nil, true
		}
		return *m.Low, true
	case "high":
		if m.High == nil {
			return nil, true
		}
		return *m.High, true
	case "values":
		return m.Values, true
	case "units":
		return m.Units, true
	case "iotype":
		return m.IOType, true
	case "desc":
		return m.Desc, true
	default:
		return nil, false
	}
}

// Float returns a pointer to v, for filling optional bounds.
func Float(v float64) *float64 {
	return &v
}
