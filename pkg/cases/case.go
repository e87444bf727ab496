package cases

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Item is a named value of a case.
type Item struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Case is one point of a sweep.
type Case struct {
	UUID    string `json:"uuid"`
	Label   string `json:"label"`
	Inputs  []Item `json:"inputs"`
	Outputs []Item `json:"outputs"`

	// Msg is empty for a successful case and holds the failure otherwise.
	Msg string `json:"msg,omitempty"`
}

// NewCase creates a case with a fresh uuid. Output values are filled in when
// the case is run.
func NewCase(label string, inputs []Item, outputs []string) *Case {
	c := &Case{
		UUID:   uuid.NewString(),
		Label:  label,
		Inputs: append([]Item(nil), inputs...),
	}
	for _, name := range outputs {
		c.Outputs = append(c.Outputs, Item{Name: name})
	}
	return c
}

// Input returns the value of the named input.
func (c *Case) Input(name string) (any, bool) {
	return lookup(c.Inputs, name)
}

// Output returns the value of the named output.
func (c *Case) Output(name string) (any, bool) {
	return lookup(c.Outputs, name)
}

// OutputNames lists the outputs in case order.
func (c *Case) OutputNames() []string {
	names := make([]string, len(c.Outputs))
	for i, it := range c.Outputs {
		names[i] = it.Name
	}
	return names
}

// Clone returns a copy that shares no slices with c.
func (c *Case) Clone() *Case {
	out := *c
	out.Inputs = append([]Item(nil), c.Inputs...)
	out.Outputs = append([]Item(nil), c.Outputs...)
	return &out
}

// String renders the case in the dump layout, items sorted by name.
func (c *Case) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case: %s\n", c.Label)
	fmt.Fprintf(&b, "   uuid: %s\n", c.UUID)
	b.WriteString("   inputs:\n")
	writeItems(&b, c.Inputs)
	b.WriteString("   outputs:\n")
	writeItems(&b, c.Outputs)
	if c.Msg != "" {
		fmt.Fprintf(&b, "   msg: %s\n", c.Msg)
	}
	return b.String()
}

func writeItems(b *strings.Builder, items []Item) {
	sorted := append([]Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, it := range sorted {
		fmt.Fprintf(b, "      %s: %s\n", it.Name, FormatValue(it.Value))
	}
}

func lookup(items []Item, name string) (any, bool) {
	for _, it := range items {
		if it.Name == name {
			return it.Value, true
		}
	}
	return nil, false
}

// FormatValue renders a value for dumps and CSV cells. Integral floats keep a
// trailing ".0" so they read back as floats.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case string:
		return x
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = formatFloat(f)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) || strings.ContainsAny(s, ".e") {
		return s
	}
	return s + ".0"
}

// ParseValue converts a text cell to an int, float or bool when it reads as
// one, in that order, and leaves it a string otherwise.
func ParseValue(s string) any {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "True", "true":
		return true
	case "False", "false":
		return false
	}
	return s
}
