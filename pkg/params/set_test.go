package params

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/expr"
	"github.com/openfroyo/mdao/pkg/model"
)

type testDriver struct {
	name  string
	scope expr.Scope
}

func (d *testDriver) Name() string      { return d.name }
func (d *testDriver) Scope() expr.Scope { return d.scope }

type varSpec struct {
	name  string
	typ   model.VarType
	value any
	meta  expr.Metadata
}

// newFixture builds an assembly with components comp and comp2 and a Set
// owned by a driver named "driver".
func newFixture(t *testing.T, opts ...SetOption) (*Set, *model.Assembly) {
	t.Helper()

	asm := model.NewAssembly("top", zerolog.Nop())
	comps := map[string][]varSpec{
		"comp": {
			{name: "x", typ: model.TypeFloat, value: 1.0, meta: expr.Metadata{Low: expr.Float(0), High: expr.Float(10)}},
			{name: "y", typ: model.TypeFloat, value: 2.0},
			{name: "a", typ: model.TypeFloat, value: 0.5},
			{name: "b", typ: model.TypeInt, value: 0},
			{name: "c", typ: model.TypeFloat, value: 0.5},
			{name: "s", typ: model.TypeStr, value: "hello"},
			{name: "e", typ: model.TypeEnum, value: 2, meta: expr.Metadata{Values: []any{1, 2, 3}}},
		},
		"comp2": {
			{name: "v", typ: model.TypeFloat, value: 0.0, meta: expr.Metadata{Low: expr.Float(-10), High: expr.Float(10)}},
		},
	}

	for _, name := range []string{"comp", "comp2"} {
		base := model.NewBase(name)
		for _, spec := range comps[name] {
			v, err := model.NewVariable(spec.name, spec.typ, model.IOIn, spec.value, spec.meta)
			require.NoError(t, err)
			require.NoError(t, base.AddVariable(v))
		}
		require.NoError(t, asm.Add(base))
	}

	return NewSet(&testDriver{name: "driver", scope: asm}, opts...), asm
}

func get(t *testing.T, asm *model.Assembly, path string) any {
	t.Helper()
	e, err := expr.New(path, asm)
	require.NoError(t, err)
	v, err := e.Evaluate(nil)
	require.NoError(t, err)
	return v
}

func TestSet_Add_RoundTrip(t *testing.T) {
	set, _ := newFixture(t)

	require.NoError(t, set.Add("comp.y", WithLow(5), WithHigh(25)))
	assert.Equal(t, []string{"comp.y"}, set.ListTargets())

	entry, ok := set.GetParameters().Get("comp.y")
	require.True(t, ok)
	p, ok := entry.(*Parameter)
	require.True(t, ok)
	assert.Equal(t, 5.0, *p.Low)
	assert.Equal(t, 25.0, *p.High)
	assert.Nil(t, p.FDStep)
}

func TestSet_Add_BuiltinBounds(t *testing.T) {
	tests := []struct {
		name     string
		opts     []AddOption
		wantLow  float64
		wantHigh float64
		wantErr  string
	}{
		{
			name:     "adopts built-in bounds",
			wantLow:  0,
			wantHigh: 10,
		},
		{
			name:     "narrower bounds",
			opts:     []AddOption{WithLow(2), WithHigh(8)},
			wantLow:  2,
			wantHigh: 8,
		},
		{
			name:     "only low supplied",
			opts:     []AddOption{WithLow(8)},
			wantLow:  8,
			wantHigh: 10,
		},
		{
			name:    "low below built-in",
			opts:    []AddOption{WithLow(-5)},
			wantErr: "driver: Trying to add parameter 'comp.x', but the lower limit supplied (-5) exceeds the built-in lower limit (0).",
		},
		{
			name:    "high above built-in",
			opts:    []AddOption{WithHigh(20)},
			wantErr: "driver: Trying to add parameter 'comp.x', but the upper limit supplied (20) exceeds the built-in upper limit (10).",
		},
		{
			name:    "inverted bounds",
			opts:    []AddOption{WithLow(8), WithHigh(2)},
			wantErr: "driver: Parameter 'comp.x' has a lower bound (8) that exceeds its upper bound (2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, _ := newFixture(t)

			err := set.Add("comp.x", tt.opts...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, engine.IsValueError(err))
				assert.Equal(t, tt.wantErr, err.Error())
				assert.Zero(t, set.GetParameters().Len())
				return
			}
			require.NoError(t, err)

			entry, _ := set.GetParameters().Get("comp.x")
			low, high := Bounds(entry)
			assert.Equal(t, tt.wantLow, *low)
			assert.Equal(t, tt.wantHigh, *high)
		})
	}
}

func TestSet_Add_BoundsErrorDetails(t *testing.T) {
	set, _ := newFixture(t)

	err := set.Add("comp.x", WithLow(8), WithHigh(2))
	require.Error(t, err)

	var e *engine.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, engine.ErrCodeBounds, e.Code)
	assert.Equal(t, "comp.x", e.Details["target"])
	assert.Equal(t, 8.0, e.Details["low"])
	assert.Equal(t, 2.0, e.Details["high"])

	err = set.Add("comp.y")
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "comp.y", e.Details["target"])
	assert.Nil(t, e.Details["low"])
}

func TestSet_Add_MissingBounds(t *testing.T) {
	set, _ := newFixture(t)

	err := set.Add("comp.y")
	require.Error(t, err)
	assert.True(t, engine.IsValueError(err))
	assert.Contains(t, err.Error(), "no lower limit was found and no 'low' argument was given")

	err = set.Add("comp.y", WithLow(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no upper limit was found and no 'high' argument was given")

	assert.Empty(t, set.ListParameters())
}

func TestSet_Add_EnumNeedsNoBounds(t *testing.T) {
	set, _ := newFixture(t)

	require.NoError(t, set.Add("comp.e"))
	entry, _ := set.GetParameters().Get("comp.e")
	low, high := Bounds(entry)
	assert.Nil(t, low)
	assert.Nil(t, high)
}

func TestSet_Add_Failures(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantKind engine.ErrorKind
		wantErr  string
	}{
		{
			name:     "not numeric",
			target:   "comp.s",
			wantKind: engine.KindValue,
			wantErr:  "driver: The value of parameter 'comp.s' must be of type float or int, but its type is 'string'.",
		},
		{
			name:     "not assignable",
			target:   "comp.x + 1",
			wantKind: engine.KindValue,
			wantErr:  "driver: Can't add parameter: Parameter 'comp.x + 1' cannot be assigned to",
		},
		{
			name:     "syntax error",
			target:   "comp.x +",
			wantKind: engine.KindValue,
			wantErr:  "driver: Can't add parameter: failed to parse expression 'comp.x +'",
		},
		{
			name:     "missing variable",
			target:   "comp.nope",
			wantKind: engine.KindAttribute,
			wantErr:  "driver: Can't add parameter 'comp.nope' because it doesn't exist.",
		},
		{
			name:     "missing component",
			target:   "ghost.x",
			wantKind: engine.KindAttribute,
			wantErr:  "driver: Can't add parameter 'ghost.x' because it doesn't exist.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, _ := newFixture(t)

			err := set.Add(tt.target, WithLow(0), WithHigh(1))
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, engine.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Zero(t, set.GetParameters().Len())
		})
	}
}

// stubHandle is a Handle whose behavior is set per test.
type stubHandle struct {
	text    string
	value   any
	evalErr error
	setErr  error
	set     []any
	comps   []string
}

func (h *stubHandle) Text() string                     { return h.text }
func (h *stubHandle) IsValidAssignee() bool            { return true }
func (h *stubHandle) Metadata() (expr.Metadata, error) { return expr.Metadata{}, nil }
func (h *stubHandle) ReferencedComponents() []string   { return h.comps }

func (h *stubHandle) Evaluate(expr.Scope) (any, error) {
	return h.value, h.evalErr
}

func (h *stubHandle) Set(value any, _ expr.Scope) error {
	if h.setErr != nil {
		return h.setErr
	}
	h.set = append(h.set, value)
	h.value = value
	return nil
}

func TestSet_Add_EvaluateFailure(t *testing.T) {
	cause := errors.New("division by zero")
	resolver := func(text string, _ expr.Scope) (Handle, error) {
		return &stubHandle{text: text, evalErr: cause}, nil
	}
	set := NewSet(&testDriver{name: "driver"}, WithResolver(resolver))

	err := set.Add("comp.x", WithLow(0), WithHigh(1))
	require.Error(t, err)
	assert.True(t, engine.IsValueError(err))
	assert.Equal(t, "driver: Can't add parameter because I can't evaluate 'comp.x'.", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestSet_Add_Duplicates(t *testing.T) {
	set, _ := newFixture(t)

	require.NoError(t, set.Add("comp.x"))

	err := set.Add("comp.x")
	require.Error(t, err)
	assert.True(t, engine.IsValueError(err))
	assert.Equal(t, "driver: 'comp.x' is already the target of a Parameter", err.Error())

	err = set.AddGroup([]string{"comp.a", "comp.x"}, WithLow(0), WithHigh(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'comp.x' is already the target of a Parameter")

	require.NoError(t, set.AddGroup([]string{"comp.a", "comp.c"}, WithLow(0), WithHigh(1)))
	err = set.Add("comp.c", WithLow(0), WithHigh(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'comp.c' is already the target of a Parameter")

	err = set.AddGroup([]string{"comp.y", "comp.y"}, WithLow(0), WithHigh(1))
	require.Error(t, err)
	assert.True(t, engine.IsValueError(err))

	assert.Equal(t, []string{"comp.a", "comp.c", "comp.x"}, set.ListTargets())
}

func TestSet_AddGroup_Types(t *testing.T) {
	set, _ := newFixture(t)

	require.NoError(t, set.AddGroup([]string{"comp.a", "comp.b"}, WithLow(0), WithHigh(1)))

	key := GroupKey("comp.a", "comp.b")
	assert.Equal(t, Key("(comp.a, comp.b)"), key)

	entry, ok := set.GetParameters().Get(key)
	require.True(t, ok)
	group, ok := entry.(*Group)
	require.True(t, ok)
	assert.Equal(t, []string{"comp.a", "comp.b"}, group.Targets())

	err := set.AddGroup([]string{"comp.c", "comp.s"}, WithLow(0), WithHigh(1))
	require.Error(t, err)
	assert.True(t, engine.IsValueError(err))
	assert.Equal(t, "driver: Can not add parameter (comp.c, comp.s) because comp.c and comp.s are not the same type", err.Error())
	assert.Equal(t, 1, set.GetParameters().Len())
}

func TestSet_AddGroup_NoPartialState(t *testing.T) {
	set, _ := newFixture(t)

	// comp.x accepts the bounds, comp2.v does not.
	err := set.AddGroup([]string{"comp.x", "comp2.v"}, WithLow(-20), WithHigh(5))
	require.Error(t, err)
	assert.Zero(t, set.GetParameters().Len())
	assert.Empty(t, set.ListTargets())
}

func TestSet_AddGroup_Arity(t *testing.T) {
	set, _ := newFixture(t)

	err := set.AddGroup(nil)
	require.Error(t, err)
	assert.True(t, engine.IsValueError(err))

	require.NoError(t, set.AddGroup([]string{"comp.x"}))
	entry, ok := set.GetParameters().Get("comp.x")
	require.True(t, ok)
	assert.IsType(t, &Parameter{}, entry)
}

func TestSet_SetParameters(t *testing.T) {
	set, asm := newFixture(t)

	require.NoError(t, set.Add("comp.y", WithLow(-5), WithHigh(5)))
	require.NoError(t, set.Add("comp.x"))
	require.NoError(t, set.AddGroup([]string{"comp.a", "comp.c"}, WithLow(0), WithHigh(1)))

	assert.Equal(t, []Key{"(comp.a, comp.c)", "comp.x", "comp.y"}, set.ListParameters())
	assert.Equal(t, []Key{"comp.y", "comp.x", "(comp.a, comp.c)"}, set.GetParameters().Keys())

	err := set.SetParameters([]any{1.0})
	require.Error(t, err)
	assert.True(t, engine.IsValueError(err))
	assert.Contains(t, err.Error(), "number of input values (1) != number of parameters (3)")

	require.NoError(t, set.SetParameters([]any{1.5, 7.0, 0.25}))
	assert.Equal(t, 1.5, get(t, asm, "comp.y"))
	assert.Equal(t, 7.0, get(t, asm, "comp.x"))
	assert.Equal(t, 0.25, get(t, asm, "comp.a"))
	assert.Equal(t, 0.25, get(t, asm, "comp.c"))

	values, err := set.EvaluateParameters()
	require.NoError(t, err)
	assert.Equal(t, []any{1.5, 7.0, 0.25}, values)
}

func TestGroup_SetKeepsEarlierMembers(t *testing.T) {
	set, asm := newFixture(t)

	require.NoError(t, set.AddGroup([]string{"comp.a", "comp.x"}, WithLow(0), WithHigh(10)))

	// comp.x is declared in [0, 10]; comp.a has no declared range.
	err := set.SetParameters([]any{50.0})
	require.Error(t, err)
	assert.True(t, engine.IsValueError(err))
	assert.Equal(t, 50.0, get(t, asm, "comp.a"))
	assert.Equal(t, 1.0, get(t, asm, "comp.x"))
}

func TestSet_RemoveAndClear(t *testing.T) {
	set, _ := newFixture(t)

	err := set.RemoveParameter("comp.nope")
	require.Error(t, err)
	assert.True(t, engine.IsAttributeError(err))
	assert.Equal(t, "driver: Trying to remove parameter 'comp.nope' that is not in this driver.", err.Error())

	require.NoError(t, set.Add("comp.x"))
	require.NoError(t, set.AddGroup([]string{"comp.a", "comp.c"}, WithLow(0), WithHigh(1)))
	require.NoError(t, set.RemoveParameter("comp.x"))
	assert.Equal(t, []string{"comp.a", "comp.c"}, set.ListTargets())

	// comp.x can be added again once removed.
	require.NoError(t, set.Add("comp.x"))

	before := set.GetParameters()
	set.ClearParameters()
	assert.Empty(t, set.ListParameters())
	assert.Empty(t, set.ListTargets())
	assert.Equal(t, 2, before.Len())

	require.NoError(t, set.Add("comp.x"))
	assert.Equal(t, 1, set.GetParameters().Len())
}

func TestSet_GetExprDepends(t *testing.T) {
	set, _ := newFixture(t)

	require.NoError(t, set.Add("comp.x"))
	require.NoError(t, set.AddGroup([]string{"comp2.v", "comp.y", "comp.a"}, WithLow(0), WithHigh(1)))

	deps := set.GetExprDepends()
	want := []engine.Dependency{
		{Source: "driver", Target: "comp", Type: engine.DependencyParameter},
		{Source: "driver", Target: "comp2", Type: engine.DependencyParameter},
		{Source: "driver", Target: "comp", Type: engine.DependencyParameter},
	}
	assert.Equal(t, want, deps)
}

func TestSet_Logger(t *testing.T) {
	var buf bytes.Buffer
	set, _ := newFixture(t, WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	require.NoError(t, set.Add("comp.x", WithFDStep(0.01)))
	assert.Contains(t, buf.String(), `"message":"Parameter added"`)
	assert.Contains(t, buf.String(), `"key":"comp.x"`)
}

func TestParameter_Representation(t *testing.T) {
	set, _ := newFixture(t)
	require.NoError(t, set.Add("comp.x", WithLow(2), WithFDStep(0.01)))

	entry, _ := set.GetParameters().Get("comp.x")
	p := entry.(*Parameter)

	assert.Equal(t, "comp.x", p.String())
	assert.Equal(t, "<Parameter(target=comp.x,low=2,high=10,fd_step=0.01)>", fmt.Sprintf("%#v", p))

	low, err := p.MetadataField("low")
	require.NoError(t, err)
	assert.Equal(t, 0.0, low)

	_, err = p.MetadataField("color")
	require.Error(t, err)
	assert.True(t, engine.IsAttributeError(err))
}

func TestNewParameter_InvalidAssignee(t *testing.T) {
	_, asm := newFixture(t)

	e, err := expr.New("comp.x * 2", asm)
	require.NoError(t, err)

	_, err = NewParameter(e, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, engine.IsValueError(err))
	assert.Equal(t, "Parameter 'comp.x * 2' cannot be assigned to", err.Error())
}

func TestGroup_Bounds(t *testing.T) {
	h := &stubHandle{text: "a"}
	g := NewGroup([]*Parameter{
		{Low: expr.Float(0), High: expr.Float(10), handle: h},
		{Low: expr.Float(2), High: expr.Float(12), handle: h},
		{Low: nil, High: expr.Float(8), handle: h},
	})

	low, high := g.Bounds()
	assert.Equal(t, 2.0, *low)
	assert.Equal(t, 8.0, *high)

	empty := NewGroup(nil)
	_, err := empty.Evaluate(nil)
	assert.Error(t, err)
}

func TestGroup_SetStopsAtFailure(t *testing.T) {
	first := &stubHandle{text: "a", value: 0.0}
	second := &stubHandle{text: "b", value: 0.0, setErr: errors.New("read only")}
	third := &stubHandle{text: "c", value: 0.0}

	g := NewGroup([]*Parameter{{handle: first}, {handle: second}, {handle: third}})
	err := g.Set(3.0, nil)
	require.Error(t, err)

	assert.Equal(t, []any{3.0}, first.set)
	assert.Empty(t, third.set)

	v, err := g.Evaluate(nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
}
