package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/expr"
)

// Connection links an output variable to an input variable of another
// component.
type Connection struct {
	From string `json:"from" yaml:"from" validate:"required"`
	To   string `json:"to" yaml:"to" validate:"required"`
}

// Assembly is a named set of components and the connections between them.
// It is the Scope that driver parameters resolve against.
type Assembly struct {
	name       string
	components []Component
	byName     map[string]Component
	conns      []Connection
	connected  map[string]string
	parallel   int
	logger     zerolog.Logger
}

var _ expr.Scope = (*Assembly)(nil)

// NewAssembly creates an empty assembly.
func NewAssembly(name string, logger zerolog.Logger) *Assembly {
	return &Assembly{
		name:      name,
		byName:    make(map[string]Component),
		connected: make(map[string]string),
		parallel:  1,
		logger:    logger.With().Str("assembly", name).Logger(),
	}
}

// Name implements expr.Scope.
func (a *Assembly) Name() string {
	return a.name
}

// Add adds a component. Names must be unique.
func (a *Assembly) Add(c Component) error {
	if c.Name() == "" {
		return engine.NewValueError("component name is required", nil).
			WithComponent(a.name).
			WithCode(engine.ErrCodeValidation)
	}
	if _, exists := a.byName[c.Name()]; exists {
		return engine.NewValueError(fmt.Sprintf("component '%s' already exists", c.Name()), nil).
			WithComponent(a.name).
			WithCode(engine.ErrCodeAlreadyExists)
	}
	a.components = append(a.components, c)
	a.byName[c.Name()] = c
	return nil
}

// Component returns the named component.
func (a *Assembly) Component(name string) (Component, error) {
	c, ok := a.byName[name]
	if !ok {
		return nil, engine.NewAttributeError(fmt.Sprintf("'%s' has no component '%s'", a.name, name), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	return c, nil
}

// Components returns the components in insertion order.
func (a *Assembly) Components() []Component {
	return append([]Component(nil), a.components...)
}

// ComponentNames returns the component names in insertion order.
func (a *Assembly) ComponentNames() []string {
	names := make([]string, len(a.components))
	for i, c := range a.components {
		names[i] = c.Name()
	}
	return names
}

// Contains implements expr.Scope.
func (a *Assembly) Contains(name string) bool {
	_, ok := a.byName[name]
	return ok
}

// Connect links the output variable from to the input variable to. An input
// can be connected only once.
func (a *Assembly) Connect(from, to string) error {
	src, srcRef, err := a.resolveText(from)
	if err != nil {
		return err
	}
	dst, dstRef, err := a.resolveText(to)
	if err != nil {
		return err
	}

	if src.IOType != IOOut {
		return engine.NewValueError(fmt.Sprintf("can't connect from '%s': it is not an output", from), nil).
			WithComponent(a.name).
			WithCode(engine.ErrCodeValidation)
	}
	if dst.IOType != IOIn {
		return engine.NewValueError(fmt.Sprintf("can't connect to '%s': it is not an input", to), nil).
			WithComponent(a.name).
			WithCode(engine.ErrCodeValidation)
	}
	if srcRef.Root() == dstRef.Root() {
		return engine.NewValueError(fmt.Sprintf("can't connect '%s' to '%s' on the same component", from, to), nil).
			WithComponent(a.name).
			WithCode(engine.ErrCodeValidation)
	}
	if prev, ok := a.connected[dstRef.String()]; ok {
		return engine.NewValueError(fmt.Sprintf("'%s' is already connected to '%s'", to, prev), nil).
			WithComponent(a.name).
			WithCode(engine.ErrCodeAlreadyExists)
	}

	a.conns = append(a.conns, Connection{From: srcRef.String(), To: dstRef.String()})
	a.connected[dstRef.String()] = srcRef.String()
	return nil
}

// Connections returns the connections in the order they were made.
func (a *Assembly) Connections() []Connection {
	return append([]Connection(nil), a.conns...)
}

// Dependencies returns one data dependency per connected component pair.
func (a *Assembly) Dependencies() []engine.Dependency {
	deps := make([]engine.Dependency, 0, len(a.conns))
	for _, c := range a.conns {
		deps = append(deps, engine.Dependency{
			Source: rootOf(c.From),
			Target: rootOf(c.To),
			Type:   engine.DependencyData,
		})
	}
	return deps
}

// Graph builds the dependency graph of the components, with any extra
// dependencies added, for example those a driver reports.
func (a *Assembly) Graph(extraNodes []string, extra []engine.Dependency) (*engine.Graph, *engine.DAGBuilder, error) {
	nodes := append(a.ComponentNames(), extraNodes...)
	deps := append(a.Dependencies(), extra...)

	builder := engine.NewDAGBuilder()
	graph, err := builder.BuildGraph(nodes, deps)
	if err != nil {
		return nil, nil, engine.Raise(a.name, "failed to build dependency graph", err)
	}
	return graph, builder, nil
}

// SetMaxParallel sets how many independent components Run may execute at
// the same time. Values below one run components one at a time.
func (a *Assembly) SetMaxParallel(n int) {
	if n < 1 {
		n = 1
	}
	a.parallel = n
}

// MaxParallel returns the component concurrency limit.
func (a *Assembly) MaxParallel() int {
	return a.parallel
}

// Run executes every component once in dependency order, copying connected
// outputs to inputs before each component runs. Components on the same
// graph level run concurrently, up to the MaxParallel limit.
func (a *Assembly) Run(ctx context.Context) error {
	graph, _, err := a.Graph(nil, nil)
	if err != nil {
		return err
	}

	scheduler := engine.NewLevelScheduler(a.parallel)
	return scheduler.Execute(ctx, graph, func(ctx context.Context, name string) error {
		comp := a.byName[name]
		if err := a.pull(comp); err != nil {
			return err
		}

		a.logger.Debug().Str("component", name).Msg("Executing component")
		if err := comp.Execute(ctx); err != nil {
			return engine.Raise(a.name, fmt.Sprintf("component '%s' failed", name), err)
		}
		return nil
	})
}

// pull copies the source value of every connection that targets comp.
func (a *Assembly) pull(comp Component) error {
	for _, c := range a.conns {
		if rootOf(c.To) != comp.Name() {
			continue
		}
		src, _, err := a.resolveText(c.From)
		if err != nil {
			return err
		}
		dst, _, err := a.resolveText(c.To)
		if err != nil {
			return err
		}
		if err := dst.Set(src.Value()); err != nil {
			return engine.Raise(a.name, fmt.Sprintf("can't pass %s to %s", c.From, c.To), err)
		}
	}
	return nil
}

// Get implements expr.Scope.
func (a *Assembly) Get(ref expr.Ref) (any, error) {
	v, err := a.resolve(ref)
	if err != nil {
		return nil, err
	}
	if len(ref.Index) > 0 {
		return v.Element(ref.Index)
	}
	return v.Value(), nil
}

// Set implements expr.Scope. Connected inputs and outputs cannot be set from
// outside.
func (a *Assembly) Set(ref expr.Ref, value any) error {
	v, err := a.resolve(ref)
	if err != nil {
		return err
	}

	base := expr.Ref{Path: ref.Path}
	if src, ok := a.connected[base.String()]; ok {
		return engine.NewValueError(
			fmt.Sprintf("'%s' is connected to '%s' and cannot be set directly", base.String(), src), nil,
		).WithComponent(a.name)
	}
	if v.IOType == IOOut {
		return engine.NewValueError(fmt.Sprintf("can't set output '%s'", base.String()), nil).
			WithComponent(a.name)
	}

	if len(ref.Index) > 0 {
		err = v.SetElement(ref.Index, value)
	} else {
		err = v.Set(value)
	}
	if err != nil {
		return engine.Raise(ref.Root(), "", err)
	}
	return nil
}

// Metadata implements expr.Scope.
func (a *Assembly) Metadata(ref expr.Ref) (expr.Metadata, error) {
	v, err := a.resolve(ref)
	if err != nil {
		return expr.Metadata{}, err
	}
	return v.Metadata(), nil
}

// resolve finds the variable a reference points at.
func (a *Assembly) resolve(ref expr.Ref) (*Variable, error) {
	if len(ref.Path) != 2 {
		return nil, engine.NewAttributeError(
			fmt.Sprintf("'%s' is not of the form component.variable", ref.String()), nil,
		).WithCode(engine.ErrCodeNotFound)
	}
	comp, err := a.Component(ref.Root())
	if err != nil {
		return nil, err
	}
	v, ok := comp.Variable(ref.Name())
	if !ok {
		return nil, engine.NewAttributeError(
			fmt.Sprintf("'%s' has no variable '%s'", comp.Name(), ref.Name()), nil,
		).WithCode(engine.ErrCodeNotFound)
	}
	return v, nil
}

func (a *Assembly) resolveText(text string) (*Variable, expr.Ref, error) {
	e, err := expr.New(text, a)
	if err != nil {
		return nil, expr.Ref{}, err
	}
	ref, ok := e.Ref()
	if !ok || len(ref.Index) > 0 {
		return nil, expr.Ref{}, engine.NewValueError(
			fmt.Sprintf("'%s' must name a whole variable", text), nil,
		).WithComponent(a.name)
	}
	v, err := a.resolve(ref)
	if err != nil {
		return nil, expr.Ref{}, err
	}
	return v, ref, nil
}

func rootOf(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}
