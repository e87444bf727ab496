package model

import (
	"context"
	"fmt"

	"github.com/openfroyo/mdao/pkg/engine"
)

// Component is a named unit of a model that owns variables.
type Component interface {
	// Name returns the component name, unique within an assembly.
	Name() string

	// Variables returns the variables in declaration order.
	Variables() []*Variable

	// Variable returns the variable with the given name.
	Variable(name string) (*Variable, bool)

	// Execute computes the outputs from the current inputs.
	Execute(ctx context.Context) error
}

// Base holds the variables of a component and does nothing on Execute.
// It is used for independent variable holders and embedded by other kinds.
type Base struct {
	name   string
	vars   []*Variable
	byName map[string]*Variable
}

// NewBase creates an empty component.
func NewBase(name string) *Base {
	return &Base{
		name:   name,
		byName: make(map[string]*Variable),
	}
}

// Name implements Component.
func (b *Base) Name() string {
	return b.name
}

// AddVariable adds v to the component.
func (b *Base) AddVariable(v *Variable) error {
	if _, exists := b.byName[v.Name]; exists {
		return engine.NewValueError(
			fmt.Sprintf("variable '%s' already exists", v.Name), nil,
		).WithComponent(b.name).WithCode(engine.ErrCodeAlreadyExists)
	}
	b.vars = append(b.vars, v)
	b.byName[v.Name] = v
	return nil
}

// Variables implements Component.
func (b *Base) Variables() []*Variable {
	return append([]*Variable(nil), b.vars...)
}

// Variable implements Component.
func (b *Base) Variable(name string) (*Variable, bool) {
	v, ok := b.byName[name]
	return v, ok
}

// Execute implements Component.
func (b *Base) Execute(ctx context.Context) error {
	return ctx.Err()
}

// Inputs returns the variables with iotype "in".
func (b *Base) Inputs() []*Variable {
	return b.filter(IOIn)
}

// Outputs returns the variables with iotype "out".
func (b *Base) Outputs() []*Variable {
	return b.filter(IOOut)
}

func (b *Base) filter(iotype string) []*Variable {
	var out []*Variable
	for _, v := range b.vars {
		if v.IOType == iotype {
			out = append(out, v)
		}
	}
	return out
}
