package params

import (
	"fmt"

	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/expr"
)

// Handle is a resolved reference to a model variable.
type Handle interface {
	// Text returns the path as written, for example "comp.x".
	Text() string

	// Evaluate returns the current value in scope, or in the handle's own
	// scope when scope is nil.
	Evaluate(scope expr.Scope) (any, error)

	// Set writes value in scope, or in the handle's own scope when scope is nil.
	Set(value any, scope expr.Scope) error

	// IsValidAssignee reports whether the handle names a settable variable.
	IsValidAssignee() bool

	// Metadata returns the variable's declared metadata.
	Metadata() (expr.Metadata, error)

	// ReferencedComponents returns the component names the handle mentions.
	ReferencedComponents() []string
}

// Entry is a registered parameter: a single *Parameter or a *Group.
type Entry interface {
	Targets() []string
	Set(value any, scope expr.Scope) error
	Evaluate(scope expr.Scope) (any, error)
	ReferencedComponents() []string
}

// Parameter is one bounded, steppable handle to a target variable.
type Parameter struct {
	// Low and High bound the values a driver may choose. Nil means unbounded.
	Low  *float64
	High *float64

	// FDStep is the finite difference step, stored for gradient estimators.
	FDStep *float64

	handle Handle
}

var (
	_ Entry = (*Parameter)(nil)
	_ Entry = (*Group)(nil)
)

// NewParameter wraps h. It fails when h is not a valid assignment target.
// Bounds are stored as given.
func NewParameter(h Handle, low, high, fdStep *float64) (*Parameter, error) {
	if !h.IsValidAssignee() {
		return nil, engine.NewValueError(fmt.Sprintf("Parameter '%s' cannot be assigned to", h.Text()), nil).
			WithCode(engine.ErrCodeValidation)
	}
	return &Parameter{
		Low:    low,
		High:   high,
		FDStep: fdStep,
		handle: h,
	}, nil
}

// Target returns the path of the variable.
func (p *Parameter) Target() string {
	return p.handle.Text()
}

// Targets implements Entry.
func (p *Parameter) Targets() []string {
	return []string{p.handle.Text()}
}

// Evaluate returns the current value of the target.
func (p *Parameter) Evaluate(scope expr.Scope) (any, error) {
	return p.handle.Evaluate(scope)
}

// Set writes value to the target.
func (p *Parameter) Set(value any, scope expr.Scope) error {
	return p.handle.Set(value, scope)
}

// Metadata returns the declared metadata of the target.
func (p *Parameter) Metadata() (expr.Metadata, error) {
	return p.handle.Metadata()
}

// MetadataField returns one named metadata field of the target.
func (p *Parameter) MetadataField(name string) (any, error) {
	meta, err := p.handle.Metadata()
	if err != nil {
		return nil, err
	}
	v, ok := meta.Field(name)
	if !ok {
		return nil, engine.NewAttributeError(fmt.Sprintf("'%s' has no metadata '%s'", p.Target(), name), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	return v, nil
}

// ReferencedComponents implements Entry.
func (p *Parameter) ReferencedComponents() []string {
	return p.handle.ReferencedComponents()
}

// String returns the target.
func (p *Parameter) String() string {
	return p.Target()
}

// GoString shows the target and bounds, for %#v.
func (p *Parameter) GoString() string {
	return fmt.Sprintf("<Parameter(target=%s,low=%s,high=%s,fd_step=%s)>",
		p.Target(), formatOptional(p.Low), formatOptional(p.High), formatOptional(p.FDStep))
}
