package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/expr"
)

// DefaultExecTimeout bounds a single evaluation of an ExecComp.
const DefaultExecTimeout = 30 * time.Second

// ExecComp computes its outputs from Starlark equations such as
// "f = math.pow(x - 3.0, 2) + x * y". Inputs are visible by name, and every
// output assigned by the equations is copied back into its variable.
type ExecComp struct {
	*Base

	equations []string
	program   string
	timeout   time.Duration
}

// NewExecComp creates an ExecComp. The equations are checked for syntax
// immediately.
func NewExecComp(name string, equations []string, timeout time.Duration) (*ExecComp, error) {
	if timeout == 0 {
		timeout = DefaultExecTimeout
	}
	program := strings.Join(equations, "\n") + "\n"

	if _, err := syntax.Parse(name+".star", program, 0); err != nil {
		return nil, engine.NewValueError("invalid equations", err).
			WithComponent(name).
			WithCode(engine.ErrCodeSyntax)
	}

	return &ExecComp{
		Base:      NewBase(name),
		equations: append([]string(nil), equations...),
		program:   program,
		timeout:   timeout,
	}, nil
}

// Equations returns the equations as given.
func (c *ExecComp) Equations() []string {
	return append([]string(nil), c.equations...)
}

// Execute evaluates the equations, cancelling the Starlark thread when ctx
// is done or the timeout expires.
func (c *ExecComp) Execute(ctx context.Context) error {
	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: c.Name(),
		Print: func(_ *starlark.Thread, msg string) {
			// Equations have no output channel
		},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-execCtx.Done():
			thread.Cancel(execCtx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"math":   math.Module,
		"struct": starlarkstruct.Default,
	}
	for _, v := range c.Inputs() {
		sv, err := expr.ToStarlark(v.Value())
		if err != nil {
			return engine.NewValueError(fmt.Sprintf("failed to convert input %s", v.Name), err).
				WithComponent(c.Name()).
				WithCode(engine.ErrCodeWrapped)
		}
		predeclared[v.Name] = sv
	}

	globals, err := starlark.ExecFile(thread, c.Name()+".star", c.program, predeclared)
	if err != nil {
		return engine.NewValueError("equation evaluation failed", err).
			WithComponent(c.Name()).
			WithCode(engine.ErrCodeWrapped)
	}

	for _, v := range c.Outputs() {
		sv, ok := globals[v.Name]
		if !ok {
			continue
		}
		goVal, err := expr.FromStarlark(sv)
		if err != nil {
			return engine.NewValueError(fmt.Sprintf("failed to convert output %s", v.Name), err).
				WithComponent(c.Name()).
				WithCode(engine.ErrCodeWrapped)
		}
		if err := v.Set(goVal); err != nil {
			return engine.Raise(c.Name(), fmt.Sprintf("can't set output %s", v.Name), err)
		}
	}

	return nil
}
