package expr

import (
	"fmt"
	"strings"

	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/openfroyo/mdao/pkg/engine"
)

// Expr is an expression bound to a scope. Simple variable paths such as
// comp.x or comp.arr[1] are assignable and resolve directly against the
// scope; anything else is evaluated with Starlark.
type Expr struct {
	text  string
	scope Scope
	ast   syntax.Expr
	ref   *Ref
	comps []string
}

// New parses text and binds it to scope. Parsing happens once; the variables
// it names are not looked up until the expression is used.
func New(text string, scope Scope) (*Expr, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, engine.NewValueError("empty expression", nil).
			WithCode(engine.ErrCodeSyntax)
	}

	ast, err := syntax.ParseExpr("<expr>", text, 0)
	if err != nil {
		return nil, engine.NewValueError(
			fmt.Sprintf("failed to parse expression '%s'", text), err,
		).WithCode(engine.ErrCodeSyntax)
	}

	e := &Expr{
		text:  text,
		scope: scope,
		ast:   ast,
	}
	if ref, ok := assignee(ast); ok {
		e.ref = &ref
	}
	e.comps = referencedRoots(ast, scope)

	return e, nil
}

// Text returns the expression as written.
func (e *Expr) Text() string {
	return e.text
}

// String implements fmt.Stringer.
func (e *Expr) String() string {
	return e.text
}

// Ref returns the variable reference of an assignable expression.
func (e *Expr) Ref() (Ref, bool) {
	if e.ref == nil {
		return Ref{}, false
	}
	return *e.ref, true
}

// IsValidAssignee reports whether the expression names a single variable.
func (e *Expr) IsValidAssignee() bool {
	return e.ref != nil
}

// Evaluate returns the current value of the expression in scope, or in the
// bound scope when scope is nil.
func (e *Expr) Evaluate(scope Scope) (any, error) {
	scope = e.pick(scope)
	if scope == nil {
		return nil, engine.NewValueError(fmt.Sprintf("no scope to evaluate '%s' in", e.text), nil)
	}

	if e.ref != nil {
		return scope.Get(*e.ref)
	}

	env := starlark.StringDict{"math": math.Module}
	for _, name := range e.comps {
		env[name] = &componentValue{name: name, scope: scope}
	}

	thread := &starlark.Thread{Name: "expr"}
	val, err := starlark.EvalExpr(thread, e.ast, env)
	if err != nil {
		return nil, engine.NewValueError(fmt.Sprintf("can't evaluate '%s'", e.text), err).
			WithCode(engine.ErrCodeWrapped)
	}
	return FromStarlark(val)
}

// Set writes value to the variable named by the expression.
func (e *Expr) Set(value any, scope Scope) error {
	if e.ref == nil {
		return engine.NewValueError(fmt.Sprintf("'%s' is not a valid assignment target", e.text), nil)
	}
	scope = e.pick(scope)
	if scope == nil {
		return engine.NewValueError(fmt.Sprintf("no scope to set '%s' in", e.text), nil)
	}
	return scope.Set(*e.ref, value)
}

// Metadata returns the declared metadata of the variable named by the
// expression.
func (e *Expr) Metadata() (Metadata, error) {
	if e.ref == nil {
		return Metadata{}, engine.NewAttributeError(
			fmt.Sprintf("'%s' does not name a variable", e.text), nil,
		)
	}
	if e.scope == nil {
		return Metadata{}, engine.NewAttributeError(fmt.Sprintf("'%s' is not bound to a scope", e.text), nil)
	}
	return e.scope.Metadata(*e.ref)
}

// ReferencedComponents returns the distinct component names the expression
// mentions, in the order they first appear.
func (e *Expr) ReferencedComponents() []string {
	return append([]string(nil), e.comps...)
}

func (e *Expr) pick(scope Scope) Scope {
	if scope != nil {
		return scope
	}
	return e.scope
}

// assignee reports whether ast is a plain path with optional integer
// subscripts, and returns it as a Ref.
func assignee(ast syntax.Expr) (Ref, bool) {
	var index []int
	for {
		ie, ok := ast.(*syntax.IndexExpr)
		if !ok {
			break
		}
		lit, ok := ie.Y.(*syntax.Literal)
		if !ok || lit.Token != syntax.INT {
			return Ref{}, false
		}
		n, ok := lit.Value.(int64)
		if !ok || n < 0 {
			return Ref{}, false
		}
		index = append([]int{int(n)}, index...)
		ast = ie.X
	}

	var path []string
	for {
		switch node := ast.(type) {
		case *syntax.Ident:
			path = append([]string{node.Name}, path...)
			return Ref{Path: path, Index: index}, true
		case *syntax.DotExpr:
			path = append([]string{node.Name.Name}, path...)
			ast = node.X
		default:
			return Ref{}, false
		}
	}
}

// referencedRoots collects the root identifiers of every dotted path in ast
// that scope knows as a component.
func referencedRoots(ast syntax.Expr, scope Scope) []string {
	var names []string
	seen := make(map[string]bool)

	add := func(name string) {
		if seen[name] {
			return
		}
		if scope != nil && !scope.Contains(name) {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	var collect func(n syntax.Expr)
	collect = func(n syntax.Expr) {
		switch node := n.(type) {
		case *syntax.Ident:
			add(node.Name)
		case *syntax.DotExpr:
			collect(node.X)
		default:
			syntax.Walk(n, func(child syntax.Node) bool {
				if child == n {
					return true
				}
				if ce, ok := child.(syntax.Expr); ok {
					collect(ce)
					return false
				}
				return true
			})
		}
	}
	collect(ast)

	return names
}
