// Package expr resolves variable paths and expressions against a Scope.
//
// A path such as comp.x or comp.arr[2] is assignable: Evaluate and Set go
// straight to the scope. Any other expression, for example comp.x * 2 or
// math.sqrt(a.y), is parsed with go.starlark.net/syntax and evaluated with
// Starlark, with each referenced component exposed as an object whose
// attributes are its variables.
package expr
