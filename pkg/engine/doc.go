// Package engine provides the shared error model and the component
// dependency graph used across mdao.
//
// # Error Classification
//
// Errors raised while configuring a study are classified by kind:
//
//   - KindValue: an invalid value, target, bound, type or length
//   - KindAttribute: a named variable, component or parameter does not exist
//
// An owner (a driver, an assembly) tags errors with its own name so that the
// message identifies the component that raised it:
//
//	err := engine.Raise("driver", "Can't add parameter", cause)
//	if engine.IsAttributeError(err) {
//	    // the target does not exist
//	}
//
// # Dependency Graph
//
// DAGBuilder turns component names and Dependency edges into a leveled Graph.
// Edges come from two sources:
//
//   - DependencyData: connections between component variables
//   - DependencyParameter: a driver varying comp.x depends on comp
//
// Cycles are rejected with a value error naming the cycle. Nodes inside a level
// are sorted by name, so Graph.Order is reproducible between runs.
//
//	builder := engine.NewDAGBuilder()
//	graph, err := builder.BuildGraph(names, deps)
//	fmt.Print(builder.ToDOT())
package engine
