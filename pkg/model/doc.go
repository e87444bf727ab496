// Package model provides the components and assemblies that driver
// parameters act on.
//
// An Assembly owns named components and the connections between their
// variables, and implements expr.Scope so that a path such as paraboloid.x
// resolves to a Variable. Variables carry declared metadata (low, high,
// enumerated values, units) and reject values that violate it.
//
// Assemblies are usually loaded from YAML:
//
//	name: top
//	components:
//	  - name: paraboloid
//	    kind: exec
//	    equations:
//	      - "f_xy = math.pow(x - 3.0, 2) + x * y + math.pow(y + 4.0, 2) - 3.0"
//	    variables:
//	      - {name: x, type: float, low: -50, high: 50}
//	      - {name: y, type: float, low: -50, high: 50}
//	      - {name: f_xy, type: float, iotype: out}
//
// Run executes each component once, in the level order computed by
// engine.DAGBuilder.
package model
