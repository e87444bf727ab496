// Package params manages the tunable parameters of a driver.
//
// A Set is the ordered catalog of parameters owned by a driver (an Owner).
// Each entry is either a single *Parameter or a *Group of parameters that are
// driven by one shared value:
//
//	set := params.NewSet(driver)
//	err := set.Add("paraboloid.x", params.WithLow(-50), params.WithHigh(50))
//	err = set.AddGroup([]string{"wing.span", "tail.span"}, params.WithLow(1), params.WithHigh(4))
//	err = set.SetParameters([]any{3.0, 2.5})
//
// Add validates eagerly: the target must exist, hold a number, and have both
// bounds after merging the supplied bounds with the variable's declared ones.
// Supplied bounds may narrow but never widen the declared range. Variables
// with enumerated values need no bounds. On any failure the Set is left
// unchanged, and the error carries the owner's name and an engine.ErrorKind.
//
// ListParameters is sorted for display. SetParameters, EvaluateParameters and
// GetParameters follow insertion order.
package params
