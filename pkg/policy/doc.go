// Package policy checks studies against Open Policy Agent (OPA) policies
// before they run.
//
// Policies are written in Rego. Each policy declares a "deny" set in its
// package; every entry is a violation. Entries are either strings or objects
// with "message", "subject" and "severity" fields.
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := engine.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//
//	result, err := engine.Evaluate(ctx, &policy.Input{Study: studyInput})
//	if err != nil {
//	    return err
//	}
//	if err := result.Err(); err != nil {
//	    return err // a blocking violation
//	}
//
// # Input Document
//
// Policies see the study as input.study: its name, model, driver, component
// names, parameters with resolved bounds, outputs, recorders and case count.
// input.context carries the operation, user and timestamp.
// data.mdao.limits holds engine limits such as max_cases.
//
// # Built-in Policies
//
//  1. study-naming - Study names use lowercase letters, numbers and hyphens
//  2. parameter-bounds - Parameters are bounded and fd_step fits the range
//  3. recorders - Studies that run cases record them
//  4. case-limits - Studies stay under data.mdao.limits.max_cases
//  5. output-uniqueness - Outputs are not recorded twice
//
// # Custom Policies
//
//	# Sweeps must bound comp1.x tightly
//	# severity: error
//	package custom.bounds
//
//	import rego.v1
//
//	deny contains violation if {
//	    some p in input.study.parameters
//	    p.key == "comp1.x"
//	    p.high - p.low > 100
//	    violation := {"message": "comp1.x range too wide", "subject": p.key}
//	}
//
// # Severity Levels
//
//   - info: Informational messages
//   - warning: Findings to review; the run proceeds
//   - error: Violations that block the run
//   - critical: Severe violations that block the run
//
// # Hot Reload
//
// Engine.Watch loads the policies under a set of paths and reloads them when
// a policy file is written, created, removed or renamed. A reload that fails
// to compile leaves the previous policies in place.
package policy
