// Package config loads and validates study files.
//
// # Overview
//
// A study names a model, a driver with its parameters, the cases to run and
// the recorders that receive them. Studies are written in YAML (or JSON) or
// in CUE. Every study is unified with the built-in #Study CUE definition,
// checked against the struct validation tags and then against the rules the
// two cannot express, such as a lower bound above an upper bound.
//
// # Components
//
// Loader: Reads a study file, validates it and resolves relative paths
// against the file's directory.
//
// SchemaRegistry: Holds CUE definitions used for validation. Custom schemas
// can be registered next to the built-in #Study, #Parameter, #Cases and
// #Recorder definitions.
//
// StarlarkEvaluator: Runs case scripts with a time limit. A script defines a
// global "cases" list; linspace and product are predeclared for building
// sweeps.
//
// # Study File Structure
//
//	name: paraboloid-sweep
//	model: model.yaml
//	driver:
//	  name: driver
//	parameters:
//	  - target: comp1.x
//	    low: -10
//	    high: 10
//	  - targets: [comp2.a, comp3.a]
//	cases:
//	  file: cases.csv
//	  script: |
//	    cases = [{"comp1.x": x} for x in linspace(-10, 10, 21)]
//	outputs: [comp1.y]
//	recorders:
//	  - type: csv
//	    path: results.csv
//
// # Error Handling
//
// Invalid studies produce ValidationErrors. Each entry carries the file, the
// position when CUE knows it, the field path and a message:
//
//	study, err := config.NewLoader(logger).LoadFile(ctx, "study.yaml")
//	var verrs config.ValidationErrors
//	if errors.As(err, &verrs) {
//	    for _, ve := range verrs {
//	        fmt.Println(ve)
//	    }
//	}
package config
