package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Each schema is a CUE
// definition, such as #Study, looked up in the source it was registered
// with.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// Built-in schemas are constants and always compile.
	for name, def := range map[string]string{
		"study":     "#Study",
		"parameter": "#Parameter",
		"recorder":  "#Recorder",
		"cases":     "#Cases",
	} {
		if err := sr.RegisterSchema(name, def, builtinStudySchema); err != nil {
			panic(err)
		}
	}

	return sr
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, definition)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Context returns the CUE context schemas are compiled in. Values validated
// against them must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// Validate unifies val with the named schema and requires a concrete result.
func (sr *SchemaRegistry) Validate(schemaName string, val cue.Value) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if err := sr.Validate(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions

const builtinStudySchema = `
#Name: string & =~"^[a-zA-Z_][a-zA-Z0-9_.-]*$"

#Study: {
	name:  #Name
	model: string & !=""

	driver: {
		name:          string & =~"^[a-zA-Z_][a-zA-Z0-9_]*$"
		exec_timeout?: string
	}

	parameters?: [...#Parameter]
	cases?:      #Cases
	outputs?: [...string]
	recorders?: [...#Recorder]

	policy?: {
		enabled: bool
		paths?: [...string]
		on_violation?: "warn" | "fail"
	}

	store?: {
		path: string & !=""
	}

	telemetry?: {
		log_level?:       "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?:      "console" | "json"
		trace_exporter?:  "otlp" | "stdout" | "none"
		trace_endpoint?:  string
		sampling_rate?:   number & >=0 & <=1
		metrics_address?: string
	}
}

#Parameter: {
	target?: string & !=""
	targets?: [string & !="", ...string & !=""]
	low?:     number
	high?:    number
	fd_step?: number & >0
}

#Cases: {
	inline?: [...{
		label?: string
		inputs: {[string]: _}
	}]
	file?:      string
	delimiter?: string
	headers?: [...string]
	script?: string
}

#Recorder: {
	type:       "list" | "dump" | "csv" | "db"
	path?:      string
	delimiter?: string
}
`
