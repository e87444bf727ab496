package config

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Study file formats.
const (
	FormatYAML = "yaml"
	FormatCUE  = "cue"
)

// FormatOf returns the study format for a file name. JSON is read as YAML.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported study file extension %q", filepath.Ext(path))
	}
}

// Loader reads study files. Every study is checked against the #Study CUE
// schema and the struct validation tags before it is returned.
type Loader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
	scripts   *StarlarkEvaluator
	logger    zerolog.Logger
}

// NewLoader creates a study loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
		scripts:   NewStarlarkEvaluator(30*time.Second, logger),
		logger:    logger,
	}
}

// SchemaRegistry returns the schema registry.
func (l *Loader) SchemaRegistry() *SchemaRegistry {
	return l.schemas
}

// LoadFile reads, validates and resolves a study file. Relative paths in the
// study are resolved against the file's directory, and a case script is run
// to produce its cases.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Study, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read study file: %w", err)
	}

	study, err := l.Load(ctx, content, format, path)
	if err != nil {
		return nil, err
	}

	study.SourceFile = path
	study.Resolve(filepath.Dir(path))
	return study, nil
}

// Load decodes and validates study content. filename is used for error
// positions only.
func (l *Loader) Load(ctx context.Context, content []byte, format, filename string) (*Study, error) {
	var (
		study *Study
		err   error
	)
	switch format {
	case FormatYAML:
		study, err = l.decodeYAML(content, filename)
	case FormatCUE:
		study, err = l.decodeCUE(content, filename)
	default:
		return nil, fmt.Errorf("unsupported study format %q", format)
	}
	if err != nil {
		return nil, err
	}

	if err := l.validator.Struct(study); err != nil {
		return nil, l.convertValidatorErrors(err, filename)
	}
	if errs := checkStudy(study, filename); len(errs) > 0 {
		return nil, errs
	}

	if study.Cases.Script != "" {
		generated, err := l.scripts.GenerateCases(ctx, study.Cases.Script, map[string]interface{}{
			"study":      study.Name,
			"parameters": study.parameterNames(),
		})
		if err != nil {
			return nil, ValidationErrors{{
				File:     filename,
				Path:     "cases.script",
				Message:  err.Error(),
				Severity: "error",
			}}
		}
		study.Cases.Generated = normalizeCases(generated)
		l.logger.Debug().Int("cases", len(generated)).Str("study", study.Name).Msg("Generated cases from script")
	}
	study.Cases.Inline = normalizeCases(study.Cases.Inline)

	return study, nil
}

func (l *Loader) decodeYAML(content []byte, filename string) (*Study, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, ValidationErrors{{
			File:     filename,
			Message:  fmt.Sprintf("failed to parse YAML: %v", err),
			Severity: "error",
		}}
	}
	if raw == nil {
		return nil, ValidationErrors{{
			File:     filename,
			Message:  "study file is empty",
			Severity: "error",
		}}
	}

	val := l.schemas.Context().Encode(raw)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode study: %w", err)
	}
	if err := l.schemas.Validate("study", val); err != nil {
		return nil, convertCUEErrors(err, filename)
	}

	var study Study
	if err := yaml.Unmarshal(content, &study); err != nil {
		return nil, ValidationErrors{{
			File:     filename,
			Message:  fmt.Sprintf("failed to decode study: %v", err),
			Severity: "error",
		}}
	}
	return &study, nil
}

func (l *Loader) decodeCUE(content []byte, filename string) (*Study, error) {
	val := l.schemas.Context().CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err, filename)
	}

	schema, _ := l.schemas.GetSchema("study")
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err, filename)
	}

	var study Study
	if err := unified.Decode(&study); err != nil {
		return nil, convertCUEErrors(err, filename)
	}
	return &study, nil
}

// Resolve makes relative paths in the study absolute against dir.
func (s *Study) Resolve(dir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	s.Model = resolve(s.Model)
	s.Cases.File = resolve(s.Cases.File)
	for i := range s.Recorders {
		s.Recorders[i].Path = resolve(s.Recorders[i].Path)
	}
	if s.Policy != nil {
		for i := range s.Policy.Paths {
			s.Policy.Paths[i] = resolve(s.Policy.Paths[i])
		}
	}
	if s.Store != nil && s.Store.Path != ":memory:" {
		s.Store.Path = resolve(s.Store.Path)
	}
}

func (s *Study) parameterNames() []string {
	names := make([]string, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		names = append(names, p.Names()[0])
	}
	return names
}

// checkStudy applies the rules struct tags cannot express.
func checkStudy(s *Study, filename string) ValidationErrors {
	var errs ValidationErrors
	add := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{
			File:     filename,
			Path:     path,
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}

	for i, p := range s.Parameters {
		if p.Low != nil && p.High != nil && *p.Low > *p.High {
			add(fmt.Sprintf("parameters[%d]", i), "low (%g) is greater than high (%g)", *p.Low, *p.High)
		}
	}
	if _, err := s.Driver.Timeout(); err != nil {
		add("driver.exec_timeout", "%v", err)
	}
	for i, c := range s.Cases.Inline {
		if len(c.Inputs) == 0 {
			add(fmt.Sprintf("cases.inline[%d].inputs", i), "case has no inputs")
		}
	}
	if len(s.Cases.Headers) > 0 && s.Cases.File == "" {
		add("cases.headers", "headers require a case file")
	}
	if s.Telemetry != nil && s.Telemetry.TraceExporter == "otlp" && s.Telemetry.TraceEndpoint == "" {
		add("telemetry.trace_endpoint", "otlp exporter requires an endpoint")
	}

	return errs
}

// convertValidatorErrors converts struct tag failures to ValidationErrors.
func (l *Loader) convertValidatorErrors(err error, filename string) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validation failed: %w", err)
	}

	errs := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := strings.TrimPrefix(fe.Namespace(), "Study.")
		msg := fmt.Sprintf("failed on the '%s' rule", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on the '%s=%s' rule", fe.Tag(), fe.Param())
		}
		errs = append(errs, ValidationError{
			File:     filename,
			Path:     path,
			Message:  msg,
			Severity: "error",
		})
	}
	return errs
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error, filename string) ValidationErrors {
	var errs ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			File:     filename,
			Path:     strings.Join(e.Path(), "."),
			Severity: "error",
		}

		if pos := cueerrors.Positions(e); len(pos) > 0 {
			for _, p := range pos {
				// Prefer positions in the study over positions in the schema.
				if p.Filename() == filename {
					ve.Line = p.Line()
					ve.Column = p.Column()
					break
				}
			}
		}

		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)
		errs = append(errs, ve)
	}

	if len(errs) == 0 {
		errs = append(errs, ValidationError{
			File:     filename,
			Message:  err.Error(),
			Severity: "error",
		})
	}
	return errs
}

// normalizeCases converts decoded input values to the value types variables
// accept: int, float64, bool, string and []float64.
func normalizeCases(in []CaseConfig) []CaseConfig {
	for i := range in {
		for name, v := range in[i].Inputs {
			in[i].Inputs[name] = normalizeValue(v)
		}
	}
	return in
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case int64:
		return int(val)
	case *big.Int:
		if val.IsInt64() {
			return int(val.Int64())
		}
		f, _ := new(big.Float).SetInt(val).Float64()
		return f
	case float32:
		return float64(val)
	case []interface{}:
		floats := make([]float64, len(val))
		for i, item := range val {
			switch n := normalizeValue(item).(type) {
			case int:
				floats[i] = float64(n)
			case float64:
				floats[i] = n
			default:
				return val
			}
		}
		return floats
	default:
		return v
	}
}
