package config

import (
	"fmt"
	"strings"
	"time"
)

// Study describes a parameter study: the model, the driver parameters, the
// cases to run and where the results go.
type Study struct {
	// Name identifies the study in runs, metrics and events.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Model is the path of the model file, relative to the study file.
	Model string `json:"model" yaml:"model" validate:"required"`

	// Driver configures the driver that owns the parameters.
	Driver DriverConfig `json:"driver" yaml:"driver"`

	// Parameters are registered on the driver in order.
	Parameters []ParameterConfig `json:"parameters,omitempty" yaml:"parameters,omitempty" validate:"dive"`

	// Cases supplies the points of the sweep.
	Cases CasesConfig `json:"cases,omitempty" yaml:"cases,omitempty"`

	// Outputs are the expressions recorded for every case.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty" validate:"dive,required"`

	// Recorders receive the executed cases.
	Recorders []RecorderConfig `json:"recorders,omitempty" yaml:"recorders,omitempty" validate:"dive"`

	// Policy configures the policy checks run before a study executes.
	Policy *PolicyConfig `json:"policy,omitempty" yaml:"policy,omitempty"`

	// Store configures the run database.
	Store *StoreConfig `json:"store,omitempty" yaml:"store,omitempty"`

	// Telemetry overrides the default telemetry settings.
	Telemetry *TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`

	// SourceFile is the file the study was loaded from.
	SourceFile string `json:"-" yaml:"-"`
}

// DriverConfig configures the driver.
type DriverConfig struct {
	// Name is the driver's component name. It must not clash with a model
	// component.
	Name string `json:"name" yaml:"name" validate:"required"`

	// ExecTimeout bounds the execution of one case, e.g. "30s".
	ExecTimeout string `json:"exec_timeout,omitempty" yaml:"exec_timeout,omitempty"`
}

// Timeout parses ExecTimeout. Zero means no limit.
func (d DriverConfig) Timeout() (time.Duration, error) {
	if d.ExecTimeout == "" {
		return 0, nil
	}
	t, err := time.ParseDuration(d.ExecTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid driver exec_timeout %q: %w", d.ExecTimeout, err)
	}
	return t, nil
}

// ParameterConfig registers one parameter. Target names a single variable;
// Targets names a group driven by one shared value.
type ParameterConfig struct {
	Target  string   `json:"target,omitempty" yaml:"target,omitempty" validate:"required_without=Targets,excluded_with=Targets"`
	Targets []string `json:"targets,omitempty" yaml:"targets,omitempty" validate:"omitempty,min=1,dive,required"`
	Low     *float64 `json:"low,omitempty" yaml:"low,omitempty"`
	High    *float64 `json:"high,omitempty" yaml:"high,omitempty"`
	FDStep  *float64 `json:"fd_step,omitempty" yaml:"fd_step,omitempty" validate:"omitempty,gt=0"`
}

// Names returns the targets of the parameter.
func (p ParameterConfig) Names() []string {
	if p.Target != "" {
		return []string{p.Target}
	}
	return p.Targets
}

// CasesConfig supplies cases inline, from a CSV file or from a Starlark
// script. Sources are concatenated in that order.
type CasesConfig struct {
	Inline []CaseConfig `json:"inline,omitempty" yaml:"inline,omitempty" validate:"dive"`

	// File is a CSV case file, relative to the study file.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Delimiter is the CSV field delimiter, a single character.
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty" validate:"omitempty,len=1"`

	// Headers names the columns of a CSV file without a header row, by
	// position. Empty names skip the column.
	Headers []string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Script is a Starlark program that defines a global "cases" list.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// Generated holds the cases produced by Script when the study was loaded.
	Generated []CaseConfig `json:"-" yaml:"-"`
}

// All returns inline cases followed by generated ones.
func (c CasesConfig) All() []CaseConfig {
	all := make([]CaseConfig, 0, len(c.Inline)+len(c.Generated))
	all = append(all, c.Inline...)
	return append(all, c.Generated...)
}

// HeaderMap converts Headers to a column index map.
func (c CasesConfig) HeaderMap() map[int]string {
	if len(c.Headers) == 0 {
		return nil
	}
	m := make(map[int]string, len(c.Headers))
	for i, h := range c.Headers {
		if h != "" {
			m[i] = h
		}
	}
	return m
}

// DelimiterRune returns the delimiter, defaulting to a comma.
func (c CasesConfig) DelimiterRune() rune {
	if c.Delimiter == "" {
		return ','
	}
	return []rune(c.Delimiter)[0]
}

// CaseConfig is one inline case.
type CaseConfig struct {
	Label  string                 `json:"label,omitempty" yaml:"label,omitempty"`
	Inputs map[string]interface{} `json:"inputs" yaml:"inputs" validate:"required"`
}

// RecorderConfig configures a case recorder.
type RecorderConfig struct {
	// Type is one of list, dump, csv or db.
	Type string `json:"type" yaml:"type" validate:"required,oneof=list dump csv db"`

	// Path is the output file of csv recorders and an optional output file
	// of dump recorders (stdout otherwise).
	Path string `json:"path,omitempty" yaml:"path,omitempty" validate:"required_if=Type csv"`

	// Delimiter is the CSV field delimiter, a single character.
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty" validate:"omitempty,len=1"`
}

// PolicyConfig configures policy enforcement.
type PolicyConfig struct {
	// Enabled indicates if policy enforcement is enabled.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Paths lists policy files or directories, relative to the study file.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// OnViolation specifies the action on violation (warn, fail).
	OnViolation string `json:"on_violation,omitempty" yaml:"on_violation,omitempty" validate:"omitempty,oneof=warn fail"`
}

// StoreConfig configures the run database.
type StoreConfig struct {
	// Path is the SQLite database file, relative to the study file.
	Path string `json:"path" yaml:"path" validate:"required"`
}

// TelemetryConfig overrides telemetry defaults.
type TelemetryConfig struct {
	LogLevel       string  `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat      string  `json:"log_format,omitempty" yaml:"log_format,omitempty" validate:"omitempty,oneof=console json"`
	TraceExporter  string  `json:"trace_exporter,omitempty" yaml:"trace_exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	TraceEndpoint  string  `json:"trace_endpoint,omitempty" yaml:"trace_endpoint,omitempty"`
	SamplingRate   float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty" validate:"gte=0,lte=1"`
	MetricsAddress string  `json:"metrics_address,omitempty" yaml:"metrics_address,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending field (e.g., "parameters[0].low").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is the error returned when a study file is invalid.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.String()
	}
	return "invalid study: " + strings.Join(msgs, "; ")
}
