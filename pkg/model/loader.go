package model

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/mdao/pkg/expr"
)

// Component kinds accepted in model files.
const (
	KindIndep = "indep"
	KindExec  = "exec"
)

// File is the on-disk description of an assembly.
type File struct {
	// Name is the assembly name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Components lists the components in order.
	Components []ComponentFile `yaml:"components" json:"components" validate:"required,min=1,dive"`

	// Connections links outputs to inputs.
	Connections []Connection `yaml:"connections,omitempty" json:"connections,omitempty" validate:"dive"`

	// Parallel is the number of independent components run concurrently.
	Parallel int `yaml:"parallel,omitempty" json:"parallel,omitempty" validate:"gte=0"`
}

// ComponentFile describes one component.
type ComponentFile struct {
	Name string `yaml:"name" json:"name" validate:"required"`

	// Kind is indep (variables only) or exec (Starlark equations).
	Kind string `yaml:"kind" json:"kind" validate:"required,oneof=indep exec"`

	// Equations are required for exec components.
	Equations []string `yaml:"equations,omitempty" json:"equations,omitempty" validate:"required_if=Kind exec"`

	// Timeout bounds a single execution, for example "5s".
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Variables []VariableFile `yaml:"variables" json:"variables" validate:"dive"`
}

// VariableFile describes one variable.
type VariableFile struct {
	Name   string   `yaml:"name" json:"name" validate:"required"`
	Type   VarType  `yaml:"type" json:"type" validate:"required,oneof=float int str enum array"`
	IOType string   `yaml:"iotype,omitempty" json:"iotype,omitempty" validate:"omitempty,oneof=in out"`
	Value  any      `yaml:"value,omitempty" json:"value,omitempty"`
	Low    *float64 `yaml:"low,omitempty" json:"low,omitempty"`
	High   *float64 `yaml:"high,omitempty" json:"high,omitempty"`
	Values []any    `yaml:"values,omitempty" json:"values,omitempty" validate:"required_if=Type enum"`
	Units  string   `yaml:"units,omitempty" json:"units,omitempty"`
	Desc   string   `yaml:"desc,omitempty" json:"desc,omitempty"`
}

// Loader reads model files and builds assemblies.
type Loader struct {
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewLoader creates a model loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		validator: validator.New(),
		logger:    logger,
	}
}

// LoadFile reads a YAML model file and builds its assembly.
func (l *Loader) LoadFile(path string) (*Assembly, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return l.LoadBytes(data)
}

// LoadBytes parses YAML model data and builds its assembly.
func (l *Loader) LoadBytes(data []byte) (*Assembly, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model YAML: %w", err)
	}
	return l.Build(&f)
}

// Build validates f and builds its assembly.
func (l *Loader) Build(f *File) (*Assembly, error) {
	if err := l.validator.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}

	asm := NewAssembly(f.Name, l.logger)
	asm.SetMaxParallel(f.Parallel)
	for _, cf := range f.Components {
		comp, err := l.buildComponent(cf)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", cf.Name, err)
		}
		if err := asm.Add(comp); err != nil {
			return nil, err
		}
	}

	for _, conn := range f.Connections {
		if err := asm.Connect(conn.From, conn.To); err != nil {
			return nil, err
		}
	}

	l.logger.Debug().
		Str("assembly", f.Name).
		Int("components", len(f.Components)).
		Int("connections", len(f.Connections)).
		Msg("Model loaded")

	return asm, nil
}

func (l *Loader) buildComponent(cf ComponentFile) (Component, error) {
	var (
		base *Base
		comp Component
	)

	switch cf.Kind {
	case KindExec:
		var timeout time.Duration
		if cf.Timeout != "" {
			d, err := time.ParseDuration(cf.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid timeout %q: %w", cf.Timeout, err)
			}
			timeout = d
		}
		ec, err := NewExecComp(cf.Name, cf.Equations, timeout)
		if err != nil {
			return nil, err
		}
		base, comp = ec.Base, ec
	default:
		base = NewBase(cf.Name)
		comp = base
	}

	for _, vf := range cf.Variables {
		v, err := NewVariable(vf.Name, vf.Type, vf.IOType, vf.Value, expr.Metadata{
			Low:    vf.Low,
			High:   vf.High,
			Values: vf.Values,
			Units:  vf.Units,
			Desc:   vf.Desc,
		})
		if err != nil {
			return nil, err
		}
		if err := base.AddVariable(v); err != nil {
			return nil, err
		}
	}

	return comp, nil
}
