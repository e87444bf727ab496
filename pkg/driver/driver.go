package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mdao/pkg/cases"
	"github.com/openfroyo/mdao/pkg/config"
	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/expr"
	"github.com/openfroyo/mdao/pkg/model"
	"github.com/openfroyo/mdao/pkg/params"
	"github.com/openfroyo/mdao/pkg/stores"
	"github.com/openfroyo/mdao/pkg/telemetry"
)

// Driver runs cases against an assembly. It owns the parameters that map
// case values onto model variables.
type Driver struct {
	name      string
	study     string
	assembly  *model.Assembly
	params    *params.Set
	outputs   []string
	recorders []cases.Recorder
	configs   []config.RecorderConfig
	store     stores.Store
	timeout   time.Duration
	logger    zerolog.Logger
}

var _ params.Owner = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithStore records runs, parameters and db recorder cases in store.
func WithStore(store stores.Store) Option {
	return func(d *Driver) {
		d.store = store
	}
}

// WithRecorders adds recorders that receive every case. The caller closes
// them.
func WithRecorders(recorders ...cases.Recorder) Option {
	return func(d *Driver) {
		d.recorders = append(d.recorders, recorders...)
	}
}

// WithRecorderConfigs adds recorders that are opened at the start of each
// run and closed at its end.
func WithRecorderConfigs(cfgs ...config.RecorderConfig) Option {
	return func(d *Driver) {
		d.configs = append(d.configs, cfgs...)
	}
}

// WithOutputs sets the expressions evaluated after every case.
func WithOutputs(outputs ...string) Option {
	return func(d *Driver) {
		d.outputs = append(d.outputs, outputs...)
	}
}

// WithExecTimeout bounds the execution of a single case.
func WithExecTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.timeout = timeout
	}
}

// WithStudy names the study runs are recorded under. It defaults to the
// assembly name.
func WithStudy(name string) Option {
	return func(d *Driver) {
		d.study = name
	}
}

// New creates a driver named name over asm. The name must not clash with a
// component of the assembly.
func New(name string, asm *model.Assembly, opts ...Option) (*Driver, error) {
	if name == "" {
		return nil, engine.NewValueError("driver name is required", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if asm == nil {
		return nil, engine.NewValueError("driver needs an assembly", nil).
			WithComponent(name).
			WithCode(engine.ErrCodeValidation)
	}
	if asm.Contains(name) {
		return nil, engine.NewValueError(
			fmt.Sprintf("driver name '%s' clashes with a component of '%s'", name, asm.Name()), nil,
		).WithComponent(name).WithCode(engine.ErrCodeAlreadyExists)
	}

	d := &Driver{
		name:     name,
		study:    asm.Name(),
		assembly: asm,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("driver", name).Logger()
	d.params = params.NewSet(d, params.WithLogger(d.logger))

	return d, nil
}

// FromStudy loads the study's model and builds a driver with the study's
// parameters, outputs, recorders and timeout. opts are applied after the
// study settings.
func FromStudy(ctx context.Context, study *config.Study, opts ...Option) (*Driver, error) {
	timeout, err := study.Driver.Timeout()
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithStudy(study.Name),
		WithOutputs(study.Outputs...),
		WithRecorderConfigs(study.Recorders...),
		WithExecTimeout(timeout),
	}

	d := &Driver{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	asm, err := model.NewLoader(d.logger).LoadFile(study.Model)
	if err != nil {
		return nil, err
	}

	drv, err := New(study.Driver.Name, asm, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := drv.AddParameters(ctx, study.Parameters); err != nil {
		return nil, err
	}
	return drv, nil
}

// Name implements params.Owner.
func (d *Driver) Name() string {
	return d.name
}

// Scope implements params.Owner. Parameters resolve against the assembly.
func (d *Driver) Scope() expr.Scope {
	return d.assembly
}

// Study returns the study name runs are recorded under.
func (d *Driver) Study() string {
	return d.study
}

// Assembly returns the model the driver runs.
func (d *Driver) Assembly() *model.Assembly {
	return d.assembly
}

// Parameters returns the driver's parameter set.
func (d *Driver) Parameters() *params.Set {
	return d.params
}

// Outputs returns the expressions recorded for every case.
func (d *Driver) Outputs() []string {
	return append([]string(nil), d.outputs...)
}

// AddParameters registers cfgs in order and stops at the first failure.
func (d *Driver) AddParameters(ctx context.Context, cfgs []config.ParameterConfig) error {
	tel := telemetry.FromTelemetryContext(ctx)

	for _, cfg := range cfgs {
		var opts []params.AddOption
		if cfg.Low != nil {
			opts = append(opts, params.WithLow(*cfg.Low))
		}
		if cfg.High != nil {
			opts = append(opts, params.WithHigh(*cfg.High))
		}
		if cfg.FDStep != nil {
			opts = append(opts, params.WithFDStep(*cfg.FDStep))
		}

		var (
			key params.Key
			err error
		)
		if cfg.Target != "" {
			key = params.Key(cfg.Target)
			err = d.params.Add(cfg.Target, opts...)
		} else {
			// AddGroup rejects an empty target list.
			names := cfg.Names()
			key = params.GroupKey(names...)
			err = d.params.AddGroup(names, opts...)
		}

		if tel != nil {
			tel.Metrics.RecordParameterAddition(d.name, err)
			var pubErr error
			if err != nil {
				pubErr = tel.Events.PublishParameterRejected(d.name, string(key), err.Error())
			} else {
				pubErr = tel.Events.PublishParameterAdded(d.name, string(key))
			}
			if pubErr != nil {
				d.logger.Debug().Err(pubErr).Str("key", string(key)).Msg("Failed to publish parameter event")
			}
		}
		if err != nil {
			return err
		}
	}

	if tel != nil {
		tel.Metrics.SetParametersRegistered(d.name, d.params.GetParameters().Len())
	}
	return nil
}

// Bounds returns the lower and upper bound of every parameter in insertion
// order. A group reports the tightest bounds of its members; a missing bound
// is reported as an infinity.
func (d *Driver) Bounds() (low, high []float64) {
	entries := d.params.GetParameters().Entries()
	low = make([]float64, len(entries))
	high = make([]float64, len(entries))
	for i, e := range entries {
		lo, hi := params.Bounds(e)
		low[i], high[i] = math.Inf(-1), math.Inf(1)
		if lo != nil {
			low[i] = *lo
		}
		if hi != nil {
			high[i] = *hi
		}
	}
	return low, high
}

// Graph builds the dependency graph of the assembly with the driver as an
// extra node and an edge to every component its parameters reference.
func (d *Driver) Graph() (*engine.Graph, *engine.DAGBuilder, error) {
	return d.assembly.Graph([]string{d.name}, d.params.GetExprDepends())
}

// storedParameters converts the registered parameters for the run store.
func (d *Driver) storedParameters(runID string) ([]*stores.Parameter, error) {
	var out []*stores.Parameter
	var err error
	d.params.GetParameters().Range(func(key params.Key, e params.Entry) bool {
		targets, mErr := json.Marshal(e.Targets())
		if mErr != nil {
			err = mErr
			return false
		}
		low, high := params.Bounds(e)
		out = append(out, &stores.Parameter{
			RunID:    runID,
			Position: len(out),
			Key:      string(key),
			Targets:  string(targets),
			Low:      low,
			High:     high,
			FDStep:   fdStep(e),
		})
		return true
	})
	return out, err
}

// fdStep returns the finite difference step of an entry; a group reports
// its first member that has one.
func fdStep(e params.Entry) *float64 {
	switch v := e.(type) {
	case *params.Parameter:
		return v.FDStep
	case *params.Group:
		for _, p := range v.Parameters() {
			if p.FDStep != nil {
				return p.FDStep
			}
		}
	}
	return nil
}
