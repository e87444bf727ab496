package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/mdao/pkg/cases"
	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/expr"
	"github.com/openfroyo/mdao/pkg/params"
	"github.com/openfroyo/mdao/pkg/stores"
	"github.com/openfroyo/mdao/pkg/telemetry"
)

// Summary describes a finished run.
type Summary struct {
	RunID     string        `json:"run_id"`
	Status    string        `json:"status"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`

	// Cases holds the cases kept by list recorders opened for the run.
	Cases []*cases.Case `json:"-"`
}

// Run executes every case from it. For each case the inputs that name a
// parameter, by key or by any of a group's targets, are set positionally
// through the parameter set; the other inputs are set directly on the
// assembly. The assembly then runs and the outputs are evaluated.
//
// A case that fails is recorded with its error in Msg and the run goes on.
// The run stops when ctx is done, a recorder fails or it yields an error.
// Cases are copied before they run; the originals are not modified.
func (d *Driver) Run(ctx context.Context, it cases.Iterator) (*Summary, error) {
	runID := uuid.NewString()
	start := time.Now()

	if err := d.createRun(ctx, runID, start); err != nil {
		return nil, err
	}

	opened, err := OpenRecorders(d.configs, d.store, runID)
	if err != nil {
		d.finishRun(ctx, runID, stores.RunStatusFailed, err)
		return nil, err
	}
	recorders := append(append([]cases.Recorder(nil), d.recorders...), opened...)

	ctx = telemetry.WithRunContext(ctx, runID, d.study)
	d.logger.Info().Str("run_id", runID).Str("study", d.study).Msg("Run started")

	summary := &Summary{RunID: runID}
	runErr := d.runCases(ctx, runID, it, recorders, summary)
	if err := closeRecorders(opened); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close recorders: %w", err)
	}
	for _, rec := range opened {
		if lr, ok := rec.(*cases.ListRecorder); ok {
			summary.Cases = append(summary.Cases, lr.Cases()...)
		}
	}

	status := stores.RunStatusCompleted
	switch {
	case errors.Is(runErr, context.Canceled):
		status = stores.RunStatusCancelled
	case runErr != nil:
		status = stores.RunStatusFailed
	}
	summary.Status = string(status)
	summary.Duration = time.Since(start)

	telemetry.EndRunContext(ctx, runID, string(status), runErr)
	d.finishRun(ctx, runID, status, runErr)

	d.logger.Info().
		Str("run_id", runID).
		Str("status", summary.Status).
		Int("cases", summary.Total).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Run finished")

	return summary, runErr
}

func (d *Driver) runCases(ctx context.Context, runID string, it cases.Iterator, recorders []cases.Recorder, summary *Summary) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read case %d: %w", summary.Total+1, err)
		}

		c := next.Clone()
		summary.Total++
		if err := d.RunCase(ctx, runID, c); err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}

		if err := recordAll(ctx, recorders, c); err != nil {
			return err
		}
	}
}

// RunCase executes a single case in place: its outputs are filled in, or
// its Msg is set when it fails. The driver's outputs are appended to the
// outputs the case names itself.
func (d *Driver) RunCase(ctx context.Context, runID string, c *cases.Case) error {
	ctx = telemetry.WithCaseContext(ctx, runID, c.UUID, c.Label)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	c.Outputs = d.caseOutputs(c)
	c.Msg = ""

	err := d.execute(ctx, c)
	if err != nil {
		c.Msg = err.Error()
		for i := range c.Outputs {
			c.Outputs[i].Value = nil
		}
		d.logger.Warn().Err(err).Str("case", c.UUID).Str("label", c.Label).Msg("Case failed")
	}

	telemetry.EndCaseContext(ctx, runID, d.name, c.UUID, c.Label, err)
	return err
}

func (d *Driver) execute(ctx context.Context, c *cases.Case) error {
	if err := d.apply(ctx, c.Inputs); err != nil {
		return err
	}

	if err := telemetry.RecordComponentExecution(ctx, d.assembly.Name(), d.assembly.Run); err != nil {
		return err
	}

	for i := range c.Outputs {
		e, err := expr.New(c.Outputs[i].Name, d.assembly)
		if err != nil {
			return err
		}
		v, err := e.Evaluate(nil)
		if err != nil {
			return err
		}
		c.Outputs[i].Value = v
	}
	return nil
}

// apply sets the inputs of a case. Parameters the case does not name keep
// their current value.
func (d *Driver) apply(ctx context.Context, inputs []cases.Item) error {
	ps := d.params.GetParameters()
	keys := ps.Keys()
	index := make(map[string]int, len(keys))
	ps.Range(func(key params.Key, e params.Entry) bool {
		pos := len(index)
		for _, target := range e.Targets() {
			index[target] = pos
		}
		index[string(key)] = pos
		return true
	})

	values, err := d.params.EvaluateParameters()
	if err != nil {
		return err
	}

	given := make([]bool, len(values))
	var extra []cases.Item
	for _, in := range inputs {
		pos, ok := index[in.Name]
		if !ok {
			extra = append(extra, in)
			continue
		}
		if given[pos] && !reflect.DeepEqual(values[pos], in.Value) {
			return engine.NewValueError(
				fmt.Sprintf("case gives conflicting values for parameter '%s'", keys[pos]), nil,
			).WithComponent(d.name).WithCode(engine.ErrCodeValidation)
		}
		values[pos], given[pos] = in.Value, true
	}

	err = d.params.SetParameters(values)
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordParameterSet(d.name, err)
	}
	if err != nil {
		return err
	}

	for _, in := range extra {
		e, err := expr.New(in.Name, d.assembly)
		if err != nil {
			return err
		}
		if err := e.Set(in.Value, nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) caseOutputs(c *cases.Case) []cases.Item {
	out := make([]cases.Item, 0, len(c.Outputs)+len(d.outputs))
	seen := make(map[string]bool, cap(out))
	for _, it := range c.Outputs {
		out = append(out, cases.Item{Name: it.Name})
		seen[it.Name] = true
	}
	for _, name := range d.outputs {
		if !seen[name] {
			out = append(out, cases.Item{Name: name})
			seen[name] = true
		}
	}
	return out
}

func (d *Driver) createRun(ctx context.Context, runID string, start time.Time) error {
	if d.store == nil {
		return nil
	}

	run := &stores.Run{
		ID:        runID,
		Study:     d.study,
		Driver:    d.name,
		Status:    stores.RunStatusRunning,
		StartedAt: start,
		Metadata:  "{}",
	}
	if err := d.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	stored, err := d.storedParameters(runID)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	if err := d.store.SaveParameters(ctx, runID, stored); err != nil {
		return fmt.Errorf("failed to save parameters: %w", err)
	}
	return nil
}

func (d *Driver) finishRun(ctx context.Context, runID string, status stores.RunStatus, runErr error) {
	if d.store == nil {
		return
	}

	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	if err := d.store.UpdateRunStatus(context.WithoutCancel(ctx), runID, status, msg); err != nil {
		d.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to update run status")
	}
}
