package driver

import (
	"context"
	"time"

	"github.com/openfroyo/mdao/pkg/cases"
	"github.com/openfroyo/mdao/pkg/params"
	"github.com/openfroyo/mdao/pkg/policy"
	"github.com/openfroyo/mdao/pkg/telemetry"
)

// OnViolation values.
const (
	ViolationWarn = "warn"
	ViolationFail = "fail"
)

// PolicyInput describes the driver for policy evaluation: its parameters
// with resolved bounds, outputs, recorders and the number of cases about to
// run.
func (d *Driver) PolicyInput(caseCount int, operation string) *policy.Input {
	study := &policy.StudyInput{
		Name:       d.study,
		Model:      d.assembly.Name(),
		Driver:     d.name,
		Components: d.assembly.ComponentNames(),
		Outputs:    d.Outputs(),
		CaseCount:  caseCount,
	}

	d.params.GetParameters().Range(func(key params.Key, e params.Entry) bool {
		low, high := params.Bounds(e)
		study.Parameters = append(study.Parameters, policy.ParameterInput{
			Key:     string(key),
			Targets: e.Targets(),
			Low:     low,
			High:    high,
			FDStep:  fdStep(e),
		})
		return true
	})

	for _, cfg := range d.configs {
		study.Recorders = append(study.Recorders, policy.RecorderInput{Type: cfg.Type, Path: cfg.Path})
	}
	for _, rec := range d.recorders {
		study.Recorders = append(study.Recorders, policy.RecorderInput{Type: recorderType(rec)})
	}

	return &policy.Input{
		Study: study,
		Context: &policy.Context{
			Operation: operation,
			Timestamp: time.Now(),
			DryRun:    operation != "run",
		},
	}
}

// CheckPolicy evaluates the policies of eng against the driver. Every
// violation is logged and counted. With onViolation set to "warn" blocking
// violations are reported but do not return an error.
func (d *Driver) CheckPolicy(ctx context.Context, eng *policy.Engine, caseCount int, operation, onViolation string) (*policy.Result, error) {
	result, err := eng.Evaluate(ctx, d.PolicyInput(caseCount, operation))
	if err != nil {
		return nil, err
	}

	tel := telemetry.FromTelemetryContext(ctx)
	for _, v := range result.Violations {
		event := d.logger.Warn()
		if v.Severity.Blocking() {
			event = d.logger.Error()
		}
		event.Str("policy", v.Policy).
			Str("subject", v.Subject).
			Str("severity", string(v.Severity)).
			Msg(v.Message)

		if tel != nil {
			tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
			_ = tel.Events.PublishPolicyViolation(d.study, v.Policy, v.Message)
		}
	}
	for _, f := range result.Failures {
		d.logger.Warn().Msg(f)
	}

	if onViolation == ViolationWarn {
		return result, nil
	}
	return result, result.Err()
}

func recorderType(rec cases.Recorder) string {
	switch rec.(type) {
	case *cases.ListRecorder:
		return "list"
	case *cases.DumpRecorder, *fileDumpRecorder:
		return "dump"
	case *cases.CSVRecorder:
		return "csv"
	case *cases.DBRecorder:
		return "db"
	default:
		return "custom"
	}
}
