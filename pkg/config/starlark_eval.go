package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/mdao/pkg/expr"
)

// CasesGlobal is the global a case script must define.
const CasesGlobal = "cases"

// StarlarkResult holds the public globals a script left behind, converted
// to Go values. Error repeats the evaluation error for callers that keep the
// result.
type StarlarkResult struct {
	Output        map[string]interface{} `json:"output"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Error         string                 `json:"error,omitempty"`
}

// StarlarkEvaluator runs case scripts. Each script gets a fresh thread that is
// cancelled when the timeout passes; print output is logged at debug level.
type StarlarkEvaluator struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewStarlarkEvaluator returns an evaluator. A zero timeout means 30s.
func NewStarlarkEvaluator(timeout time.Duration, logger zerolog.Logger) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout, logger: logger.With().Str("source", "starlark").Logger()}
}

// Evaluate executes script with input bound as predeclared globals.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	began := time.Now()
	ctx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "cases",
		Print: func(_ *starlark.Thread, msg string) { se.logger.Debug().Msg(msg) },
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stop()

	output, err := se.exec(thread, script, input)
	if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			err = fmt.Errorf("starlark execution timeout after %v", se.timeout)
		} else {
			err = fmt.Errorf("starlark execution cancelled: %w", ctxErr)
		}
	}

	result := &StarlarkResult{Output: output, ExecutionTime: time.Since(began)}
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	return result, nil
}

func (se *StarlarkEvaluator) exec(thread *starlark.Thread, script string, input map[string]interface{}) (map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"math":     math.Module,
		"linspace": starlark.NewBuiltin("linspace", builtinLinspace),
		"product":  starlark.NewBuiltin("product", builtinProduct),
	}
	for name, v := range input {
		sv, err := toStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		predeclared[name] = sv
	}

	globals, err := starlark.ExecFile(thread, "cases.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{}, len(globals))
	for _, name := range globals.Keys() {
		v := globals[name]
		if strings.HasPrefix(name, "_") {
			continue
		}
		if _, isFunc := v.(starlark.Callable); isFunc {
			continue
		}
		if output[name], err = fromStarlarkValue(v); err != nil {
			return nil, fmt.Errorf("global %s: %w", name, err)
		}
	}
	return output, nil
}

// GenerateCases runs a case script and returns the cases it defines. The
// script must set the global "cases" to a list of dicts or structs; the
// "label" key names the case and every other key is an input.
func (se *StarlarkEvaluator) GenerateCases(ctx context.Context, script string, input map[string]interface{}) ([]CaseConfig, error) {
	result, err := se.Evaluate(ctx, script, input)
	if err != nil {
		return nil, err
	}

	raw, ok := result.Output[CasesGlobal]
	if !ok {
		return nil, fmt.Errorf("case script does not define %q", CasesGlobal)
	}
	list, ok := raw.([]interface{})
	if !ok {
		if floats, isFloats := raw.([]float64); isFloats && len(floats) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%q must be a list, got %T", CasesGlobal, raw)
	}

	generated := make([]CaseConfig, 0, len(list))
	for i, item := range list {
		fields, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a dict or struct, got %T", CasesGlobal, i, item)
		}

		cc := CaseConfig{Inputs: make(map[string]interface{}, len(fields))}
		for name, value := range fields {
			if name == "label" {
				label, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("%s[%d].label must be a string, got %T", CasesGlobal, i, value)
				}
				cc.Label = label
				continue
			}
			cc.Inputs[name] = value
		}
		if len(cc.Inputs) == 0 {
			return nil, fmt.Errorf("%s[%d] has no inputs", CasesGlobal, i)
		}
		generated = append(generated, cc)
	}

	return generated, nil
}

func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			starlarkVal, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return expr.ToStarlark(v)
	}
}

// fromStarlarkValue extends expr.FromStarlark with dicts, which scripts use
// for case rows.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlark.List:
		items := make([]interface{}, val.Len())
		nested := false
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			if _, ok := item.(map[string]interface{}); ok {
				nested = true
			}
			items[i] = item
		}
		if nested {
			return items, nil
		}
		return expr.FromStarlark(val)
	default:
		return expr.FromStarlark(v)
	}
}

// builtinLinspace implements linspace(start, stop, num), returning num evenly
// spaced floats from start to stop inclusive.
func builtinLinspace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop starlark.Value
	var num int

	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "num", &num); err != nil {
		return nil, err
	}

	lo, ok := starlark.AsFloat(start)
	if !ok {
		return nil, fmt.Errorf("%s: start must be a number, got %s", b.Name(), start.Type())
	}
	hi, ok := starlark.AsFloat(stop)
	if !ok {
		return nil, fmt.Errorf("%s: stop must be a number, got %s", b.Name(), stop.Type())
	}
	if num < 1 {
		return nil, fmt.Errorf("%s: num must be at least 1, got %d", b.Name(), num)
	}

	list := make([]starlark.Value, num)
	if num == 1 {
		list[0] = starlark.Float(lo)
		return starlark.NewList(list), nil
	}
	step := (hi - lo) / float64(num-1)
	for i := 0; i < num; i++ {
		list[i] = starlark.Float(lo + float64(i)*step)
	}
	list[num-1] = starlark.Float(hi)

	return starlark.NewList(list), nil
}

// builtinProduct implements product(*iterables), the cartesian product of its
// arguments as a list of tuples.
func builtinProduct(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}

	pools := make([][]starlark.Value, len(args))
	for i, arg := range args {
		iterable, ok := arg.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d is not iterable", b.Name(), i)
		}
		iter := iterable.Iterate()
		var x starlark.Value
		for iter.Next(&x) {
			pools[i] = append(pools[i], x)
		}
		iter.Done()
	}

	result := []starlark.Tuple{{}}
	for _, pool := range pools {
		next := make([]starlark.Tuple, 0, len(result)*len(pool))
		for _, prefix := range result {
			for _, x := range pool {
				tuple := make(starlark.Tuple, len(prefix)+1)
				copy(tuple, prefix)
				tuple[len(prefix)] = x
				next = append(next, tuple)
			}
		}
		result = next
	}

	list := make([]starlark.Value, len(result))
	for i, t := range result {
		list[i] = t
	}
	return starlark.NewList(list), nil
}
