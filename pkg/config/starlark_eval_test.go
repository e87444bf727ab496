package config

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5*time.Second, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: `result = 2 + 2`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["result"] != 4 {
					t.Errorf("expected result=4, got %v", sr.Output["result"])
				}
			},
		},
		{
			name:   "use input variables",
			script: `doubled = count * 2`,
			input:  map[string]interface{}{"count": 5},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["doubled"] != 10 {
					t.Errorf("expected doubled=10, got %v", sr.Output["doubled"])
				}
			},
		},
		{
			name: "private globals and functions are skipped",
			script: `
_hidden = 1
def helper():
    return 2
visible = helper()
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if _, ok := sr.Output["_hidden"]; ok {
					t.Error("private global should be skipped")
				}
				if _, ok := sr.Output["helper"]; ok {
					t.Error("function should be skipped")
				}
				if sr.Output["visible"] != 2 {
					t.Errorf("expected visible=2, got %v", sr.Output["visible"])
				}
			},
		},
		{
			name:   "math module",
			script: `root = math.sqrt(16.0)`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["root"] != 4.0 {
					t.Errorf("expected root=4.0, got %v", sr.Output["root"])
				}
			},
		},
		{
			name:   "linspace",
			script: `points = linspace(0, 1, 5)`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				want := []float64{0, 0.25, 0.5, 0.75, 1}
				if !reflect.DeepEqual(sr.Output["points"], want) {
					t.Errorf("expected %v, got %v", want, sr.Output["points"])
				}
			},
		},
		{
			name:   "product",
			script: `pairs = [list(p) for p in product([1, 2], [3, 4])]`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				pairs, ok := sr.Output["pairs"].([]interface{})
				if !ok || len(pairs) != 4 {
					t.Fatalf("expected 4 pairs, got %v", sr.Output["pairs"])
				}
				if !reflect.DeepEqual(pairs[1], []float64{1, 4}) {
					t.Errorf("expected second pair [1 4], got %v", pairs[1])
				}
			},
		},
		{
			name:    "syntax error",
			script:  `x = (`,
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  `x = 1 // 0`,
			wantErr: true,
		},
		{
			name:    "linspace num must be positive",
			script:  `x = linspace(0, 1, 0)`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, tt.script, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if result == nil || result.Error == "" {
					t.Error("expected result to carry the error")
				}
				return
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50*time.Millisecond, zerolog.Nop())

	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n
x = spin()
`
	result, err := evaluator.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(result.Error, "timeout") {
		t.Errorf("expected timeout message, got %q", result.Error)
	}
}

func TestStarlarkEvaluator_GenerateCases(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5*time.Second, zerolog.Nop())
	ctx := context.Background()

	t.Run("dicts and structs", func(t *testing.T) {
		script := `
cases = [{"label": "x=%d" % x, parameters[0]: x} for x in [1, 2]]
cases.append(struct(label = "vec", v = [1.0, 2.0]))
`
		generated, err := evaluator.GenerateCases(ctx, script, map[string]interface{}{
			"parameters": []string{"comp.x"},
		})
		if err != nil {
			t.Fatalf("GenerateCases() error = %v", err)
		}
		if len(generated) != 3 {
			t.Fatalf("expected 3 cases, got %d", len(generated))
		}
		if generated[0].Label != "x=1" || generated[0].Inputs["comp.x"] != 1 {
			t.Errorf("unexpected first case: %+v", generated[0])
		}
		if _, ok := generated[0].Inputs["label"]; ok {
			t.Error("label should not be an input")
		}
		if !reflect.DeepEqual(generated[2].Inputs["v"], []float64{1, 2}) {
			t.Errorf("unexpected vector input: %v", generated[2].Inputs["v"])
		}
	})

	t.Run("grid", func(t *testing.T) {
		script := `
cases = [{"a.x": x, "a.y": y} for x, y in product(linspace(0, 1, 3), [10, 20])]
`
		generated, err := evaluator.GenerateCases(ctx, script, nil)
		if err != nil {
			t.Fatalf("GenerateCases() error = %v", err)
		}
		if len(generated) != 6 {
			t.Fatalf("expected 6 cases, got %d", len(generated))
		}
		if generated[5].Inputs["a.x"] != 1.0 || generated[5].Inputs["a.y"] != 20 {
			t.Errorf("unexpected last case: %+v", generated[5])
		}
	})

	t.Run("empty list", func(t *testing.T) {
		generated, err := evaluator.GenerateCases(ctx, `cases = []`, nil)
		if err != nil {
			t.Fatalf("GenerateCases() error = %v", err)
		}
		if len(generated) != 0 {
			t.Errorf("expected no cases, got %d", len(generated))
		}
	})

	errTests := []struct {
		name   string
		script string
		want   string
	}{
		{"missing global", `rows = []`, `does not define "cases"`},
		{"not a list", `cases = 3`, "must be a list"},
		{"not a dict", `cases = [{"a.x": 1}, "b"]`, "must be a dict or struct"},
		{"bad label", `cases = [{"label": 1, "a.x": 1}]`, "label must be a string"},
		{"no inputs", `cases = [{"label": "empty"}]`, "has no inputs"},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evaluator.GenerateCases(ctx, tt.script, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
