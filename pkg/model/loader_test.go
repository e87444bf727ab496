package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mdao/pkg/expr"
)

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(path, []byte(chainModel), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	asm, err := NewLoader(zerolog.Nop()).LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if asm.Name() != "top" {
		t.Errorf("Name() = %s, want top", asm.Name())
	}
	if got := strings.Join(asm.ComponentNames(), ","); got != "scale,paraboloid" {
		t.Errorf("ComponentNames() = %s", got)
	}

	comp, err := asm.Component("paraboloid")
	if err != nil {
		t.Fatalf("Component() error = %v", err)
	}
	x, ok := comp.Variable("x")
	if !ok {
		t.Fatal("Expected variable x")
	}
	if x.Low == nil || *x.Low != -50 {
		t.Errorf("Expected low -50, got %v", x.Low)
	}
}

func TestLoader_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "components: [{name: a, kind: indep}]",
			wantErr: "invalid model",
		},
		{
			name:    "unknown kind",
			yaml:    "name: top\ncomponents: [{name: a, kind: magic}]",
			wantErr: "invalid model",
		},
		{
			name:    "exec without equations",
			yaml:    "name: top\ncomponents: [{name: a, kind: exec}]",
			wantErr: "invalid model",
		},
		{
			name:    "enum without values",
			yaml:    "name: top\ncomponents: [{name: a, kind: indep, variables: [{name: e, type: enum}]}]",
			wantErr: "invalid model",
		},
		{
			name:    "initial value out of range",
			yaml:    "name: top\ncomponents: [{name: a, kind: indep, variables: [{name: x, type: float, low: 0, value: -1.0}]}]",
			wantErr: "component a",
		},
		{
			name:    "bad connection",
			yaml:    "name: top\ncomponents: [{name: a, kind: indep}]\nconnections: [{from: a.x, to: b.y}]",
			wantErr: "has no variable 'x'",
		},
		{
			name:    "bad timeout",
			yaml:    "name: top\ncomponents: [{name: a, kind: exec, timeout: soon, equations: [\"y = 1\"]}]",
			wantErr: "invalid timeout",
		},
		{
			name:    "not yaml",
			yaml:    "name: [",
			wantErr: "failed to parse model YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(zerolog.Nop()).LoadBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIndepComponent_IO(t *testing.T) {
	base := NewBase("indep")
	in, _ := NewVariable("a", TypeFloat, IOIn, nil, expr.Metadata{})
	out, _ := NewVariable("b", TypeFloat, IOOut, nil, expr.Metadata{})
	if err := base.AddVariable(in); err != nil {
		t.Fatal(err)
	}
	if err := base.AddVariable(out); err != nil {
		t.Fatal(err)
	}
	if err := base.AddVariable(in); err == nil {
		t.Error("Expected duplicate variable error")
	}

	if len(base.Inputs()) != 1 || len(base.Outputs()) != 1 || len(base.Variables()) != 2 {
		t.Errorf("Unexpected variable split: %d in, %d out", len(base.Inputs()), len(base.Outputs()))
	}
}
