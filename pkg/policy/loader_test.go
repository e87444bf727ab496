package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func fmtPolicy(pkg string) string {
	return "package " + pkg + "\n\nimport rego.v1\n\ndeny contains \"never\" if false\n"
}

func parseOne(t *testing.T, path string) Policy {
	t.Helper()
	policies, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile(%s) failed: %v", path, err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	return policies[0]
}

func TestParseFile_Rego(t *testing.T) {
	path := filepath.Join(t.TempDir(), "study-name.rego")
	src := `# Rejects studies named invalid
package study.name

import rego.v1

deny contains msg if {
	input.study.name == "invalid"
	msg := "invalid study name"
}`
	writePolicy(t, path, src)

	p := parseOne(t, path)
	if p.Name != "study-name" {
		t.Errorf("Expected name 'study-name', got '%s'", p.Name)
	}
	if p.Rego != src {
		t.Error("Rego source not preserved")
	}
	if p.Description != "Rejects studies named invalid" {
		t.Errorf("Unexpected description '%s'", p.Description)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", p.Severity)
	}
	if !p.Enabled {
		t.Error("Rego policies are enabled")
	}
	if p.Metadata["source"] != path {
		t.Errorf("Expected source %s, got %v", path, p.Metadata["source"])
	}
	if p.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be stamped")
	}
}

func TestParseFile_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unknown severity", file: "p.rego", content: "# severity: fatal\npackage p\n"},
		{name: "json without name", file: "anon.json", content: `{"rego": "package anon"}`},
		{name: "invalid json", file: "bad.json", content: "invalid json"},
		{name: "unsupported type", file: "notes.txt", content: "not a policy"},
		{name: "bundle policy without name", file: "b.json", content: `{"name": "b", "policies": [{"rego": "package x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writePolicy(t, path, tt.content)
			if _, err := ParseFile(path); err == nil {
				t.Errorf("Expected error for %s", tt.file)
			}
		})
	}

	if _, err := ParseFile(filepath.Join(dir, "missing.rego")); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestParseFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bounds.json")
	want := Policy{
		Name:        "bounds",
		Description: "Parameters need finite bounds",
		Rego:        fmtPolicy("bounds"),
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"params"},
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writePolicy(t, path, string(data))

	p := parseOne(t, path)
	if p.Name != want.Name || p.Description != want.Description || p.Severity != want.Severity {
		t.Errorf("Unexpected policy %+v", p)
	}
	if p.Metadata["source"] != path {
		t.Errorf("Expected source metadata, got %v", p.Metadata)
	}
}

func TestParseFile_Bundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	bundle := PolicyBundle{
		Name:    "sweep-limits",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "policy1", Rego: fmtPolicy("p1"), Severity: SeverityError, Enabled: true},
			{Name: "policy2", Rego: fmtPolicy("p2"), Enabled: true},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	writePolicy(t, path, string(data))

	policies, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	if policies[1].Severity != SeverityWarning {
		t.Errorf("Expected default severity, got %s", policies[1].Severity)
	}
	if tags := policies[0].Tags; len(tags) != 1 || tags[0] != "bundle:sweep-limits" {
		t.Errorf("Expected bundle tag, got %v", tags)
	}

	// Bundled policies compile in the engine.
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := eng.ReplacePolicies(context.Background(), policies); err != nil {
		t.Fatalf("Failed to apply bundle: %v", err)
	}
}

func TestLoadPaths(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "policies")
	writePolicy(t, filepath.Join(dir, "b.rego"), fmtPolicy("b"))
	writePolicy(t, filepath.Join(dir, "nested", "a.rego"), fmtPolicy("a"))
	// Non-policy files are ignored, broken ones are skipped.
	writePolicy(t, filepath.Join(dir, "README.md"), "# Policies")
	writePolicy(t, filepath.Join(dir, "broken.json"), "{")

	single := filepath.Join(root, "single.rego")
	writePolicy(t, single, fmtPolicy("single"))

	policies, err := LoadPaths(zerolog.Nop(), []string{dir, single})
	if err != nil {
		t.Fatalf("LoadPaths failed: %v", err)
	}

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	want := []string{"b", "a", "single"}
	if len(names) != len(want) {
		t.Fatalf("Expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, names)
		}
	}
}

func TestLoadPaths_ExplicitFileMustLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	writePolicy(t, path, "{")

	if _, err := LoadPaths(zerolog.Nop(), []string{path}); err == nil {
		t.Error("Expected error for a broken file named explicitly")
	}
	if _, err := LoadPaths(zerolog.Nop(), []string{"/nonexistent/path"}); err == nil {
		t.Error("Expected error for a missing path")
	}
}

func TestRegoHeader(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantDesc     string
		wantSeverity Severity
	}{
		{
			name:     "single line comment",
			content:  "# Limits the case count\npackage test",
			wantDesc: "Limits the case count",
		},
		{
			name:     "multi line comments",
			content:  "# Limits the case count\n# of every sweep\npackage test",
			wantDesc: "Limits the case count of every sweep",
		},
		{
			name:     "no comments",
			content:  "package test\n\ndeny contains \"x\" if false",
			wantDesc: "",
		},
		{
			name:     "empty comment lines",
			content:  "# First line\n#\n# Second line\npackage test",
			wantDesc: "First line Second line",
		},
		{
			name:         "severity line",
			content:      "# Blocks bad drivers\n# Severity: Critical\npackage test\n# not part of the header",
			wantDesc:     "Blocks bad drivers",
			wantSeverity: SeverityCritical,
		},
		{
			name:     "colon in description",
			content:  "# note: bounds are inclusive\npackage test",
			wantDesc: "note: bounds are inclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, severity := regoHeader(tt.content)
			if desc != tt.wantDesc {
				t.Errorf("Expected description '%s', got '%s'", tt.wantDesc, desc)
			}
			if severity != tt.wantSeverity {
				t.Errorf("Expected severity '%s', got '%s'", tt.wantSeverity, severity)
			}
		})
	}
}

func TestWatcherCovers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "single.rego")
	writePolicy(t, file, fmtPolicy("single"))

	w, err := NewWatcher(zerolog.Nop(), []string{dir, file})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	tests := []struct {
		name string
		want bool
	}{
		{filepath.Join(dir, "a.rego"), true},
		{filepath.Join(dir, "sub", "b.rego"), true},
		{file, true},
		{filepath.Join(filepath.Dir(file), "other.rego"), false},
	}
	for _, tt := range tests {
		if got := w.covers(tt.name); got != tt.want {
			t.Errorf("covers(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
