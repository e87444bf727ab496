package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks a violation. Error and critical violations stop a study
// from running; info and warning ones are only reported.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity block a run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego module. Its package reports violations through a
// "deny" set of strings or of objects with message, subject and severity keys.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"` // used when a deny entry sets none
	Enabled     bool     `json:"enabled"`
	Tags        []string `json:"tags,omitempty"`

	// Metadata["source"] is the file the policy was read from.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single deny entry.
type Violation struct {
	Policy     string    `json:"policy"`
	Subject    string    `json:"subject,omitempty"` // e.g. a parameter key
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
}

func (v Violation) String() string {
	name := v.Policy
	if v.Subject != "" {
		name += " (" + v.Subject + ")"
	}
	return fmt.Sprintf("[%s] %s: %s", v.Severity, name, v.Message)
}

// Result is the outcome of evaluating every enabled policy against one
// study. Allowed is false as soon as one violation is blocking.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Violations        []Violation   `json:"violations,omitempty"`
	Failures          []string      `json:"failures,omitempty"` // policies that failed to evaluate
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the violations that block a run.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Err returns an error listing the blocking violations, or nil when the
// result is allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	blocking := r.Blocking()
	msgs := make([]string, len(blocking))
	for i, v := range blocking {
		msgs[i] = v.String()
	}
	return fmt.Errorf("study rejected by policy: %s", strings.Join(msgs, "; "))
}

// Input is the Rego input document.
type Input struct {
	Study   *StudyInput `json:"study"`
	Context *Context    `json:"context"`
}

// StudyInput describes a study with its parameters as the driver resolved
// them.
type StudyInput struct {
	Name       string           `json:"name"`
	Model      string           `json:"model"`
	Driver     string           `json:"driver"`
	Components []string         `json:"components"`
	Parameters []ParameterInput `json:"parameters"`
	Outputs    []string         `json:"outputs"`
	Recorders  []RecorderInput  `json:"recorders"`
	CaseCount  int              `json:"case_count"`
}

// normalize replaces nil slices with empty ones so Rego sees [] rather
// than null.
func (s *StudyInput) normalize() {
	if s.Components == nil {
		s.Components = []string{}
	}
	if s.Parameters == nil {
		s.Parameters = []ParameterInput{}
	}
	if s.Outputs == nil {
		s.Outputs = []string{}
	}
	if s.Recorders == nil {
		s.Recorders = []RecorderInput{}
	}
	for i := range s.Parameters {
		if s.Parameters[i].Targets == nil {
			s.Parameters[i].Targets = []string{}
		}
	}
}

// ParameterInput is a registered parameter with its resolved bounds.
type ParameterInput struct {
	Key     string   `json:"key"`
	Targets []string `json:"targets"`
	Low     *float64 `json:"low"`
	High    *float64 `json:"high"`
	FDStep  *float64 `json:"fd_step"`
}

// RecorderInput is a configured recorder.
type RecorderInput struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// Context says who is evaluating the study and for which command.
type Context struct {
	User      string    `json:"user,omitempty"`
	Operation string    `json:"operation,omitempty"` // run, validate or watch
	Timestamp time.Time `json:"timestamp"`
	DryRun    bool      `json:"dry_run"`
}

// PolicyBundle is a JSON file carrying several policies. Each bundled policy
// gets a "bundle:<name>" tag when loaded.
type PolicyBundle struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Policies    []Policy  `json:"policies"`
	CreatedAt   time.Time `json:"created_at"`
}
