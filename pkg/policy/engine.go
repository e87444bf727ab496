package policy

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"
)

// DefaultMaxCases is the case limit the case-limits policy reads from
// data.mdao.limits.max_cases.
const DefaultMaxCases = 10000

var maxCasesPath = storage.MustParsePath("/mdao/limits/max_cases")

// Engine evaluates Rego policies against studies. The built-in policies are
// always loaded; file policies are added on top and replace built-ins of the
// same name.
type Engine struct {
	store  storage.Store
	logger zerolog.Logger

	mu  sync.RWMutex
	set policySet
}

type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// policySet maps policy names to their prepared queries.
type policySet map[string]*compiledPolicy

// NewEngine returns an engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		store: inmem.NewFromObject(map[string]interface{}{
			"mdao": map[string]interface{}{
				"limits": map[string]interface{}{"max_cases": DefaultMaxCases},
			},
		}),
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	set, err := e.compileOnto(context.Background(), nil, nil)
	if err != nil {
		return nil, err
	}
	e.set = set
	return e, nil
}

// SetMaxCases changes the limit enforced by the case-limits policy.
func (e *Engine) SetMaxCases(ctx context.Context, limit int) error {
	if err := storage.WriteOne(ctx, e.store, storage.ReplaceOp, maxCasesPath, limit); err != nil {
		return fmt.Errorf("failed to set case limit: %w", err)
	}
	return nil
}

// compileOnto returns a copy of base, or of the built-ins when base is nil,
// with policies compiled into it.
func (e *Engine) compileOnto(ctx context.Context, base policySet, policies []Policy) (policySet, error) {
	set := maps.Clone(base)
	if set == nil {
		set = policySet{}
		for _, p := range GetBuiltinPolicies() {
			cp, err := e.compile(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("built-in policy %s: %w", p.Name, err)
			}
			set[p.Name] = cp
		}
	}
	for _, p := range policies {
		cp, err := e.compile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		set[p.Name] = cp
	}
	return set, nil
}

// compile prepares data.<package>.deny for p.
func (e *Engine) compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, err
	}
	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().Str("policy", p.Name).Str("query", query).Msg("Compiled policy")
	return &compiledPolicy{policy: &p, query: prepared}, nil
}

func (e *Engine) swap(set policySet) {
	e.mu.Lock()
	e.set = set
	e.mu.Unlock()
}

func (e *Engine) snapshot() policySet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.set
}

// Evaluate runs every enabled policy against input in name order. A policy
// that fails to evaluate is listed in Result.Failures and does not block.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	if input == nil || input.Study == nil {
		return nil, fmt.Errorf("policy input has no study")
	}
	if input.Context == nil {
		input.Context = &Context{}
	}
	if input.Context.Timestamp.IsZero() {
		input.Context.Timestamp = time.Now()
	}
	input.Study.normalize()

	began := time.Now()
	set := e.snapshot()
	result := &Result{Allowed: true, EvaluatedPolicies: []string{}}

	for _, name := range slices.Sorted(maps.Keys(set)) {
		cp := set[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		found, err := cp.violations(ctx, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Str("study", input.Study.Name).Msg("Policy evaluation failed")
			result.Failures = append(result.Failures, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}
		result.Violations = append(result.Violations, found...)
	}

	result.Allowed = !slices.ContainsFunc(result.Violations, func(v Violation) bool {
		return v.Severity.Blocking()
	})
	result.EvaluatedAt = time.Now()
	result.Duration = result.EvaluatedAt.Sub(began)

	e.logger.Debug().
		Str("study", input.Study.Name).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Evaluated study policies")
	return result, nil
}

// violations evaluates the deny set. Sets come back unordered, so the
// result is sorted by subject and then message.
func (cp *compiledPolicy) violations(ctx context.Context, input *Input) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []Violation
	for _, r := range rs {
		for _, expr := range r.Expressions {
			entries, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, entry := range entries {
				out = append(out, cp.violation(entry, now))
			}
		}
	}
	slices.SortStableFunc(out, func(a, b Violation) int {
		return cmp.Or(strings.Compare(a.Subject, b.Subject), strings.Compare(a.Message, b.Message))
	})
	return out, nil
}

// violation converts one deny entry. An object entry may override the
// policy's severity and name a subject.
func (cp *compiledPolicy) violation(entry interface{}, at time.Time) Violation {
	v := Violation{Policy: cp.policy.Name, Severity: cp.policy.Severity, DetectedAt: at}
	obj, ok := entry.(map[string]interface{})
	if !ok {
		if s, isString := entry.(string); isString {
			v.Message = s
		} else {
			v.Message = fmt.Sprint(entry)
		}
		return v
	}
	if s, ok := obj["message"].(string); ok {
		v.Message = s
	}
	if s, ok := obj["severity"].(string); ok {
		v.Severity = Severity(s)
	}
	if s, ok := obj["subject"].(string); ok {
		v.Subject = s
	}
	return v
}

// LoadPolicies adds the policies read from paths. Nothing changes if any of
// them fails to compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := LoadPaths(e.logger, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	set, err := e.compileOnto(ctx, e.set, policies)
	if err != nil {
		return err
	}
	e.set = set

	e.logger.Info().Int("count", len(policies)).Strs("paths", paths).Msg("Loaded policies")
	return nil
}

// ReplacePolicies swaps every loaded policy for the built-ins plus policies.
// Nothing changes if any policy fails to compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	set, err := e.compileOnto(ctx, nil, policies)
	if err != nil {
		return err
	}
	e.swap(set)

	e.logger.Info().Int("count", len(policies)).Msg("Replaced policies")
	return nil
}

// ReloadPolicies drops file policies and restores the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	return e.ReplacePolicies(ctx, nil)
}

// Watch loads the policies under paths and reloads them whenever a policy
// file changes, until ctx is done or the returned watcher is closed.
// onReload, if set, is called after every reload attempt.
func (e *Engine) Watch(ctx context.Context, paths []string, onReload func(error)) (*Watcher, error) {
	policies, err := LoadPaths(e.logger, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	if err := e.ReplacePolicies(ctx, policies); err != nil {
		return nil, err
	}

	w, err := NewWatcher(e.logger, paths)
	if err != nil {
		return nil, err
	}
	go w.Run(ctx, func(policies []Policy) error {
		err := e.ReplacePolicies(ctx, policies)
		if onReload != nil {
			onReload(err)
		}
		return err
	})
	return w, nil
}

// GetPolicy returns the loaded policy called name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	cp, ok := e.snapshot()[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns copies of the loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	set := e.snapshot()
	out := make([]Policy, 0, len(set))
	for _, name := range slices.Sorted(maps.Keys(set)) {
		out = append(out, *set[name].policy)
	}
	return out
}

// EnablePolicy turns a loaded policy back on.
func (e *Engine) EnablePolicy(name string) error { return e.setEnabled(name, true) }

// DisablePolicy keeps a policy loaded but skips it in Evaluate.
func (e *Engine) DisablePolicy(name string) error { return e.setEnabled(name, false) }

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.set[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	// Evaluate reads snapshots without the lock, so the set is copied.
	p := *cp.policy
	p.Enabled = enabled
	set := maps.Clone(e.set)
	set[name] = &compiledPolicy{policy: &p, query: cp.query}
	e.set = set
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
