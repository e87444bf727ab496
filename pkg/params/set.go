package params

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/expr"
)

// Owner is the driver a Set belongs to.
type Owner interface {
	// Name is used for dependency edges and to tag errors.
	Name() string

	// Scope is what targets resolve against.
	Scope() expr.Scope
}

// Resolver turns a target path into a Handle bound to scope.
type Resolver func(text string, scope expr.Scope) (Handle, error)

// ResolveExpr is the default Resolver, backed by expr.New.
func ResolveExpr(text string, scope expr.Scope) (Handle, error) {
	e, err := expr.New(text, scope)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Set is the validated, ordered catalog of parameters owned by a driver.
// It is not safe for concurrent use.
type Set struct {
	owner   Owner
	params  *Parameters
	resolve Resolver
	logger  zerolog.Logger
}

// SetOption configures a Set.
type SetOption func(*Set)

// WithResolver replaces the default expression resolver.
func WithResolver(r Resolver) SetOption {
	return func(s *Set) {
		s.resolve = r
	}
}

// WithLogger sets the logger used to report accepted parameters.
func WithLogger(logger zerolog.Logger) SetOption {
	return func(s *Set) {
		s.logger = logger
	}
}

// NewSet creates an empty Set for owner.
func NewSet(owner Owner, opts ...SetOption) *Set {
	s := &Set{
		owner:   owner,
		params:  newParameters(),
		resolve: ResolveExpr,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type addOptions struct {
	low    *float64
	high   *float64
	fdStep *float64
}

// AddOption sets an optional argument of Add and AddGroup.
type AddOption func(*addOptions)

// WithLow supplies a lower bound.
func WithLow(v float64) AddOption {
	return func(o *addOptions) {
		o.low = &v
	}
}

// WithHigh supplies an upper bound.
func WithHigh(v float64) AddOption {
	return func(o *addOptions) {
		o.high = &v
	}
}

// WithFDStep supplies a finite difference step.
func WithFDStep(v float64) AddOption {
	return func(o *addOptions) {
		o.fdStep = &v
	}
}

// Add registers a single target under its own name.
func (s *Set) Add(target string, opts ...AddOption) error {
	return s.add([]string{target}, Key(target), opts)
}

// AddGroup registers targets that are driven by one shared value. The key
// is GroupKey(targets...). A single target is registered as with Add.
func (s *Set) AddGroup(targets []string, opts ...AddOption) error {
	switch len(targets) {
	case 0:
		return s.fail(engine.NewValueError("Can't add parameter: no targets given", nil).
			WithCode(engine.ErrCodeValidation))
	case 1:
		return s.Add(targets[0], opts...)
	}

	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if seen[t] {
			return s.fail(engine.NewValueError(
				fmt.Sprintf("'%s' appears more than once in %s", t, GroupKey(targets...)), nil,
			).WithCode(engine.ErrCodeAlreadyExists))
		}
		seen[t] = true
	}

	return s.add(append([]string(nil), targets...), GroupKey(targets...), opts)
}

// add validates every target before anything is stored, so a failure leaves
// the Set unchanged.
func (s *Set) add(names []string, key Key, opts []AddOption) error {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	existing := make(map[string]bool)
	for _, t := range s.ListTargets() {
		existing[t] = true
	}
	for _, name := range names {
		if existing[name] {
			return s.fail(engine.NewValueError(
				fmt.Sprintf("'%s' is already the target of a Parameter", name), nil,
			).WithCode(engine.ErrCodeAlreadyExists))
		}
	}

	scope := s.owner.Scope()
	built := make([]*Parameter, 0, len(names))
	metas := make([]expr.Metadata, 0, len(names))
	values := make([]any, 0, len(names))

	for _, name := range names {
		h, err := s.resolve(name, scope)
		if err != nil {
			return engine.Raise(s.owner.Name(), "Can't add parameter", err)
		}
		p, err := NewParameter(h, copyFloat(o.low), copyFloat(o.high), copyFloat(o.fdStep))
		if err != nil {
			return engine.Raise(s.owner.Name(), "Can't add parameter", err)
		}

		meta, err := p.Metadata()
		if err != nil {
			return s.fail(engine.NewAttributeError(
				fmt.Sprintf("Can't add parameter '%s' because it doesn't exist.", name), err,
			).WithCode(engine.ErrCodeNotFound))
		}

		val, err := p.Evaluate(nil)
		if err != nil {
			return s.fail(engine.NewValueError(
				fmt.Sprintf("Can't add parameter because I can't evaluate '%s'.", name), err,
			))
		}

		built = append(built, p)
		metas = append(metas, meta)
		values = append(values, val)
	}

	// Mixed member types are reported before any member's bounds.
	if len(names) > 1 && len(typeFamilies(values)) > 1 {
		return s.fail(engine.NewValueError(
			fmt.Sprintf("Can not add parameter %s because %s are not the same type",
				key, strings.Join(names, " and ")), nil,
		).WithCode(engine.ErrCodeType))
	}

	for i, p := range built {
		if !isNumeric(values[i]) {
			return s.fail(engine.NewValueError(
				fmt.Sprintf("The value of parameter '%s' must be of type float or int, but its type is '%s'.",
					names[i], typeName(values[i])), nil,
			).WithCode(engine.ErrCodeType))
		}
		if err := s.resolveBounds(p, metas[i]); err != nil {
			return err
		}
	}

	if len(built) == 1 {
		s.params.put(key, built[0])
	} else {
		s.params.put(key, NewGroup(built))
	}

	s.logger.Debug().
		Str("owner", s.owner.Name()).
		Str("key", string(key)).
		Int("targets", len(built)).
		Msg("Parameter added")

	return nil
}

// resolveBounds merges the supplied bounds with the declared ones. Supplied
// bounds may only narrow the declared range.
func (s *Set) resolveBounds(p *Parameter, meta expr.Metadata) error {
	name := p.Target()
	reject := func(format string, args ...any) error {
		return s.fail(engine.NewValueError(fmt.Sprintf(format, args...), nil).
			WithCode(engine.ErrCodeBounds).
			WithDetail("target", name).
			WithDetail("low", detailFloat(p.Low)).
			WithDetail("high", detailFloat(p.High)))
	}

	if p.Low == nil {
		p.Low = copyFloat(meta.Low)
	} else if meta.Low != nil && *p.Low < *meta.Low {
		return reject("Trying to add parameter '%s', but the lower limit supplied (%s) exceeds the built-in lower limit (%s).",
			name, formatFloat(*p.Low), formatFloat(*meta.Low))
	}

	if p.High == nil {
		p.High = copyFloat(meta.High)
	} else if meta.High != nil && *p.High > *meta.High {
		return reject("Trying to add parameter '%s', but the upper limit supplied (%s) exceeds the built-in upper limit (%s).",
			name, formatFloat(*p.High), formatFloat(*meta.High))
	}

	// Enumerated variables need no bounds.
	if len(meta.Values) == 0 {
		if p.Low == nil {
			return reject("Trying to add parameter '%s', but no lower limit was found and no 'low' argument was given. One or the other must be specified.", name)
		}
		if p.High == nil {
			return reject("Trying to add parameter '%s', but no upper limit was found and no 'high' argument was given. One or the other must be specified.", name)
		}
	}

	if p.Low != nil && p.High != nil && *p.Low > *p.High {
		return reject("Parameter '%s' has a lower bound (%s) that exceeds its upper bound (%s)",
			name, formatFloat(*p.Low), formatFloat(*p.High))
	}

	return nil
}

// detailFloat is v for error details, nil when the bound is unset.
func detailFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// RemoveParameter deletes the entry registered under key.
func (s *Set) RemoveParameter(key Key) error {
	if !s.params.remove(key) {
		return s.fail(engine.NewAttributeError(
			fmt.Sprintf("Trying to remove parameter '%s' that is not in this driver.", key), nil,
		).WithCode(engine.ErrCodeNotFound))
	}
	return nil
}

// ListParameters returns the keys sorted lexicographically. Use
// GetParameters for the positional order.
func (s *Set) ListParameters() []Key {
	keys := s.params.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ListTargets returns every target, group members included, sorted.
func (s *Set) ListTargets() []string {
	var targets []string
	s.params.Range(func(_ Key, e Entry) bool {
		targets = append(targets, e.Targets()...)
		return true
	})
	sort.Strings(targets)
	return targets
}

// ClearParameters drops all entries. A *Parameters obtained earlier from
// GetParameters keeps its contents.
func (s *Set) ClearParameters() {
	s.params = newParameters()
}

// GetParameters returns the live ordered mapping. Callers must not modify
// the entries it holds.
func (s *Set) GetParameters() *Parameters {
	return s.params
}

// SetParameters assigns values[i] to the i-th entry in insertion order.
func (s *Set) SetParameters(values []any) error {
	if len(values) != s.params.Len() {
		return s.fail(engine.NewValueError(
			fmt.Sprintf("number of input values (%d) != number of parameters (%d)", len(values), s.params.Len()), nil,
		).WithCode(engine.ErrCodeValidation))
	}

	for i, k := range s.params.keys {
		if err := s.params.entries[k].Set(values[i], nil); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateParameters returns the current value of every entry in insertion
// order. A group reports its first member.
func (s *Set) EvaluateParameters() ([]any, error) {
	values := make([]any, 0, s.params.Len())
	for _, k := range s.params.keys {
		v, err := s.params.entries[k].Evaluate(nil)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// GetExprDepends returns an edge from the owner to every component the
// parameters reference, in insertion order.
func (s *Set) GetExprDepends() []engine.Dependency {
	var deps []engine.Dependency
	owner := s.owner.Name()
	s.params.Range(func(_ Key, e Entry) bool {
		for _, comp := range e.ReferencedComponents() {
			deps = append(deps, engine.Dependency{
				Source: owner,
				Target: comp,
				Type:   engine.DependencyParameter,
			})
		}
		return true
	})
	return deps
}

func (s *Set) fail(err *engine.Error) error {
	return err.WithComponent(s.owner.Name())
}

// typeFamilies groups values into "numeric" and one family per other type.
func typeFamilies(values []any) map[string]bool {
	families := make(map[string]bool)
	for _, v := range values {
		if isNumeric(v) {
			families["numeric"] = true
		} else {
			families[typeName(v)] = true
		}
	}
	return families
}

func isNumeric(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatOptional(f *float64) string {
	if f == nil {
		return "None"
	}
	return formatFloat(*f)
}
