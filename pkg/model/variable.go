package model

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/expr"
)

// VarType is the declared type of a variable.
type VarType string

const (
	TypeFloat VarType = "float"
	TypeInt   VarType = "int"
	TypeStr   VarType = "str"
	TypeEnum  VarType = "enum"
	TypeArray VarType = "array"
)

// IO direction of a variable.
const (
	IOIn  = "in"
	IOOut = "out"
)

// Variable is a typed, optionally bounded value owned by a component.
type Variable struct {
	Name   string
	Type   VarType
	IOType string
	Low    *float64
	High   *float64
	Values []any
	Units  string
	Desc   string

	value any
}

// NewVariable creates a variable and sets its initial value. A nil initial
// value is replaced by the zero value of the type.
func NewVariable(name string, typ VarType, iotype string, initial any, meta expr.Metadata) (*Variable, error) {
	if iotype == "" {
		iotype = IOIn
	}
	v := &Variable{
		Name:   name,
		Type:   typ,
		IOType: iotype,
		Low:    meta.Low,
		High:   meta.High,
		Values: meta.Values,
		Units:  meta.Units,
		Desc:   meta.Desc,
	}

	if v.Low != nil && v.High != nil && *v.Low > *v.High {
		return nil, engine.NewValueError(
			fmt.Sprintf("variable '%s' has low %s greater than high %s", name, formatNumber(*v.Low), formatNumber(*v.High)), nil,
		).WithCode(engine.ErrCodeBounds)
	}

	if initial == nil {
		initial = v.zero()
	}
	if err := v.Set(initial); err != nil {
		return nil, err
	}
	return v, nil
}

// Value returns the current value.
func (v *Variable) Value() any {
	if arr, ok := v.value.([]float64); ok {
		return append([]float64(nil), arr...)
	}
	return v.value
}

// Metadata returns the declared metadata of the variable.
func (v *Variable) Metadata() expr.Metadata {
	return expr.Metadata{
		Low:    v.Low,
		High:   v.High,
		Values: v.Values,
		Units:  v.Units,
		IOType: v.IOType,
		Desc:   v.Desc,
	}
}

// Set validates value against the declared type and metadata and stores it.
func (v *Variable) Set(value any) error {
	coerced, err := v.coerce(value)
	if err != nil {
		return err
	}
	v.value = coerced
	return nil
}

// Element returns a single element of an array variable.
func (v *Variable) Element(index []int) (any, error) {
	arr, pos, err := v.element(index)
	if err != nil {
		return nil, err
	}
	return arr[pos], nil
}

// SetElement validates and stores a single element of an array variable.
func (v *Variable) SetElement(index []int, value any) error {
	arr, pos, err := v.element(index)
	if err != nil {
		return err
	}
	f, ok := toFloat(value)
	if !ok {
		return v.typeError("a float", value)
	}
	if err := v.checkRange(f); err != nil {
		return err
	}
	arr[pos] = f
	return nil
}

func (v *Variable) element(index []int) ([]float64, int, error) {
	arr, ok := v.value.([]float64)
	if !ok || v.Type != TypeArray {
		return nil, 0, engine.NewValueError(fmt.Sprintf("variable '%s' is not an array", v.Name), nil).
			WithCode(engine.ErrCodeType)
	}
	if len(index) != 1 {
		return nil, 0, engine.NewValueError(
			fmt.Sprintf("variable '%s' is one-dimensional, got %d indices", v.Name, len(index)), nil,
		)
	}
	if index[0] < 0 || index[0] >= len(arr) {
		return nil, 0, engine.NewValueError(
			fmt.Sprintf("index %d out of range for '%s' of length %d", index[0], v.Name, len(arr)), nil,
		)
	}
	return arr, index[0], nil
}

func (v *Variable) coerce(value any) (any, error) {
	switch v.Type {
	case TypeFloat:
		f, ok := toFloat(value)
		if !ok {
			return nil, v.typeError("a float", value)
		}
		if err := v.checkRange(f); err != nil {
			return nil, err
		}
		return f, nil

	case TypeInt:
		n, ok := toInt(value)
		if !ok {
			return nil, v.typeError("an int", value)
		}
		if err := v.checkRange(float64(n)); err != nil {
			return nil, err
		}
		return n, nil

	case TypeStr:
		s, ok := value.(string)
		if !ok {
			return nil, v.typeError("a string", value)
		}
		return s, nil

	case TypeEnum:
		for _, allowed := range v.Values {
			if sameValue(allowed, value) {
				return allowed, nil
			}
		}
		return nil, engine.NewValueError(
			fmt.Sprintf("variable '%s' must be one of %v, but a value of %v was specified", v.Name, v.Values, value), nil,
		).WithCode(engine.ErrCodeValidation)

	case TypeArray:
		arr, ok := toFloatSlice(value)
		if !ok {
			return nil, v.typeError("an array of floats", value)
		}
		for _, f := range arr {
			if err := v.checkRange(f); err != nil {
				return nil, err
			}
		}
		return arr, nil

	default:
		return nil, engine.NewValueError(fmt.Sprintf("variable '%s' has unknown type '%s'", v.Name, v.Type), nil).
			WithCode(engine.ErrCodeType)
	}
}

func (v *Variable) zero() any {
	switch v.Type {
	case TypeFloat:
		if v.Low != nil {
			return *v.Low
		}
		return 0.0
	case TypeInt:
		if v.Low != nil {
			return int(math.Ceil(*v.Low))
		}
		return 0
	case TypeStr:
		return ""
	case TypeEnum:
		if len(v.Values) > 0 {
			return v.Values[0]
		}
		return nil
	case TypeArray:
		return []float64{}
	default:
		return nil
	}
}

func (v *Variable) checkRange(f float64) error {
	if (v.Low != nil && f < *v.Low) || (v.High != nil && f > *v.High) {
		return engine.NewValueError(
			fmt.Sprintf("variable '%s' must be in the range [%s, %s], but attempted value is %s",
				v.Name, formatBound(v.Low), formatBound(v.High), formatNumber(f)), nil,
		).WithCode(engine.ErrCodeBounds)
	}
	return nil
}

func (v *Variable) typeError(want string, value any) error {
	return engine.NewValueError(
		fmt.Sprintf("variable '%s' must be %s, but a value of type %T was specified", v.Name, want, value), nil,
	).WithCode(engine.ErrCodeType)
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

func toFloatSlice(value any) ([]float64, bool) {
	switch arr := value.(type) {
	case []float64:
		return append([]float64(nil), arr...), true
	case []any:
		out := make([]float64, len(arr))
		for i, item := range arr {
			f, ok := toFloat(item)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

// sameValue compares enum members, treating numbers of different Go types
// as equal when their values match.
func sameValue(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

func formatBound(b *float64) string {
	if b == nil {
		return "None"
	}
	return formatNumber(*b)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
