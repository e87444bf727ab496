package expr

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ToStarlark maps a variable value onto the Starlark value an expression
// sees. Only the shapes a Variable can hold are accepted.
func ToStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float32:
		return starlark.Float(x), nil
	case float64:
		return starlark.Float(x), nil
	case []float64:
		elems := make([]starlark.Value, 0, len(x))
		for _, f := range x {
			elems = append(elems, starlark.Float(f))
		}
		return starlark.NewList(elems), nil
	case []any:
		elems := make([]starlark.Value, 0, len(x))
		for i, e := range x {
			sv, err := ToStarlark(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	}
	return nil, fmt.Errorf("unsupported type: %T", v)
}

// FromStarlark maps an expression result back to a variable value. Integers
// come back as int and a sequence holding only numbers as []float64.
func FromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return x.GoString(), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.Int:
		n, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s overflows int64", x)
		}
		return int(n), nil
	case *starlark.List:
		return fromIndexable(x)
	case starlark.Tuple:
		return fromIndexable(x)
	case *starlarkstruct.Struct:
		fields := make(map[string]any, len(x.AttrNames()))
		for _, name := range x.AttrNames() {
			attr, err := x.Attr(name)
			if err != nil {
				continue
			}
			if fields[name], err = FromStarlark(attr); err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
		}
		return fields, nil
	}
	return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
}

func fromIndexable(seq starlark.Indexable) (any, error) {
	n := seq.Len()
	items := make([]any, n)
	floats := make([]float64, n)
	numeric := true
	for i := range n {
		item, err := FromStarlark(seq.Index(i))
		if err != nil {
			return nil, err
		}
		items[i] = item
		switch num := item.(type) {
		case int:
			floats[i] = float64(num)
		case float64:
			floats[i] = num
		default:
			numeric = false
		}
	}
	if numeric {
		return floats, nil
	}
	return items, nil
}
