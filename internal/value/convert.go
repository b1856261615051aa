package value

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/cryguy/jsbridge/internal/core"
)

const maxConvertDepth = 10000

var timeType = reflect.TypeFor[time.Time]()

// Convert converts a decoded host value to the statically expected type T.
//
// Integers are coerced to floating point only when T (or the element type
// being filled) is a float type. When T is an interface type the decoded
// value is returned as is: a dynamic result that arrived as an integer
// stays an int.
func Convert[T any](v any) (T, error) {
	var zero T
	rv, err := ConvertTo(v, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	if !rv.IsValid() {
		return zero, nil
	}
	return rv.Interface().(T), nil
}

// ConvertTo converts a decoded host value to a value of type t.
func ConvertTo(v any, t reflect.Type) (reflect.Value, error) {
	return convert(v, t, 0)
}

func convert(v any, t reflect.Type, depth int) (reflect.Value, error) {
	if depth > maxConvertDepth {
		return reflect.Value{}, fmt.Errorf("value: converting to %s: %w", t, core.ErrCycleGuardViolation)
	}
	if t.Kind() == reflect.Interface {
		if v == nil {
			return reflect.Zero(t), nil
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().Implements(t) {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)

	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		f, ok := toFloat(v)
		if !ok {
			return reflect.Value{}, mismatch(v, t)
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := toInt(v)
		if !ok {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("value: %d overflows %s", i, t)
		}
		out.SetInt(i)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u, ok := toUint(v)
		if !ok {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.New(t).Elem()
		if out.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("value: %d overflows %s", u, t)
		}
		out.SetUint(u)
		return out, nil
	}

	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(t) && rv.Kind() == t.Kind() && t.Kind() != reflect.Slice && t.Kind() != reflect.Map {
		return rv.Convert(t), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem, err := convert(v, t.Elem(), depth+1)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	case reflect.Slice:
		if s, ok := v.(string); ok && t.Elem().Kind() == reflect.Uint8 {
			return reflect.ValueOf([]byte(s)).Convert(t), nil
		}
		items, ok := v.([]any)
		if !ok {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, it := range items {
			ev, err := convert(it, t.Elem(), depth+1)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case reflect.Array:
		items, ok := v.([]any)
		if !ok || len(items) != t.Len() {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.New(t).Elem()
		for i, it := range items {
			ev, err := convert(it, t.Elem(), depth+1)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case reflect.Map:
		m, ok := v.(map[string]any)
		if !ok || t.Key().Kind() != reflect.String {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.MakeMapWithSize(t, len(m))
		for k, it := range m {
			ev, err := convert(it, t.Elem(), depth+1)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("%s: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		return out, nil
	case reflect.Struct:
		if t == timeType {
			return reflect.Value{}, mismatch(v, t)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return reflect.Value{}, mismatch(v, t)
		}
		return convertStruct(m, t, depth)
	}
	return reflect.Value{}, mismatch(v, t)
}

// convertStruct fills exported fields from map entries, matching the json
// tag name first and then the field name case-insensitively.
func convertStruct(m map[string]any, t reflect.Type, depth int) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, _, _ := strings.Cut(sf.Tag.Get("json"), ","); tag != "" {
			if tag == "-" {
				continue
			}
			name = tag
		}
		raw, ok := m[name]
		if !ok {
			for k, v := range m {
				if strings.EqualFold(k, name) {
					raw, ok = v, true
					break
				}
			}
		}
		if !ok {
			continue
		}
		fv, err := convert(raw, sf.Type, depth+1)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s: %w", sf.Name, err)
		}
		out.Field(i).Set(fv)
	}
	return out, nil
}

func mismatch(v any, t reflect.Type) error {
	return fmt.Errorf("value: cannot convert %T to %s: %w", v, t, core.ErrUnsupportedType)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func toUint(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int, int64, float64:
		i, ok := toInt(x)
		if !ok || i < 0 {
			return 0, false
		}
		return uint64(i), true
	}
	return 0, false
}
