package value

import (
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cryguy/jsbridge/internal/core"
)

// identity is the reference identity of a composite host value. Slices
// include their length so two views of one backing array stay distinct.
type identity struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

type child struct {
	key string
	v   any
}

// composite is a host value that encodes to a List or Map.
type composite struct {
	ident    identity
	hasIdent bool
	list     bool
	children []child
}

// frame is a composite being encoded. The encoder keeps frames on an
// explicit stack instead of recursing, so graph depth is bounded by memory
// rather than by the goroutine stack.
type frame struct {
	id      int
	list    bool
	kids    []child
	next    int
	items   []Value
	entries []Entry
}

func (f *frame) add(v Value) {
	if f.list {
		f.items = append(f.items, v)
		return
	}
	f.entries = append(f.entries, Entry{Key: escapeKey(f.kids[f.next-1].key), Value: v})
}

func (f *frame) close() Value {
	id := Entry{Key: idKey, Value: StringValue(strconv.Itoa(f.id))}
	if f.list {
		items := f.items
		if items == nil {
			items = []Value{}
		}
		return MapValue(id, Entry{Key: valuesKey, Value: ListValue(items...)})
	}
	return MapValue(append([]Entry{id}, f.entries...)...)
}

func refValue(id int) Value {
	return MapValue(Entry{Key: refKey, Value: StringValue(strconv.Itoa(id))})
}

// escapeKey doubles a leading '$' so user keys never collide with $id,
// $ref and $values.
func escapeKey(k string) string {
	if strings.HasPrefix(k, "$") {
		return "$" + k
	}
	return k
}

func unescapeKey(k string) string {
	if strings.HasPrefix(k, "$$") {
		return k[1:]
	}
	return k
}

type encoder struct {
	nextID int
	seen   map[identity]int
}

// Encode converts a host value to a transport Value.
//
// Supported host values: nil, bool, integers, floats, string, Char,
// []byte, time.Time, *big.Int, Value, slices, arrays, maps with string
// keys, pointers to any of these, Encodable implementations and types
// installed with Register. Anything else fails with ErrUnsupportedType.
func Encode(v any) (Value, error) {
	e := &encoder{seen: make(map[identity]int)}
	return e.encode(v)
}

func (e *encoder) encode(root any) (Value, error) {
	v, c, err := e.classify(root)
	if err != nil || c == nil {
		return v, err
	}

	stack := []*frame{e.open(c)}
	var result Value
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if f.next == len(f.kids) {
			stack = stack[:len(stack)-1]
			done := f.close()
			if len(stack) == 0 {
				result = done
			} else {
				stack[len(stack)-1].add(done)
			}
			continue
		}

		k := f.kids[f.next]
		f.next++
		v, c, err := e.classify(k.v)
		if err != nil {
			return Value{}, err
		}
		if c == nil {
			f.add(v)
			continue
		}
		// A composite on the current path or already written is replaced
		// by a reference to its id.
		if c.hasIdent {
			if id, ok := e.seen[c.ident]; ok {
				f.add(refValue(id))
				continue
			}
		}
		stack = append(stack, e.open(c))
	}
	return result, nil
}

func (e *encoder) open(c *composite) *frame {
	e.nextID++
	if c.hasIdent {
		e.seen[c.ident] = e.nextID
	}
	return &frame{id: e.nextID, list: c.list, kids: c.children}
}

// classify returns either a scalar Value or a composite to descend into.
func (e *encoder) classify(v any) (Value, *composite, error) {
	switch x := v.(type) {
	case nil:
		return NullValue(), nil, nil
	case Value:
		return x, nil, nil
	case bool:
		return BoolValue(x), nil, nil
	case int:
		return intValue(int64(x)), nil, nil
	case int8:
		return IntValue(int64(x)), nil, nil
	case int16:
		return IntValue(int64(x)), nil, nil
	case int32:
		return IntValue(int64(x)), nil, nil
	case int64:
		return intValue(x), nil, nil
	case uint:
		return uintValue(uint64(x)), nil, nil
	case uint8:
		return IntValue(int64(x)), nil, nil
	case uint16:
		return IntValue(int64(x)), nil, nil
	case uint32:
		return IntValue(int64(x)), nil, nil
	case uint64:
		return uintValue(x), nil, nil
	case float32:
		return DoubleValue(float64(x)), nil, nil
	case float64:
		return DoubleValue(x), nil, nil
	case string:
		return markString(x), nil, nil
	case Char:
		return markString(string(rune(x))), nil, nil
	case []byte:
		return BinaryValue(x), nil, nil
	case time.Time:
		return markDate(x), nil, nil
	case *time.Time:
		if x == nil {
			return NullValue(), nil, nil
		}
		return markDate(*x), nil, nil
	case *big.Int:
		if x == nil {
			return NullValue(), nil, nil
		}
		if x.IsInt64() {
			return intValue(x.Int64()), nil, nil
		}
		return markBigInt(x.String()), nil, nil
	case []any:
		if x == nil {
			return NullValue(), nil, nil
		}
		return Value{}, listComposite(reflect.ValueOf(x), x), nil
	case map[string]any:
		if x == nil {
			return NullValue(), nil, nil
		}
		return Value{}, mapComposite(reflect.ValueOf(x), x), nil
	}

	if fn, ok := lookupFields(v); ok {
		return Value{}, fieldsComposite(v, fn(v)), nil
	}
	if enc, ok := v.(Encodable); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return NullValue(), nil, nil
		}
		return Value{}, fieldsComposite(v, enc.Fields()), nil
	}
	return e.classifyReflect(reflect.ValueOf(v))
}

func (e *encoder) classifyReflect(rv reflect.Value) (Value, *composite, error) {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return NullValue(), nil, nil
		}
		return e.classify(rv.Elem().Interface())
	case reflect.Interface:
		if rv.IsNil() {
			return NullValue(), nil, nil
		}
		return e.classify(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return NullValue(), nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return BinaryValue(rv.Bytes()), nil, nil
		}
		return Value{}, listComposite(rv, nil), nil
	case reflect.Array:
		return Value{}, listComposite(rv, nil), nil
	case reflect.Map:
		if rv.IsNil() {
			return NullValue(), nil, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, nil, fmt.Errorf("value: map key %s: %w", rv.Type().Key(), core.ErrUnsupportedType)
		}
		return Value{}, mapComposite(rv, nil), nil
	case reflect.Bool:
		return BoolValue(rv.Bool()), nil, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intValue(rv.Int()), nil, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintValue(rv.Uint()), nil, nil
	case reflect.Float32, reflect.Float64:
		return DoubleValue(rv.Float()), nil, nil
	case reflect.String:
		return markString(rv.String()), nil, nil
	}
	if !rv.IsValid() {
		return NullValue(), nil, nil
	}
	return Value{}, nil, fmt.Errorf("value: %s: %w", rv.Type(), core.ErrUnsupportedType)
}

func listComposite(rv reflect.Value, items []any) *composite {
	c := &composite{list: true}
	if rv.Kind() == reflect.Slice && rv.Len() > 0 {
		c.ident = identity{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}
		c.hasIdent = true
	}
	if items != nil {
		c.children = make([]child, len(items))
		for i, it := range items {
			c.children[i].v = it
		}
		return c
	}
	c.children = make([]child, rv.Len())
	for i := range c.children {
		c.children[i].v = rv.Index(i).Interface()
	}
	return c
}

func mapComposite(rv reflect.Value, m map[string]any) *composite {
	c := &composite{
		ident:    identity{typ: rv.Type(), ptr: rv.Pointer()},
		hasIdent: true,
	}
	if m != nil {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		c.children = make([]child, len(keys))
		for i, k := range keys {
			c.children[i] = child{key: k, v: m[k]}
		}
		return c
	}
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	c.children = make([]child, len(keys))
	for i, k := range keys {
		c.children[i] = child{key: k.String(), v: rv.MapIndex(k).Interface()}
	}
	return c
}

func fieldsComposite(v any, fields []Field) *composite {
	c := &composite{children: make([]child, len(fields))}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		c.ident = identity{typ: rv.Type(), ptr: rv.Pointer()}
		c.hasIdent = true
	case reflect.Slice:
		if rv.Len() > 0 {
			c.ident = identity{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}
			c.hasIdent = true
		}
	}
	for i, f := range fields {
		c.children[i] = child{key: f.Name, v: f.Value}
	}
	return c
}
