package value

import (
	"fmt"
	"math"
	"strconv"

	"github.com/cryguy/jsbridge/internal/core"
)

// dframe is a container being filled by the decoder.
type dframe struct {
	list    []any
	m       map[string]any
	items   []Value
	entries []Entry
	next    int
}

func (f *dframe) len() int {
	if f.m != nil {
		return len(f.entries)
	}
	return len(f.items)
}

func (f *dframe) set(v any) {
	if f.m != nil {
		f.m[unescapeKey(f.entries[f.next-1].Key)] = v
		return
	}
	f.list[f.next-1] = v
}

func (f *dframe) child() Value {
	if f.m != nil {
		return f.entries[f.next-1].Value
	}
	return f.items[f.next-1]
}

type decoder struct {
	// arena holds every materialized composite, indexed by id-1.
	arena []any
}

// Decode converts a transport Value to a host value. Lists decode to []any,
// maps to map[string]any, Int to int (float64 when it overflows int),
// Double to float64 and Binary to []byte. Marked strings decode to string,
// time.Time, []byte or an integer type. Shared and cyclic references are
// restored as one instance.
func Decode(v Value) (any, error) {
	d := &decoder{}
	return d.decode(v)
}

func (d *decoder) decode(root Value) (any, error) {
	out, f, err := d.node(root)
	if err != nil || f == nil {
		return out, err
	}

	stack := []*dframe{f}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next == top.len() {
			stack = stack[:len(stack)-1]
			continue
		}
		top.next++
		v, cf, err := d.node(top.child())
		if err != nil {
			return nil, err
		}
		// Containers are attached before they are filled; lists have a
		// fixed length so the parent sees the elements written later.
		top.set(v)
		if cf != nil {
			stack = append(stack, cf)
		}
	}
	return out, nil
}

// node materializes one value. For composites it returns the (still empty)
// container and a frame holding its children.
func (d *decoder) node(v Value) (any, *dframe, error) {
	switch v.kind {
	case Null:
		return nil, nil, nil
	case Bool:
		return v.b, nil, nil
	case Int:
		if v.i < math.MinInt || v.i > math.MaxInt {
			return float64(v.i), nil, nil
		}
		return int(v.i), nil, nil
	case Double:
		return v.f, nil, nil
	case String:
		s, err := unmarkString(v.s)
		return s, nil, err
	case Binary:
		if v.bin == nil {
			return []byte{}, nil, nil
		}
		return v.bin, nil, nil
	case List:
		l := make([]any, len(v.list))
		return l, &dframe{list: l, items: v.list}, nil
	case Map:
		return d.mapNode(v)
	}
	return nil, nil, fmt.Errorf("value: kind %d: %w", v.kind, core.ErrUnsupportedType)
}

func (d *decoder) mapNode(v Value) (any, *dframe, error) {
	if ref, ok := v.Get(refKey); ok {
		idx, err := d.refIndex(ref)
		if err != nil {
			return nil, nil, err
		}
		if idx >= len(d.arena) {
			return nil, nil, fmt.Errorf("value: $ref %s before its $id: %w", ref.s, core.ErrCycleGuardViolation)
		}
		return d.arena[idx], nil, nil
	}

	idv, hasID := v.Get(idKey)
	if hasID {
		idx, err := d.refIndex(idv)
		if err != nil {
			return nil, nil, err
		}
		if idx != len(d.arena) {
			return nil, nil, fmt.Errorf("value: $id %s out of sequence: %w", idv.s, core.ErrCycleGuardViolation)
		}
	}

	if values, ok := v.Get(valuesKey); ok && hasID {
		if values.kind != List {
			return nil, nil, fmt.Errorf("value: $values is %s: %w", values.kind, core.ErrCycleGuardViolation)
		}
		l := make([]any, len(values.list))
		d.arena = append(d.arena, l)
		return l, &dframe{list: l, items: values.list}, nil
	}

	entries := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		if e.Key != idKey {
			entries = append(entries, e)
		}
	}
	m := make(map[string]any, len(entries))
	if hasID {
		d.arena = append(d.arena, m)
	}
	return m, &dframe{m: m, entries: entries}, nil
}

// refIndex converts an id or ref payload to an arena index. Ids start at 1.
func (d *decoder) refIndex(v Value) (int, error) {
	var n int64
	switch v.kind {
	case String:
		i, err := strconv.ParseInt(v.s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value: bad reference id %q: %w", v.s, core.ErrCycleGuardViolation)
		}
		n = i
	case Int:
		n = v.i
	default:
		return 0, fmt.Errorf("value: reference id of kind %s: %w", v.kind, core.ErrCycleGuardViolation)
	}
	if n < 1 {
		return 0, fmt.Errorf("value: reference id %d: %w", n, core.ErrCycleGuardViolation)
	}
	return int(n - 1), nil
}
