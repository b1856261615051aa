package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// MarshalJSON renders the value as the JSON text consumed by the
// script-side reviver. Binary values become "B"-marked base64 strings.
// Non-finite doubles render as null, as JSON.stringify does.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type wframe struct {
	v    Value
	next int
}

func writeJSON(buf *bytes.Buffer, root Value) error {
	stack := []wframe{{v: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		v := top.v

		if v.kind != List && v.kind != Map {
			if err := writeScalar(buf, v); err != nil {
				return err
			}
			stack = stack[:len(stack)-1]
			continue
		}

		n := v.Len()
		if top.next == 0 {
			if v.kind == List {
				buf.WriteByte('[')
			} else {
				buf.WriteByte('{')
			}
		}
		if top.next == n {
			if v.kind == List {
				buf.WriteByte(']')
			} else {
				buf.WriteByte('}')
			}
			stack = stack[:len(stack)-1]
			continue
		}
		if top.next > 0 {
			buf.WriteByte(',')
		}
		var next Value
		if v.kind == List {
			next = v.list[top.next]
		} else {
			e := v.entries[top.next]
			writeString(buf, e.Key)
			buf.WriteByte(':')
			next = e.Value
		}
		top.next++
		stack = append(stack, wframe{v: next})
	}
	return nil
}

func writeScalar(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Int:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case Double:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			buf.WriteString("null")
			return nil
		}
		b, err := json.Marshal(v.f)
		if err != nil {
			return err
		}
		buf.Write(b)
	case String:
		writeString(buf, v.s)
	case Binary:
		writeString(buf, BinaryMarker+base64.StdEncoding.EncodeToString(v.bin))
	default:
		return fmt.Errorf("value: cannot render kind %s", v.kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

type pframe struct {
	isMap   bool
	items   []Value
	entries []Entry
	key     string
	hasKey  bool
}

func (f *pframe) value() Value {
	if f.isMap {
		return MapValue(f.entries...)
	}
	if f.items == nil {
		return ListValue([]Value{}...)
	}
	return ListValue(f.items...)
}

func (f *pframe) add(v Value) {
	if f.isMap {
		f.entries = append(f.entries, Entry{Key: f.key, Value: v})
		f.hasKey = false
		return
	}
	f.items = append(f.items, v)
}

// ParseJSON reads JSON text produced by MarshalJSON or by the script-side
// stringifier. Integral numbers that fit int64 become Int, other numbers
// Double; "B"-marked strings become Binary. Empty input is Null.
func ParseJSON(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NullValue(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var (
		stack []*pframe
		root  Value
		done  bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Value{}, fmt.Errorf("value: parse: %w", err)
		}
		if done {
			return Value{}, fmt.Errorf("value: parse: trailing data")
		}

		var v Value
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				stack = append(stack, &pframe{isMap: true})
				continue
			case '[':
				stack = append(stack, &pframe{})
				continue
			default:
				f := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				v = f.value()
			}
		case string:
			if n := len(stack); n > 0 && stack[n-1].isMap && !stack[n-1].hasKey {
				stack[n-1].key = t
				stack[n-1].hasKey = true
				continue
			}
			v, err = stringToken(t)
			if err != nil {
				return Value{}, err
			}
		case json.Number:
			v = numberToken(t)
		case bool:
			v = BoolValue(t)
		case nil:
			v = NullValue()
		}

		if len(stack) == 0 {
			root, done = v, true
			continue
		}
		stack[len(stack)-1].add(v)
	}
	if !done {
		return Value{}, fmt.Errorf("value: parse: unexpected end of input")
	}
	return root, nil
}

func stringToken(s string) (Value, error) {
	if strings.HasPrefix(s, BinaryMarker) {
		b, err := base64.StdEncoding.DecodeString(s[markerLen:])
		if err != nil {
			return Value{}, fmt.Errorf("value: bad binary payload: %w", err)
		}
		return BinaryValue(b), nil
	}
	return StringValue(s), nil
}

func numberToken(n json.Number) Value {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntValue(i)
		}
	}
	f, _ := strconv.ParseFloat(s, 64)
	return DoubleValue(f)
}

// Marshal encodes a host value straight to JSON text.
func Marshal(v any) ([]byte, error) {
	tv, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return tv.MarshalJSON()
}

// Unmarshal parses JSON text and decodes it to a host value.
func Unmarshal(data []byte) (any, error) {
	tv, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	return Decode(tv)
}
