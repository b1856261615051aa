// Package value implements the transport value tree carried inside process
// messages, and the codec between it and host (Go) values.
//
// Composite values are written with reference ids so cyclic and shared
// graphs survive the trip: {"$id":"1", ...} for maps,
// {"$id":"2","$values":[...]} for lists and {"$ref":"1"} for a node that was
// already written. Strings carry a one-character marker so the script-side
// reviver can tell plain strings from dates, binary blobs and big integers.
package value

// Kind is the tag of a transport Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Int
	Double
	String
	Binary
	List
	Map
)

var kindNames = [...]string{"null", "bool", "int", "double", "string", "binary", "list", "map"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Value is a transport value: a tagged union of the kinds above. The zero
// Value is Null.
type Value struct {
	kind    Kind
	b       bool
	i       int64
	f       float64
	s       string
	bin     []byte
	list    []Value
	entries []Entry
}

// Entry is one key/value pair of a Map value. Map entries keep their order.
type Entry struct {
	Key   string
	Value Value
}

func NullValue() Value { return Value{} }
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }
func IntValue(i int64) Value { return Value{kind: Int, i: i} }
func DoubleValue(f float64) Value { return Value{kind: Double, f: f} }

// StringValue holds s exactly as it travels, so s must start with one of
// the markers (StringMarker, DateMarker, BinaryMarker, BigIntMarker).
// Use TextValue for plain text.
func StringValue(s string) Value { return Value{kind: String, s: s} }

// TextValue is the marked form of the plain string s.
func TextValue(s string) Value { return markString(s) }

func BinaryValue(b []byte) Value { return Value{kind: Binary, bin: b} }
func ListValue(items ...Value) Value { return Value{kind: List, list: items} }
func MapValue(entries ...Entry) Value {
	return Value{kind: Map, entries: entries}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == Null }
func (v Value) Bool() bool { return v.b }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string { return v.s }
func (v Value) Bytes() []byte { return v.bin }
func (v Value) Items() []Value { return v.list }
func (v Value) Entries() []Entry { return v.entries }

// Get returns the first entry with the given key of a Map value.
func (v Value) Get(key string) (Value, bool) {
	for _, e := range v.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Len returns the number of list items or map entries.
func (v Value) Len() int {
	switch v.kind {
	case List:
		return len(v.list)
	case Map:
		return len(v.entries)
	case Binary:
		return len(v.bin)
	}
	return 0
}

// Number returns the value as float64 for Int and Double kinds.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case Int:
		return float64(v.i), true
	case Double:
		return v.f, true
	}
	return 0, false
}
