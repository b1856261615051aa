package value

import (
	"reflect"
	"sync"
)

// Field is one named member of an encoded object.
type Field struct {
	Name  string
	Value any
}

// Encodable is implemented by host types that describe themselves as an
// ordered bag of fields. Pointer receivers keep reference identity, so a
// *T reached twice is written once and referenced afterwards.
type Encodable interface {
	Fields() []Field
}

// Object is an ordered map host value.
type Object []Field

func (o Object) Fields() []Field { return o }

var registry sync.Map // reflect.Type -> func(any) []Field

// Register installs a field extractor for T, for types that cannot
// implement Encodable themselves. Registering the same type again replaces
// the previous extractor.
func Register[T any](fields func(T) []Field) {
	t := reflect.TypeFor[T]()
	registry.Store(t, func(v any) []Field { return fields(v.(T)) })
}

func lookupFields(v any) (func(any) []Field, bool) {
	fn, ok := registry.Load(reflect.TypeOf(v))
	if !ok {
		return nil, false
	}
	return fn.(func(any) []Field), true
}
