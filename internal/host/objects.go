package host

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"unicode"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/value"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// method is one callable of a bound object.
type method struct {
	name      string
	fn        reflect.Value
	takesCtx  bool
	mandatory int
}

type boundObject struct {
	info    core.ObjectInfo
	methods map[string]*method
}

// RegisterOption customises how a target is analysed.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	camelCase bool
	only      map[string]bool
}

// WithoutCamelCase keeps Go method names as they are.
func WithoutCamelCase() RegisterOption {
	return func(o *registerOptions) { o.camelCase = false }
}

// WithMethods restricts binding to the named Go methods.
func WithMethods(names ...string) RegisterOption {
	return func(o *registerOptions) {
		o.only = make(map[string]bool, len(names))
		for _, n := range names {
			o.only[n] = true
		}
	}
}

// analyseObject builds the bound form of target from its exported methods.
// Methods whose results are not (), (T), (error) or (T, error) are skipped.
func analyseObject(name string, target any, opts []RegisterOption) (*boundObject, error) {
	o := registerOptions{camelCase: true}
	for _, opt := range opts {
		opt(&o)
	}
	if target == nil {
		return nil, errors.New("nil target")
	}
	rv := reflect.ValueOf(target)
	rt := rv.Type()

	obj := &boundObject{info: core.ObjectInfo{Name: name}, methods: make(map[string]*method)}
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if o.only != nil && !o.only[m.Name] {
			continue
		}
		scriptName := m.Name
		if o.camelCase {
			scriptName = camelCase(m.Name)
		}
		bm, ok := analyseFunc(scriptName, rv.Method(i))
		if !ok {
			continue
		}
		obj.add(bm)
	}
	if len(obj.methods) == 0 {
		return nil, fmt.Errorf("%s: no bindable methods", rt)
	}
	return obj, nil
}

// analyseFuncs binds a table of plain functions under their map keys.
func analyseFuncs(name string, funcs map[string]any) (*boundObject, error) {
	names := make([]string, 0, len(funcs))
	for n := range funcs {
		names = append(names, n)
	}
	sort.Strings(names)

	obj := &boundObject{info: core.ObjectInfo{Name: name}, methods: make(map[string]*method)}
	for _, n := range names {
		fv := reflect.ValueOf(funcs[n])
		if fv.Kind() != reflect.Func {
			return nil, fmt.Errorf("%s.%s: not a function", name, n)
		}
		bm, ok := analyseFunc(n, fv)
		if !ok {
			return nil, fmt.Errorf("%s.%s: unsupported signature %s", name, n, fv.Type())
		}
		obj.add(bm)
	}
	if len(obj.methods) == 0 {
		return nil, fmt.Errorf("%s: no functions", name)
	}
	return obj, nil
}

func (o *boundObject) add(m *method) {
	o.methods[m.name] = m
	o.info.Methods = append(o.info.Methods, core.MethodInfo{Name: m.name, MandatoryParams: m.mandatory})
}

func analyseFunc(name string, fv reflect.Value) (*method, bool) {
	ft := fv.Type()
	switch ft.NumOut() {
	case 0:
	case 1:
	case 2:
		if ft.Out(1) != errorType {
			return nil, false
		}
	default:
		return nil, false
	}

	m := &method{name: name, fn: fv}
	in := ft.NumIn()
	m.takesCtx = in > 0 && ft.In(0) == contextType
	m.mandatory = in
	if m.takesCtx {
		m.mandatory--
	}
	if ft.IsVariadic() {
		m.mandatory--
	}
	return m, true
}

// camelCase lowers the leading upper-case run: Add → add, HTTPGet → httpGet,
// ID → id.
func camelCase(s string) string {
	r := []rune(s)
	for i := range r {
		if !unicode.IsUpper(r[i]) {
			break
		}
		if i > 0 && i+1 < len(r) && unicode.IsLower(r[i+1]) {
			break
		}
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}

// invoke calls m with script arguments. Panics are returned as errors.
func (m *method) invoke(ctx context.Context, args []any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if len(args) < m.mandatory {
		return nil, fmt.Errorf("expects %d arguments, got %d", m.mandatory, len(args))
	}
	ft := m.fn.Type()
	var in []reflect.Value
	first := 0
	if m.takesCtx {
		in = append(in, reflect.ValueOf(ctx))
		first = 1
	}
	for i := first; i < ft.NumIn(); i++ {
		pt := ft.In(i)
		ai := i - first
		if ft.IsVariadic() && i == ft.NumIn()-1 {
			for _, a := range args[min(ai, len(args)):] {
				v, err := value.ConvertTo(a, pt.Elem())
				if err != nil {
					return nil, fmt.Errorf("argument %d: %w", ai, err)
				}
				in = append(in, v)
				ai++
			}
			break
		}
		v, err := value.ConvertTo(args[ai], pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", ai, err)
		}
		in = append(in, v)
	}

	out := m.fn.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if ft.Out(0) == errorType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		if err := asError(out[1]); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
