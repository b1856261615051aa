//go:build v8

package v8engine

import (
	"fmt"
	"reflect"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/jsbridge/internal/core"
)

// isolateRuntime is one script context backed by a dedicated isolate.
type isolateRuntime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var (
	_ core.JSRuntime        = (*isolateRuntime)(nil)
	_ core.BinaryTransferer = (*isolateRuntime)(nil)
)

func newIsolateRuntime(memoryLimitMB int) *isolateRuntime {
	var iso *v8.Isolate
	if memoryLimitMB > 0 {
		heap := uint64(memoryLimitMB) << 20
		iso = v8.NewIsolate(v8.WithResourceConstraints(heap/2, heap))
	} else {
		iso = v8.NewIsolate()
	}
	return &isolateRuntime{iso: iso, ctx: v8.NewContext(iso)}
}

func (r *isolateRuntime) run(js string) (*v8.Value, error) {
	return r.ctx.RunScript(js, "bridge.js")
}

func (r *isolateRuntime) Eval(js string) error {
	_, err := r.run(js)
	return err
}

func (r *isolateRuntime) EvalString(js string) (string, error) {
	val, err := r.run(js)
	if err != nil || val == nil {
		return "", err
	}
	return val.String(), nil
}

func (r *isolateRuntime) EvalBool(js string) (bool, error) {
	val, err := r.run(js)
	if err != nil || val == nil {
		return false, err
	}
	return val.Boolean(), nil
}

func (r *isolateRuntime) EvalInt(js string) (int, error) {
	val, err := r.run(js)
	if err != nil || val == nil {
		return 0, err
	}
	return int(val.Integer()), nil
}

// RegisterFunc exposes fn as a global through a FunctionTemplate. fn may
// return nothing, a single value, or (T, error); a non-nil error is thrown
// into the script. Parameters and results are limited to string, integer,
// float and bool kinds.
func (r *isolateRuntime) RegisterFunc(name string, fn any) error {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("registering %s: expected function, got %T", name, fn)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < ft.NumIn() {
			return r.throw(fmt.Sprintf("%s requires %d argument(s), got %d", name, ft.NumIn(), len(args)))
		}
		in := make([]reflect.Value, ft.NumIn())
		for i := range in {
			in[i] = fromJS(args[i], ft.In(i))
		}
		out := fv.Call(in)
		switch len(out) {
		case 0:
			return nil
		case 2:
			if !out[1].IsNil() {
				return r.throw(fmt.Sprintf("calling %s: %v", name, out[1].Interface()))
			}
		}
		return toJS(r.iso, out[0])
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

func (r *isolateRuntime) throw(msg string) *v8.Value {
	v, _ := v8.NewValue(r.iso, msg)
	r.iso.ThrowException(v)
	return nil
}

// SetGlobal accepts the scalar kinds toJS understands.
func (r *isolateRuntime) SetGlobal(name string, value any) error {
	if value == nil {
		return r.ctx.Global().Set(name, v8.Undefined(r.iso))
	}
	v := toJS(r.iso, reflect.ValueOf(value))
	if v == nil {
		return fmt.Errorf("setting %q: unsupported type %T", name, value)
	}
	return r.ctx.Global().Set(name, v)
}

func (r *isolateRuntime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

func (r *isolateRuntime) Close() error {
	r.ctx.Close()
	r.iso.Dispose()
	return nil
}

// BinaryMode reports "sab": V8 shares memory through SharedArrayBuffer.
func (r *isolateRuntime) BinaryMode() string { return "sab" }

func (r *isolateRuntime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer func() { _, _ = r.run(fmt.Sprintf("delete globalThis[%q];", globalName)) }()

	// Copy into a SharedArrayBuffer so the bytes can be read in place.
	if _, err := r.run(fmt.Sprintf(`(function() {
		var src = new Uint8Array(globalThis[%q] || new ArrayBuffer(0));
		var sab = new SharedArrayBuffer(src.length);
		new Uint8Array(sab).set(src);
		globalThis.__bridge_sab_out = sab;
	})()`, globalName)); err != nil {
		return nil, fmt.Errorf("staging %s: %w", globalName, err)
	}
	defer func() { _, _ = r.run("delete globalThis.__bridge_sab_out;") }()

	sab, err := r.ctx.Global().Get("__bridge_sab_out")
	if err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", globalName, err)
	}
	data, release, err := sab.SharedArrayBufferGetContents()
	if err != nil {
		return nil, fmt.Errorf("reading SharedArrayBuffer %s: %w", globalName, err)
	}
	defer release()
	if len(data) == 0 {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (r *isolateRuntime) WriteBinaryToJS(globalName string, data []byte) error {
	if _, err := r.run(fmt.Sprintf("globalThis.__bridge_sab_in = new SharedArrayBuffer(%d);", len(data))); err != nil {
		return fmt.Errorf("allocating SharedArrayBuffer: %w", err)
	}
	if len(data) > 0 {
		sab, err := r.ctx.Global().Get("__bridge_sab_in")
		if err != nil {
			return fmt.Errorf("retrieving SharedArrayBuffer: %w", err)
		}
		dst, release, err := sab.SharedArrayBufferGetContents()
		if err != nil {
			return fmt.Errorf("getting SharedArrayBuffer contents: %w", err)
		}
		copy(dst, data)
		release()
	}
	_, err := r.run(fmt.Sprintf(`(function() {
		var sab = globalThis.__bridge_sab_in;
		delete globalThis.__bridge_sab_in;
		var buf = new ArrayBuffer(sab.byteLength);
		new Uint8Array(buf).set(new Uint8Array(sab));
		globalThis[%q] = buf;
	})()`, globalName))
	return err
}

func fromJS(v *v8.Value, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflect.ValueOf(v.Integer()).Convert(t)
	case reflect.Float32, reflect.Float64:
		return reflect.ValueOf(v.Number()).Convert(t)
	case reflect.Bool:
		return reflect.ValueOf(v.Boolean())
	default:
		return reflect.Zero(t)
	}
}

func toJS(iso *v8.Isolate, rv reflect.Value) *v8.Value {
	if !rv.IsValid() {
		return nil
	}
	var (
		v   *v8.Value
		err error
	)
	switch rv.Kind() {
	case reflect.String:
		v, err = v8.NewValue(iso, rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err = v8.NewValue(iso, float64(rv.Int()))
	case reflect.Float32, reflect.Float64:
		v, err = v8.NewValue(iso, rv.Float())
	case reflect.Bool:
		v, err = v8.NewValue(iso, rv.Bool())
	}
	if err != nil {
		return nil
	}
	return v
}
