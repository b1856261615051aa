//go:build !v8

package quickjs

import (
	"encoding/base64"
	"fmt"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"

	"github.com/cryguy/jsbridge/internal/core"
)

// vmRuntime is one script context backed by its own QuickJS VM.
type vmRuntime struct {
	vm *quickjs.VM

	// Direct C API handles for binary transfer. Zero when extraction
	// failed and the base64 path is used instead.
	tls  *libc.TLS
	cctx uintptr

	staged   []byte // Go -> JS, served chunk by chunk
	received []byte // JS -> Go, accumulated chunk by chunk
}

// chunkSize is the raw byte size of one base64 transfer chunk.
const chunkSize = 192 << 10

var (
	_ core.JSRuntime        = (*vmRuntime)(nil)
	_ core.BinaryTransferer = (*vmRuntime)(nil)
)

func newVMRuntime(memoryLimitMB int) (*vmRuntime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(memoryLimitMB) << 20)
	}
	r := &vmRuntime{vm: vm}
	if err := r.initBinaryTransfer(); err != nil {
		vm.Close()
		return nil, err
	}
	return r, nil
}

func (r *vmRuntime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (r *vmRuntime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}

func (r *vmRuntime) EvalBool(js string) (bool, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

func (r *vmRuntime) EvalInt(js string) (int, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return 0, err
	}
	switch v := result.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", result)
	}
}

// RegisterFunc exposes fn as a global. The QuickJS wrapper hands (T, error)
// results back as a two element array; a JS shim unwraps it and throws a
// TypeError when the error slot is set.
func (r *vmRuntime) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := r.vm.RegisterFunc(rawName, fn, false); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return r.Eval(fmt.Sprintf(`(function() {
		var raw = globalThis[%[1]q];
		delete globalThis[%[1]q];
		globalThis[%[2]q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r) && r.length === 2) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %[2]s: " + r[1]);
				return r[0];
			}
			return r;
		};
	})()`, rawName, name))
}

func (r *vmRuntime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

func (r *vmRuntime) RunMicrotasks() {
	executePendingJobs(r.vm)
}

func (r *vmRuntime) Close() error {
	return r.vm.Close()
}

// BinaryMode reports "ab": payloads land in a plain ArrayBuffer.
func (r *vmRuntime) BinaryMode() string { return "ab" }

func (r *vmRuntime) initBinaryTransfer() error {
	if _, tls, ok := extractRuntime(r.vm); ok {
		if cctx := extractContext(r.vm); cctx != 0 {
			r.tls, r.cctx = tls, cctx
			glob := lib.XJS_GetGlobalObject(r.tls, r.cctx)
			lib.XFreeValue(r.tls, r.cctx, glob)
			return nil
		}
	}
	return r.registerChunkFuncs()
}

func (r *vmRuntime) direct() bool { return r.tls != nil }

// WriteBinaryToJS stores a copy of data as an ArrayBuffer under
// globalThis[globalName].
func (r *vmRuntime) WriteBinaryToJS(globalName string, data []byte) error {
	if len(data) == 0 {
		return r.Eval(fmt.Sprintf("globalThis[%q] = new ArrayBuffer(0);", globalName))
	}
	if !r.direct() {
		return r.writeChunked(globalName, data)
	}

	jsVal := lib.XJS_NewArrayBufferCopy(r.tls, r.cctx, uintptr(unsafe.Pointer(&data[0])), lib.Tsize_t(len(data)))
	cName, err := libc.CString(globalName)
	if err != nil {
		lib.XFreeValue(r.tls, r.cctx, jsVal)
		return fmt.Errorf("allocating property name: %w", err)
	}
	defer libc.Xfree(r.tls, cName)

	glob := lib.XJS_GetGlobalObject(r.tls, r.cctx)
	defer lib.XFreeValue(r.tls, r.cctx, glob)
	// JS_SetPropertyStr takes ownership of jsVal.
	if lib.XJS_SetPropertyStr(r.tls, r.cctx, glob, cName, jsVal) < 0 {
		return fmt.Errorf("setting global %q", globalName)
	}
	return nil
}

// ReadBinaryFromJS copies the ArrayBuffer at globalThis[globalName] out and
// deletes the global.
func (r *vmRuntime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer func() { _ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName)) }()
	if !r.direct() {
		return r.readChunked(globalName)
	}

	cName, err := libc.CString(globalName)
	if err != nil {
		return nil, fmt.Errorf("allocating property name: %w", err)
	}
	glob := lib.XJS_GetGlobalObject(r.tls, r.cctx)
	jsVal := lib.XJS_GetPropertyStr(r.tls, r.cctx, glob, cName)
	lib.XFreeValue(r.tls, r.cctx, glob)
	libc.Xfree(r.tls, cName)
	defer lib.XFreeValue(r.tls, r.cctx, jsVal)

	var size lib.Tsize_t
	ptr := lib.XJS_GetArrayBuffer(r.tls, r.cctx, uintptr(unsafe.Pointer(&size)), jsVal)
	if ptr == 0 || size == 0 {
		return nil, nil
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size))
	return out, nil
}

func (r *vmRuntime) registerChunkFuncs() error {
	if err := r.RegisterFunc("__bridge_bt_chunk", func(offset int) (string, error) {
		if r.staged == nil || offset > len(r.staged) {
			return "", fmt.Errorf("no staged binary data at offset %d", offset)
		}
		end := min(offset+chunkSize, len(r.staged))
		return base64.StdEncoding.EncodeToString(r.staged[offset:end]), nil
	}); err != nil {
		return err
	}
	return r.RegisterFunc("__bridge_bt_recv", func(b64 string) (string, error) {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return "", fmt.Errorf("decoding binary chunk: %w", err)
		}
		r.received = append(r.received, raw...)
		return "", nil
	})
}

func (r *vmRuntime) writeChunked(globalName string, data []byte) error {
	r.staged = data
	defer func() { r.staged = nil }()

	return r.Eval(fmt.Sprintf(`(function() {
		var n = %d, buf = new ArrayBuffer(n), view = new Uint8Array(buf), off = 0;
		while (off < n) {
			var raw = atob(__bridge_bt_chunk(off));
			for (var i = 0; i < raw.length; i++) view[off + i] = raw.charCodeAt(i);
			off += raw.length;
		}
		globalThis[%q] = buf;
	})()`, len(data), globalName))
}

func (r *vmRuntime) readChunked(globalName string) ([]byte, error) {
	size, err := r.EvalInt(fmt.Sprintf("(function(){var b=globalThis[%q];return b?b.byteLength:0;})()", globalName))
	if err != nil {
		return nil, fmt.Errorf("reading %s byte length: %w", globalName, err)
	}
	if size == 0 {
		return nil, nil
	}
	r.received = make([]byte, 0, size)
	defer func() { r.received = nil }()

	if err := r.Eval(fmt.Sprintf(`(function() {
		var view = new Uint8Array(globalThis[%q]), cs = %d;
		for (var off = 0; off < view.length; off += cs) {
			var chunk = view.subarray(off, Math.min(off + cs, view.length)), parts = [];
			for (var i = 0; i < chunk.length; i += 8192) {
				parts.push(String.fromCharCode.apply(null, chunk.subarray(i, Math.min(i + 8192, chunk.length))));
			}
			__bridge_bt_recv(btoa(parts.join('')));
		}
	})()`, globalName, chunkSize)); err != nil {
		return nil, fmt.Errorf("reading binary from JS: %w", err)
	}
	return r.received, nil
}
