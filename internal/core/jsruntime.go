package core

// JSRuntime is one script context: a QuickJS VM or a V8 isolate with its
// context. All methods must be called from the goroutine that owns the
// context (the renderer loop).
type JSRuntime interface {
	// Eval runs source and discards the completion value.
	Eval(js string) error
	EvalString(js string) (string, error)
	EvalBool(js string) (bool, error)
	EvalInt(js string) (int, error)

	// RegisterFunc exposes fn as a global function. Arguments and results
	// are converted between Go and script types by the engine; a non-nil
	// error result is thrown as a TypeError.
	RegisterFunc(name string, fn any) error

	// SetGlobal assigns a string, number or boolean global.
	SetGlobal(name string, value any) error

	// RunMicrotasks drains the job queue (promise reactions).
	RunMicrotasks()

	Close() error
}

// BinaryTransferer moves byte slices into and out of script without a
// string round trip. QuickJS backs it with ArrayBuffer through the C API,
// V8 with SharedArrayBuffer.
type BinaryTransferer interface {
	ReadBinaryFromJS(globalName string) ([]byte, error)
	WriteBinaryToJS(globalName string, data []byte) error

	// BinaryMode is "ab" or "sab", telling the glue which buffer type the
	// global holds.
	BinaryMode() string
}

// Engine hands out fresh script execution contexts. Implementations keep a
// small pool of pre-warmed runtimes with the static glue already loaded.
// A runtime is never handed out twice.
type Engine interface {
	NewRuntime() (JSRuntime, error)
	Close()
}
