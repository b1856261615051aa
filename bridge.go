// Package jsbridge connects Go objects to JavaScript running in a separate
// renderer. The host side (Browser) registers objects and evaluates script;
// the renderer side runs page script in an embedded engine (QuickJS by
// default, V8 with the v8 build tag). Both ends talk over a Transport: an
// in-memory pipe, a framed byte stream or a WebSocket.
//
// Script calls a bound method and gets a promise:
//
//	b.RegisterObject("calc", Calc{})
//	v, err := jsbridge.EvaluateAs[float64](ctx, b, "calc.add(2, 3)", "", 0)
package jsbridge

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/host"
	"github.com/cryguy/jsbridge/internal/ipc"
	"github.com/cryguy/jsbridge/internal/renderer"
	"github.com/cryguy/jsbridge/internal/value"
)

type (
	// Config is the shared bridge configuration.
	Config = core.BridgeConfig
	// Engine hands out script runtimes to a renderer.
	Engine = core.Engine

	Browser        = host.Browser
	EvalOption     = host.EvalOption
	RegisterOption = host.RegisterOption
	Renderer       = renderer.Renderer
	Transport      = ipc.Transport
	FrameOptions   = ipc.FrameOptions
	ContextInfo    = core.ContextInfo
	ExceptionInfo  = core.ExceptionInfo
	StackFrame     = core.StackFrame
	ScriptError    = core.ScriptError
	MethodError    = core.MethodError

	// Field is one named member of an object crossing the bridge.
	Field = value.Field
	// Encodable is implemented by types that list their own fields. A *T
	// reached twice in one result is sent once and referenced after that.
	Encodable = value.Encodable
	// Object is an ordered set of fields.
	Object = value.Object
	// Char crosses as a one-character string.
	Char = value.Char
)

var (
	ErrUnsupportedType      = core.ErrUnsupportedType
	ErrCycleGuardViolation  = core.ErrCycleGuardViolation
	ErrUnknownCorrelationID = core.ErrUnknownCorrelationID
	ErrMethodInvocation     = core.ErrMethodInvocation
	ErrContextUnavailable   = core.ErrContextUnavailable
	ErrContextBusy          = core.ErrContextBusy
	ErrObjectNotFound       = core.ErrObjectNotFound
	ErrClosed               = core.ErrClosed
)

// RegisterType makes values of T cross the bridge as objects built from
// fields. It is meant for types that cannot implement Encodable.
func RegisterType[T any](fields func(T) []Field) { value.Register(fields) }

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config { return core.DefaultConfig() }

// NewBrowser returns the host end of a renderer connection.
func NewBrowser(t Transport, cfg Config, log *zap.Logger) *Browser {
	return host.New(t, cfg, log)
}

// NewRenderer returns a renderer that runs pages on engine.
func NewRenderer(cfg Config, engine Engine, log *zap.Logger) *Renderer {
	return renderer.New(cfg, engine, log)
}

// EvaluateAs evaluates script in b and converts the result to T.
func EvaluateAs[T any](ctx context.Context, b *Browser, script, url string, line int, opts ...EvalOption) (T, error) {
	return host.EvaluateAs[T](ctx, b, script, url, line, opts...)
}

// WithTimeout bounds one evaluation.
func WithTimeout(d time.Duration) EvalOption { return host.WithTimeout(d) }

// InFrame targets an evaluation at a frame other than the main one.
func InFrame(frameID string) EvalOption { return host.InFrame(frameID) }

// WithoutCamelCase keeps Go method names when registering an object.
func WithoutCamelCase() RegisterOption { return host.WithoutCamelCase() }

// WithMethods restricts registration to the named Go methods.
func WithMethods(names ...string) RegisterOption { return host.WithMethods(names...) }

// FrameOptionsFor derives transport frame settings from cfg.
func FrameOptionsFor(cfg Config) FrameOptions {
	cfg = cfg.WithDefaults()
	return FrameOptions{CompressAbove: cfg.CompressAbove, MaxFrameBytes: cfg.MaxFrameBytes}
}

// Pipe returns two connected in-memory transports.
func Pipe() (Transport, Transport) { return ipc.Pipe() }

// DialWebSocket connects to a renderer served over WebSocket.
func DialWebSocket(ctx context.Context, url string, cfg Config) (Transport, error) {
	return ipc.DialWebSocket(ctx, url, FrameOptionsFor(cfg))
}

// AcceptWebSocket upgrades an HTTP request into a transport.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, cfg Config) (Transport, error) {
	return ipc.AcceptWebSocket(w, r, FrameOptionsFor(cfg))
}
