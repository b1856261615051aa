// Package glue installs the script side of the bridge into a runtime: the
// namespaced global with the promise factory, reviver and stringifier, the
// binding helpers, and the small runtime surface every context gets
// (timers, console, atob/btoa).
//
// Installation happens in two steps. Prepare evaluates the static script
// and is run while a runtime sits warm in the engine pool. Install
// registers the native hooks once the runtime is attached to a context.
package glue

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/jsbridge/internal/core"
)

var scripts sync.Map // namespace -> string

// Script returns the minified static glue for namespace.
func Script(namespace string) (string, error) {
	if s, ok := scripts.Load(namespace); ok {
		return s.(string), nil
	}
	src := encodingJS + bridgeJS + "(" + strconv.Quote(namespace) + ");\n" + timersJS + consoleJS
	result := api.Transform(src, api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            api.ES2020,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: true,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("minifying glue: %s", result.Errors[0].Text)
	}
	s, _ := scripts.LoadOrStore(namespace, string(result.Code))
	return s.(string), nil
}

// Prepare returns an engine warm-up function that loads the static glue.
func Prepare(namespace string) func(core.JSRuntime) error {
	return func(rt core.JSRuntime) error {
		src, err := Script(namespace)
		if err != nil {
			return err
		}
		if err := rt.Eval(src); err != nil {
			return fmt.Errorf("loading glue: %w", err)
		}
		return nil
	}
}

// TimerTable is the subset of eventloop.Timers the glue needs.
type TimerTable interface {
	Register(delay time.Duration, isInterval bool) int
	Clear(id int)
}

// Hooks are the native functions one context exposes to its glue. They are
// called synchronously from script and must not evaluate script
// themselves; follow-up work goes through the owning loop.
type Hooks struct {
	// Call issues a host call and returns its correlation id.
	Call func(object, method, args string) (uint64, error)
	// Bind returns 0 when name is already registered, otherwise the id of a
	// pending bind.
	Bind func(name string) (uint64, error)
	// Unbind is told about a script-side deleteObjectBound.
	Unbind func(name string)
	// EvalDone completes an evaluation that asked for a response.
	EvalDone func(id uint64, ok bool, payload string)
	Log      func(level, msg string)
	// ReportError receives uncaught script errors.
	ReportError func(name, msg, stack string)
	Timers      TimerTable
}

// Install registers h on rt. The static glue must already be loaded.
func Install(rt core.JSRuntime, h Hooks) error {
	funcs := []struct {
		name string
		fn   any
	}{
		{"__bridgeCall", func(object, method, args string) (string, error) {
			id, err := h.Call(object, method, args)
			if err != nil {
				return "", err
			}
			return formatID(id), nil
		}},
		{"__bridgeBind", func(name string) (string, error) {
			id, err := h.Bind(name)
			if err != nil {
				return "", err
			}
			return formatID(id), nil
		}},
		{"__bridgeUnbind", func(name string) {
			h.Unbind(name)
		}},
		{"__bridgeEvalDone", func(id string, ok bool, payload string) {
			n, err := strconv.ParseUint(id, 10, 64)
			if err != nil {
				return
			}
			h.EvalDone(n, ok, payload)
		}},
		{"__bridgeLog", func(level, msg string) {
			h.Log(level, msg)
		}},
		{"__bridgeReportError", func(name, msg, stack string) {
			h.ReportError(name, msg, stack)
		}},
		{"__timerRegister", func(delayMs int, isInterval bool) int {
			return h.Timers.Register(time.Duration(delayMs)*time.Millisecond, isInterval)
		}},
		{"__timerClear", func(id int) {
			h.Timers.Clear(id)
		}},
	}
	for _, f := range funcs {
		if err := rt.RegisterFunc(f.name, f.fn); err != nil {
			return fmt.Errorf("registering %s: %w", f.name, err)
		}
	}
	return nil
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }
