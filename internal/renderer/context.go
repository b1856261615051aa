package renderer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/eventloop"
	"github.com/cryguy/jsbridge/internal/glue"
	"github.com/cryguy/jsbridge/internal/ipc"
)

// ScriptContext is one script execution context: the main page or an
// iframe. It owns a runtime from the engine and the timers of that runtime.
type ScriptContext struct {
	FrameID string
	IsMain  bool
	URL     string

	b        *browser
	rt       core.JSRuntime
	timers   *eventloop.Timers
	entered  bool
	released bool
}

// Enter opens the execution bracket. Every successful Enter must be paired
// with Exit. Contexts are not reentrant: code running inside the bracket
// (including native hooks called from script) cannot enter again.
func (c *ScriptContext) Enter() (core.JSRuntime, error) {
	if c.released {
		return nil, core.ErrContextUnavailable
	}
	if c.entered {
		return nil, core.ErrContextBusy
	}
	c.entered = true
	return c.rt, nil
}

// Exit closes the bracket opened by Enter.
func (c *ScriptContext) Exit() {
	c.entered = false
}

// Run executes fn inside the bracket and pumps microtasks before leaving.
// It implements eventloop.Runner.
func (c *ScriptContext) Run(fn func(rt core.JSRuntime) error) error {
	rt, err := c.Enter()
	if err != nil {
		return err
	}
	defer c.Exit()
	err = fn(rt)
	rt.RunMicrotasks()
	return err
}

func (c *ScriptContext) release() {
	if c.released {
		return
	}
	c.released = true
	c.timers.Close()
	if err := c.rt.Close(); err != nil {
		c.b.log.Debug("closing runtime", zap.String("frame", c.FrameID), zap.Error(err))
	}
}

// createContext takes a fresh runtime from the engine, wires it to this
// browser and announces it to the host.
func (b *browser) createContext(url string, isMain bool) (*ScriptContext, error) {
	rt, err := b.engine.NewRuntime()
	if err != nil {
		return nil, fmt.Errorf("creating runtime: %w", err)
	}
	c := &ScriptContext{
		FrameID: uuid.NewString(),
		IsMain:  isMain,
		URL:     url,
		b:       b,
		rt:      rt,
	}
	c.timers = eventloop.NewTimers(b.loop, c, func(err error) {
		b.reportError(c, "Error", err.Error(), "")
	})
	if err := glue.Install(rt, b.hooks(c)); err != nil {
		_ = rt.Close()
		return nil, err
	}

	b.frames[c.FrameID] = c
	if isMain {
		b.main = c
	}
	b.contextCreated(c)
	b.sendOrLog(ipc.ContextCreated{FrameID: c.FrameID, IsMain: isMain, URL: url})
	return c, nil
}

// releaseContext drops c and everything rooted in it.
func (b *browser) releaseContext(c *ScriptContext) {
	if c.released {
		return
	}
	b.contextReleased(c)
	delete(b.frames, c.FrameID)
	if b.main == c {
		b.main = nil
	}
	c.release()
	b.sendOrLog(ipc.ContextReleased{FrameID: c.FrameID, IsMain: c.IsMain})
}

// contextsForRelease lists iframes first, then the main context.
func (b *browser) contextsForRelease() []*ScriptContext {
	out := make([]*ScriptContext, 0, len(b.frames))
	for _, c := range b.frames {
		if !c.IsMain {
			out = append(out, c)
		}
	}
	if b.main != nil {
		out = append(out, b.main)
	}
	return out
}

// frame resolves a frame id; empty means the main context.
func (b *browser) frame(id string) (*ScriptContext, error) {
	if id == "" {
		if b.main == nil {
			return nil, core.ErrContextUnavailable
		}
		return b.main, nil
	}
	c, ok := b.frames[id]
	if !ok {
		return nil, fmt.Errorf("frame %s: %w", id, core.ErrContextUnavailable)
	}
	return c, nil
}

// hooks are called from script while c is entered. They never evaluate
// script; follow-up work is posted to the loop.
func (b *browser) hooks(c *ScriptContext) glue.Hooks {
	return glue.Hooks{
		Call: func(object, method, args string) (uint64, error) {
			return b.issueCall(c, object, method, args)
		},
		Bind: func(name string) (uint64, error) {
			return b.bind(c, name), nil
		},
		Unbind: func(name string) {
			_ = b.loop.Post(func() { b.unbound(c, name) })
		},
		EvalDone: func(id uint64, ok bool, payload string) {
			delete(b.evals, id)
			resp := ipc.EvaluationResponse{TaskID: id, Success: ok}
			if ok {
				resp.Result = []byte(payload)
			} else {
				resp.Error = payload
			}
			b.sendOrLog(resp)
		},
		Log: func(level, msg string) {
			b.consoleLog(c, level, msg)
		},
		ReportError: func(name, msg, stack string) {
			b.reportError(c, name, msg, stack)
		},
		Timers: c.timers,
	}
}

// issueCall parks a slot rooted in c and sends the CallRequest. The
// script side parks its promise under the returned id.
func (b *browser) issueCall(c *ScriptContext, object, method, args string) (uint64, error) {
	id, _ := b.calls.Issue(c)
	err := b.send(ipc.CallRequest{
		CallID:    id,
		FrameID:   c.FrameID,
		Object:    object,
		Method:    method,
		Arguments: []byte(args),
	})
	if err != nil {
		b.calls.Take(id)
		if errors.Is(err, core.ErrClosed) {
			return 0, core.ErrContextUnavailable
		}
		return 0, err
	}
	return id, nil
}

func (b *browser) consoleLog(c *ScriptContext, level, msg string) {
	fields := []zap.Field{zap.String("frame", c.FrameID)}
	switch level {
	case "error":
		b.log.Error(msg, fields...)
	case "warn":
		b.log.Warn(msg, fields...)
	case "debug", "trace":
		b.log.Debug(msg, fields...)
	default:
		b.log.Info(msg, fields...)
	}
}

func (b *browser) reportError(c *ScriptContext, name, msg, stack string) {
	b.log.Debug("uncaught script error", zap.String("frame", c.FrameID), zap.String("type", name), zap.String("message", msg))
	b.sendOrLog(ipc.UnhandledExceptionNotice{
		FrameID:       c.FrameID,
		ExceptionType: name,
		Message:       msg,
		StackTrace:    stack,
		Frames:        parseStack(stack),
	})
}
