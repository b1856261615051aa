//go:build !v8

package renderer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/glue"
	"github.com/cryguy/jsbridge/internal/ipc"
	"github.com/cryguy/jsbridge/internal/quickjs"
	"github.com/cryguy/jsbridge/internal/value"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// harness plays the host: it owns one end of a pipe while a browser is
// served on the other.
type harness struct {
	t    *testing.T
	b    *browser
	host ipc.Transport
	main ipc.ContextCreated
}

func start(t *testing.T) *harness {
	t.Helper()
	cfg := core.BridgeConfig{PoolSize: 1}.WithDefaults()
	eng, err := quickjs.NewEngine(cfg, glue.Prepare(cfg.GlobalObjectName), nil)
	require.NoError(t, err)

	hostEnd, rendererEnd := ipc.Pipe()
	b := newBrowser(New(cfg, eng, nil), rendererEnd)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		_ = hostEnd.Close()
		eng.Close()
	})

	h := &harness{t: t, b: b, host: hostEnd}
	h.main = expect[ipc.ContextCreated](h)
	return h
}

func (h *harness) send(p ipc.Payload) {
	h.t.Helper()
	msg, err := ipc.Encode(p)
	require.NoError(h.t, err)
	require.NoError(h.t, h.host.Send(context.Background(), msg))
}

func (h *harness) next() *ipc.Message {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := h.host.Receive(ctx)
	require.NoError(h.t, err)
	return msg
}

// expect returns the next message, which must be a T.
func expect[T ipc.Payload](h *harness) T {
	h.t.Helper()
	msg := h.next()
	p, err := ipc.Decode[T](msg)
	require.NoError(h.t, err, "got %s", msg.Name)
	return p
}

// eval evaluates script in the main frame and returns the decoded result.
func (h *harness) eval(id uint64, script string) ipc.EvaluationResponse {
	h.t.Helper()
	h.send(ipc.EvaluationRequest{TaskID: id, Script: script})
	return expect[ipc.EvaluationResponse](h)
}

func decoded(t *testing.T, data []byte) any {
	t.Helper()
	v, err := value.Unmarshal(data)
	require.NoError(t, err)
	return v
}

func encoded(t *testing.T, v any) []byte {
	t.Helper()
	data, err := value.Marshal(v)
	require.NoError(t, err)
	return data
}

var calc = core.ObjectInfo{Name: "calc", Methods: []core.MethodInfo{{Name: "add", MandatoryParams: 2}}}

func TestServeAnnouncesMainContext(t *testing.T) {
	h := start(t)
	assert.True(t, h.main.IsMain)
	assert.Equal(t, "about:blank", h.main.URL)
	assert.NotEmpty(t, h.main.FrameID)
}

func TestEvaluateTwoPlusTwo(t *testing.T) {
	h := start(t)
	resp := h.eval(41, "2+2")
	assert.Equal(t, uint64(41), resp.TaskID)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 4, decoded(t, resp.Result))
}

func TestEvaluateAwaitsPromises(t *testing.T) {
	h := start(t)
	resp := h.eval(1, `new Promise(function(r) { setTimeout(function() { r("done"); }, 5); })`)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "done", decoded(t, resp.Result))
}

func TestEvaluationFailureCarriesMessage(t *testing.T) {
	h := start(t)
	resp := h.eval(2, `throw new TypeError("nope")`)
	assert.False(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.Error, "nope"), resp.Error)
}

func TestEvaluateTypeScript(t *testing.T) {
	h := start(t)
	h.send(ipc.EvaluationRequest{TaskID: 3, Script: "const n: number = 21; n * 2", URL: "calc.ts"})
	resp := expect[ipc.EvaluationResponse](h)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 42, decoded(t, resp.Result))
}

func TestEvaluateInUnknownFrame(t *testing.T) {
	h := start(t)
	h.send(ipc.EvaluationRequest{TaskID: 4, FrameID: "gone", Script: "1"})
	resp := expect[ipc.EvaluationResponse](h)
	assert.False(t, resp.Success)
	assert.True(t, resp.Unavailable)
	assert.Contains(t, resp.Error, core.ErrContextUnavailable.Error())
}

func TestCalcAddScenario(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	h.send(ipc.EvaluationRequest{TaskID: 10, Script: "calc.add(2, 3)"})

	req := expect[ipc.CallRequest](h)
	assert.Equal(t, "calc", req.Object)
	assert.Equal(t, "add", req.Method)
	assert.Equal(t, h.main.FrameID, req.FrameID)
	assert.Equal(t, []any{2, 3}, decoded(t, req.Arguments))

	h.send(ipc.CallResult{CallID: req.CallID, Success: true, Result: encoded(t, 5)})
	resp := expect[ipc.EvaluationResponse](h)
	assert.Equal(t, uint64(10), resp.TaskID)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 5, decoded(t, resp.Result))
}

func TestCallFailureRejectsPromise(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	h.send(ipc.EvaluationRequest{TaskID: 11, Script: `calc.add(1).catch(function(e) { return "caught " + e.message; })`})

	req := expect[ipc.CallRequest](h)
	h.send(ipc.CallResult{CallID: req.CallID, Error: "calc.add: missing argument"})
	resp := expect[ipc.EvaluationResponse](h)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "caught calc.add: missing argument", decoded(t, resp.Result))
}

func TestConcurrentCallsResolveIndependently(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	h.send(ipc.EvaluationRequest{TaskID: 12, Script: "Promise.all([calc.add(1, 1), calc.add(2, 2)])"})

	first := expect[ipc.CallRequest](h)
	second := expect[ipc.CallRequest](h)
	assert.Less(t, first.CallID, second.CallID)
	assert.Equal(t, []any{1, 1}, decoded(t, first.Arguments))
	assert.Equal(t, []any{2, 2}, decoded(t, second.Arguments))

	// answer out of order
	h.send(ipc.CallResult{CallID: second.CallID, Success: true, Result: encoded(t, 4)})
	h.send(ipc.CallResult{CallID: first.CallID, Success: true, Result: encoded(t, 2)})

	resp := expect[ipc.EvaluationResponse](h)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, []any{2, 4}, decoded(t, resp.Result))
}

func TestUnknownCallResultIsDropped(t *testing.T) {
	h := start(t)
	h.send(ipc.CallResult{CallID: 999999, Success: true, Result: encoded(t, 1)})
	resp := h.eval(13, "'still alive'")
	assert.Equal(t, "still alive", decoded(t, resp.Result))
}

func TestCheckObjectBoundBeforeRegistration(t *testing.T) {
	h := start(t)
	h.send(ipc.EvaluationRequest{TaskID: 20, Script: `jsbridge.checkObjectBound("calc")`})

	// a later evaluation completes first: the bind is still pending
	resp := h.eval(21, "1")
	assert.Equal(t, uint64(21), resp.TaskID)

	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	resp = expect[ipc.EvaluationResponse](h)
	assert.Equal(t, uint64(20), resp.TaskID)
	assert.Equal(t, true, decoded(t, resp.Result))

	resp = h.eval(22, `typeof calc.add`)
	assert.Equal(t, "function", decoded(t, resp.Result))
}

func TestCheckObjectBoundAlreadyRegistered(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	resp := h.eval(23, `jsbridge.checkObjectBound("calc")`)
	assert.Equal(t, true, decoded(t, resp.Result))
}

func TestDeleteObjectBoundResolvesPendingBindFalse(t *testing.T) {
	h := start(t)
	h.send(ipc.EvaluationRequest{TaskID: 24, Script: `jsbridge.checkObjectBound("later")`})
	h.send(ipc.EvaluationRequest{Script: `jsbridge.deleteObjectBound("later")`})
	resp := expect[ipc.EvaluationResponse](h)
	assert.Equal(t, uint64(24), resp.TaskID)
	assert.Equal(t, false, decoded(t, resp.Result))
}

func TestRegistrationIsIdempotent(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	h.send(ipc.ObjectRegistrationRequest{Object: core.ObjectInfo{Name: "calc", Methods: []core.MethodInfo{{Name: "sub"}}}})
	resp := h.eval(25, `typeof calc.add + " " + typeof calc.sub + " " + Object.keys(calc).length`)
	assert.Equal(t, "function undefined 0", decoded(t, resp.Result))
}

func TestUnregisterRemovesBinding(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	h.send(ipc.ObjectUnregistrationRequest{Name: "calc"})
	resp := h.eval(26, `typeof calc`)
	assert.Equal(t, "undefined", decoded(t, resp.Result))
}

func TestFireAndForgetErrorIsReported(t *testing.T) {
	h := start(t)
	h.send(ipc.EvaluationRequest{Script: `null.x`})
	notice := expect[ipc.UnhandledExceptionNotice](h)
	assert.Equal(t, "TypeError", notice.ExceptionType)
	assert.Equal(t, h.main.FrameID, notice.FrameID)
}

func TestFireAndForgetTranspileErrorIsReported(t *testing.T) {
	h := start(t)
	h.send(ipc.EvaluationRequest{Script: "let x: = 1", URL: "bad.ts"})
	notice := expect[ipc.UnhandledExceptionNotice](h)
	assert.Equal(t, h.main.FrameID, notice.FrameID)
	assert.True(t, strings.HasPrefix(notice.Message, ipc.NameEvaluationRequest+": "), notice.Message)
	assert.Contains(t, notice.Message, "bad.ts")
}

func TestFireAndForgetInUnknownFrameIsReported(t *testing.T) {
	h := start(t)
	h.send(ipc.EvaluationRequest{FrameID: "gone", Script: "1"})
	notice := expect[ipc.UnhandledExceptionNotice](h)
	assert.Contains(t, notice.Message, core.ErrContextUnavailable.Error())
}

func TestDeepResultsCrossIntact(t *testing.T) {
	h := start(t)
	resp := h.eval(60, `(function() { var v = 1; for (var i = 0; i < 250; i++) v = [v]; return v; })()`)
	require.True(t, resp.Success, resp.Error)

	out := decoded(t, resp.Result)
	depth := 0
	for {
		l, ok := out.([]any)
		if !ok {
			break
		}
		require.Len(t, l, 1)
		depth++
		out = l[0]
	}
	assert.Equal(t, 250, depth)
	assert.Equal(t, 1, out)
}

func TestDeepCallArgumentsCrossIntact(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: core.ObjectInfo{Name: "sink", Methods: []core.MethodInfo{{Name: "take"}}}})
	h.send(ipc.EvaluationRequest{TaskID: 61, Script: `(function() { var v = {}; for (var i = 0; i < 250; i++) v = {c: v}; return sink.take(v); })()`})

	req := expect[ipc.CallRequest](h)
	args := decoded(t, req.Arguments).([]any)
	require.Len(t, args, 1)
	depth := 0
	for out := args[0]; ; depth++ {
		m, ok := out.(map[string]any)
		if !ok || len(m) == 0 {
			break
		}
		out = m["c"]
	}
	assert.Equal(t, 250, depth)

	var deep any = "bottom"
	for i := 0; i < 250; i++ {
		deep = []any{deep}
	}
	h.send(ipc.CallResult{CallID: req.CallID, Success: true, Result: encoded(t, deep)})
	resp := expect[ipc.EvaluationResponse](h)
	require.True(t, resp.Success, resp.Error)
	out := decoded(t, resp.Result)
	for i := 0; i < 250; i++ {
		l, ok := out.([]any)
		require.True(t, ok, "level %d", i)
		out = l[0]
	}
	assert.Equal(t, "bottom", out)
}

func TestNavigationRebuildsContexts(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	h.send(ipc.NavigationRequest{URL: "https://app.test/", HTML: `<!doctype html>
<html><head>
<script>globalThis.x = 1;</script>
<script type="text/typescript">const y: number = 2; globalThis.y = y;</script>
<script src="ignored.js"></script>
</head><body>
<iframe srcdoc="<script>globalThis.inner = true;</script>"></iframe>
</body></html>`})

	released := expect[ipc.ContextReleased](h)
	assert.Equal(t, h.main.FrameID, released.FrameID)
	assert.True(t, released.IsMain)

	main := expect[ipc.ContextCreated](h)
	assert.True(t, main.IsMain)
	assert.Equal(t, "https://app.test/", main.URL)
	frame := expect[ipc.ContextCreated](h)
	assert.False(t, frame.IsMain)

	resp := h.eval(30, `x + y + " " + typeof calc.add + " " + typeof inner`)
	assert.Equal(t, "3 function undefined", decoded(t, resp.Result))

	h.send(ipc.EvaluationRequest{TaskID: 31, FrameID: frame.FrameID, Script: `inner + " " + typeof calc`})
	resp = expect[ipc.EvaluationResponse](h)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "true undefined", decoded(t, resp.Result))
}

func TestNavigationFailsPendingEvaluation(t *testing.T) {
	h := start(t)
	h.send(ipc.EvaluationRequest{TaskID: 40, Script: `new Promise(function() {})`})
	h.send(ipc.NavigationRequest{URL: "https://app.test/"})

	resp := expect[ipc.EvaluationResponse](h)
	assert.Equal(t, uint64(40), resp.TaskID)
	assert.False(t, resp.Success)
	assert.True(t, resp.Unavailable)
	expect[ipc.ContextReleased](h)
	expect[ipc.ContextCreated](h)
}

func TestPageScriptErrorIsReported(t *testing.T) {
	h := start(t)
	h.send(ipc.NavigationRequest{URL: "https://app.test/", HTML: `<script>function f() { throw new RangeError("bad"); } f();</script>`})
	expect[ipc.ContextReleased](h)
	expect[ipc.ContextCreated](h)
	notice := expect[ipc.UnhandledExceptionNotice](h)
	assert.Equal(t, "RangeError", notice.ExceptionType)
	assert.Equal(t, "bad", notice.Message)
}

func TestTimerErrorIsReported(t *testing.T) {
	h := start(t)
	h.send(ipc.EvaluationRequest{Script: `setTimeout(function() { throw new Error("late"); }, 1)`})
	notice := expect[ipc.UnhandledExceptionNotice](h)
	assert.Equal(t, "late", notice.Message)
}

func TestTimersFireInOrder(t *testing.T) {
	h := start(t)
	resp := h.eval(32, `new Promise(function(resolve) {
		var out = [];
		setTimeout(function() { out.push("b"); }, 20);
		setTimeout(function() { out.push("a"); }, 1);
		setTimeout(function() { resolve(out.join("")); }, 60);
	})`)
	assert.Equal(t, "ab", decoded(t, resp.Result))
}

func TestIframeReleaseDiscardsOnlyItsCalls(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	h.send(ipc.NavigationRequest{URL: "https://app.test/", HTML: `
<script>calc.add(1, 2).then(function(v) { globalThis.mainResult = v; });</script>
<iframe srcdoc="<script>jsbridge.__call('calc', 'add', [3, 4]).then(function(v) { globalThis.frameResult = v; });</script>"></iframe>`})

	expect[ipc.ContextReleased](h)
	main := expect[ipc.ContextCreated](h)
	mainCall := expect[ipc.CallRequest](h)
	assert.Equal(t, main.FrameID, mainCall.FrameID)
	frame := expect[ipc.ContextCreated](h)
	frameCall := expect[ipc.CallRequest](h)
	assert.Equal(t, frame.FrameID, frameCall.FrameID)

	err := h.b.loop.Do(context.Background(), func() error {
		h.b.releaseContext(h.b.frames[frame.FrameID])
		return nil
	})
	require.NoError(t, err)
	gone := expect[ipc.ContextReleased](h)
	assert.Equal(t, frame.FrameID, gone.FrameID)
	assert.False(t, gone.IsMain)

	var pending bool
	require.NoError(t, h.b.loop.Do(context.Background(), func() error {
		pending = h.b.calls.Pending(mainCall.CallID) && !h.b.calls.Pending(frameCall.CallID)
		return nil
	}))
	assert.True(t, pending)

	h.send(ipc.CallResult{CallID: frameCall.CallID, Success: true, Result: encoded(t, 7)})
	h.send(ipc.CallResult{CallID: mainCall.CallID, Success: true, Result: encoded(t, 3)})
	resp := h.eval(33, "mainResult")
	assert.Equal(t, 3, decoded(t, resp.Result))
}

func TestLargeCallResultUsesBinaryTransfer(t *testing.T) {
	h := start(t)
	h.send(ipc.ObjectRegistrationRequest{Object: calc})
	h.send(ipc.EvaluationRequest{TaskID: 34, Script: "calc.add(0, 0).then(function(s) { return s.length; })"})
	req := expect[ipc.CallRequest](h)

	big := strings.Repeat("ü", h.b.cfg.LargePayloadBytes)
	h.send(ipc.CallResult{CallID: req.CallID, Success: true, Result: encoded(t, big)})
	resp := expect[ipc.EvaluationResponse](h)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, h.b.cfg.LargePayloadBytes, decoded(t, resp.Result))
}

func TestContextBracketIsNotReentrant(t *testing.T) {
	c := &ScriptContext{}
	_, err := c.Enter()
	require.NoError(t, err)
	_, err = c.Enter()
	assert.ErrorIs(t, err, core.ErrContextBusy)
	c.Exit()

	c.released = true
	_, err = c.Enter()
	assert.ErrorIs(t, err, core.ErrContextUnavailable)
}

func TestParseStack(t *testing.T) {
	frames := parseStack("Error: x\n    at inner (https://app.test/a.js:3:15)\n    at https://app.test/b.js:7:2\n    at <eval> (about:blank:1)\n")
	require.Len(t, frames, 3)
	assert.Equal(t, core.StackFrame{FunctionName: "inner", ScriptName: "https://app.test/a.js", Line: 3, Column: 15}, frames[0])
	assert.Equal(t, core.StackFrame{ScriptName: "https://app.test/b.js", Line: 7, Column: 2}, frames[1])
	assert.Equal(t, core.StackFrame{FunctionName: "<eval>", ScriptName: "about:blank", Line: 1}, frames[2])
}

func TestScanDocument(t *testing.T) {
	p := scanDocument(`<script>a()</script><script type="text/plain">no</script>
<script type="text/typescript">let b: number</script><iframe srcdoc="<p>x</p>"></iframe><script src="x.js"></script>`)
	require.Len(t, p.scripts, 2)
	assert.Equal(t, "a()", p.scripts[0].source)
	assert.False(t, p.scripts[0].typeScript)
	assert.True(t, p.scripts[1].typeScript)
	assert.Equal(t, []string{"<p>x</p>"}, p.frames)
}
