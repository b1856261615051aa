//go:build !v8

package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/glue"
	"github.com/cryguy/jsbridge/internal/ipc"
	"github.com/cryguy/jsbridge/internal/quickjs"
	"github.com/cryguy/jsbridge/internal/renderer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// connect serves a renderer over a pipe and returns a browser that has not
// been started yet.
func connect(t *testing.T) *Browser {
	t.Helper()
	cfg := core.BridgeConfig{PoolSize: 1}.WithDefaults()
	eng, err := quickjs.NewEngine(cfg, glue.Prepare(cfg.GlobalObjectName), nil)
	require.NoError(t, err)

	hostEnd, rendererEnd := ipc.Pipe()
	done := make(chan error, 1)
	go func() { done <- renderer.New(cfg, eng, nil).Serve(context.Background(), rendererEnd) }()

	b := New(hostEnd, cfg, nil)
	t.Cleanup(func() {
		require.NoError(t, b.Close())
		assert.NoError(t, <-done)
		eng.Close()
	})
	return b
}

func started(t *testing.T) *Browser {
	t.Helper()
	b := connect(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Start(ctx))
	return b
}

func eval(t *testing.T, b *Browser, script string) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := b.Evaluate(ctx, script, "", 0)
	require.NoError(t, err)
	return v
}

type Calc struct{}

func (Calc) Add(a, b int) int { return a + b }

func (Calc) Div(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

func (Calc) Boom() int { panic("kaboom") }

func (Calc) Sum(ctx context.Context, first int, rest ...int) int {
	if ctx == nil {
		return -1
	}
	for _, r := range rest {
		first += r
	}
	return first
}

func (Calc) Strange() (int, int) { return 1, 2 }

func TestCalcAdd(t *testing.T) {
	b := started(t)
	ok, err := b.RegisterObject("calc", Calc{})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 5, eval(t, b, "calc.add(2, 3)"))
}

func TestEvaluateTwoPlusTwo(t *testing.T) {
	b := started(t)
	assert.Equal(t, 4, eval(t, b, "2+2"))
}

func TestEvaluateAsCoercesOnlyFloatTargets(t *testing.T) {
	b := started(t)
	ctx := context.Background()

	f, err := EvaluateAs[float64](ctx, b, "2+2", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, f)

	dyn, err := EvaluateAs[any](ctx, b, "2+2", "", 0)
	require.NoError(t, err)
	assert.IsType(t, 0, dyn)

	s, err := EvaluateAs[[]string](ctx, b, `["a", "b"]`, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s)
}

func TestEvaluateScriptError(t *testing.T) {
	b := started(t)
	_, err := b.Evaluate(context.Background(), `throw new Error("nope")`, "page.js", 10)
	var se *core.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "nope")
	assert.Equal(t, "script error: nope", err.Error())
}

func TestEvaluateTimeoutRemovesSlot(t *testing.T) {
	b := started(t)
	_, err := b.Evaluate(context.Background(), `new Promise(function() {})`, "", 0, WithTimeout(20*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, b.evals.Len())
}

func TestMethodAnalysis(t *testing.T) {
	obj, err := analyseObject("calc", Calc{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []core.MethodInfo{
		{Name: "add", MandatoryParams: 2},
		{Name: "boom"},
		{Name: "div", MandatoryParams: 2},
		{Name: "sum", MandatoryParams: 1},
	}, obj.info.Methods)

	obj, err = analyseObject("calc", Calc{}, []RegisterOption{WithoutCamelCase(), WithMethods("Add")})
	require.NoError(t, err)
	assert.Equal(t, []string{"Add"}, obj.info.MethodNames())

	_, err = analyseObject("none", struct{}{}, nil)
	assert.Error(t, err)
}

func TestCamelCase(t *testing.T) {
	for in, want := range map[string]string{"Add": "add", "HTTPGet": "httpGet", "ID": "id", "GetURL": "getURL", "X": "x"} {
		assert.Equal(t, want, camelCase(in), in)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	b := started(t)
	ok, err := b.RegisterObject("calc", Calc{})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.RegisterObject("calc", Calc{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMethodFailuresRejectPromises(t *testing.T) {
	b := started(t)
	_, err := b.RegisterObject("calc", Calc{})
	require.NoError(t, err)

	catch := func(call string) any {
		return eval(t, b, call+`.then(function() { return "resolved"; }, function(e) { return e.message; })`)
	}
	assert.Equal(t, "calc.div: division by zero", catch("calc.div(1, 0)"))
	assert.Contains(t, catch("calc.boom()"), "kaboom")
	assert.Contains(t, catch("calc.add(1)"), "expects 2 arguments")
	assert.Contains(t, catch(`jsbridge.__call("calc", "nope", [])`), core.ErrObjectNotFound.Error())
	assert.Contains(t, catch(`jsbridge.__call("ghost", "add", [])`), core.ErrObjectNotFound.Error())
}

func TestVariadicAndContextParameters(t *testing.T) {
	b := started(t)
	_, err := b.RegisterObject("calc", Calc{})
	require.NoError(t, err)
	assert.Equal(t, 10, eval(t, b, "calc.sum(1, 2, 3, 4)"))
	assert.Equal(t, 1, eval(t, b, "calc.sum(1)"))
	assert.Equal(t, 2.5, eval(t, b, "calc.div(5, 2)"))
}

func TestRegisterFuncs(t *testing.T) {
	b := started(t)
	ok, err := b.RegisterFuncs("math", map[string]any{
		"mul":   func(a, b int) int { return a * b },
		"greet": func(name string) string { return "hi " + name },
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, eval(t, b, "math.mul(6, 7)"))
	assert.Equal(t, "hi bob", eval(t, b, `math.greet("bob")`))

	_, err = b.RegisterFuncs("bad", map[string]any{"x": 1})
	assert.Error(t, err)
}

func TestUnregisterObject(t *testing.T) {
	b := started(t)
	_, err := b.RegisterObject("calc", Calc{})
	require.NoError(t, err)
	assert.True(t, b.UnregisterObject("calc"))
	assert.False(t, b.UnregisterObject("calc"))
	assert.Equal(t, "undefined", eval(t, b, "typeof calc"))
}

func TestCheckObjectBoundBeforeRegistration(t *testing.T) {
	b := started(t)
	result := make(chan any, 1)
	go func() {
		v, err := b.Evaluate(context.Background(), `jsbridge.checkObjectBound("late")`, "", 0)
		if err != nil {
			result <- err
			return
		}
		result <- v
	}()

	// a later evaluation finishing first shows the bind is still waiting
	assert.Equal(t, 1, eval(t, b, "1"))
	select {
	case v := <-result:
		t.Fatalf("resolved before registration: %v", v)
	default:
	}

	_, err := b.RegisterObject("late", Calc{})
	require.NoError(t, err)
	select {
	case v := <-result:
		assert.Equal(t, true, v)
	case <-time.After(5 * time.Second):
		t.Fatal("bind never resolved")
	}
}

type gate struct {
	mu      sync.Mutex
	waiting map[int]chan struct{}
	arrived chan int
}

func (g *gate) Echo(v int) int {
	g.mu.Lock()
	ch := make(chan struct{})
	g.waiting[v] = ch
	g.mu.Unlock()
	g.arrived <- v
	<-ch
	return v
}

func (g *gate) open(v int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.waiting[v])
}

func TestConcurrentCallsResolveIndependently(t *testing.T) {
	b := started(t)
	g := &gate{waiting: map[int]chan struct{}{}, arrived: make(chan int, 2)}
	_, err := b.RegisterObject("gate", g)
	require.NoError(t, err)

	result := make(chan any, 1)
	go func() {
		v, _ := b.Evaluate(context.Background(), "Promise.all([gate.echo(1), gate.echo(2)])", "", 0)
		result <- v
	}()

	// both calls are in flight at once
	got := map[int]bool{<-g.arrived: true, <-g.arrived: true}
	assert.Equal(t, map[int]bool{1: true, 2: true}, got)
	g.open(2)
	g.open(1)
	assert.Equal(t, []any{1, 2}, <-result)
}

func TestUncaughtExceptionCallback(t *testing.T) {
	b := started(t)
	got := make(chan core.ExceptionInfo, 1)
	b.OnUncaughtException(func(e core.ExceptionInfo) { got <- e })

	require.NoError(t, b.ExecuteFireAndForget(`(function thrower() { null.x; })()`, "boom.js", 1))
	select {
	case e := <-got:
		assert.Equal(t, "TypeError", e.ExceptionType)
		assert.Equal(t, b.MainFrame(), e.FrameID)
	case <-time.After(5 * time.Second):
		t.Fatal("no exception reported")
	}
}

func TestFireAndForgetTranspileFailureIsReported(t *testing.T) {
	b := started(t)
	got := make(chan core.ExceptionInfo, 1)
	b.OnUncaughtException(func(e core.ExceptionInfo) { got <- e })

	require.NoError(t, b.ExecuteFireAndForget("let x: = 1", "bad.ts", 1))
	select {
	case e := <-got:
		assert.Equal(t, b.MainFrame(), e.FrameID)
		assert.Contains(t, e.Message, "bad.ts")
	case <-time.After(5 * time.Second):
		t.Fatal("no exception reported")
	}
}

func TestLoadHTMLContextLifecycle(t *testing.T) {
	b := connect(t)
	created := make(chan core.ContextInfo, 8)
	released := make(chan core.ContextInfo, 8)
	b.OnContextCreated(func(c core.ContextInfo) { created <- c })
	b.OnContextReleased(func(c core.ContextInfo) { released <- c })
	require.NoError(t, b.Start(context.Background()))
	first := <-created
	assert.True(t, first.IsMain)

	_, err := b.RegisterObject("calc", Calc{})
	require.NoError(t, err)
	require.NoError(t, b.LoadHTML(`<script>globalThis.v = calc.add(20, 22);</script><iframe srcdoc="<script>globalThis.inFrame = 1</script>"></iframe>`, "https://app.test/"))

	gone := <-released
	assert.Equal(t, first.FrameID, gone.FrameID)
	main := <-created
	frame := <-created
	assert.True(t, main.IsMain)
	assert.False(t, frame.IsMain)
	assert.Equal(t, main.FrameID, b.MainFrame())
	assert.Len(t, b.Contexts(), 2)

	assert.Equal(t, 42, eval(t, b, "v"))
	v, err := b.Evaluate(context.Background(), "inFrame", "", 0, InFrame(frame.FrameID))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestNavigationFailsPendingEvaluation(t *testing.T) {
	b := started(t)
	errc := make(chan error, 1)
	go func() {
		_, err := b.Evaluate(context.Background(), `new Promise(function() {})`, "", 0)
		errc <- err
	}()
	assert.Equal(t, 1, eval(t, b, "1"))

	require.NoError(t, b.LoadHTML("", "about:blank"))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, core.ErrContextUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("pending evaluation not failed")
	}
}

func TestCloseFailsPendingEvaluations(t *testing.T) {
	b := started(t)
	errc := make(chan error, 1)
	go func() {
		_, err := b.Evaluate(context.Background(), `new Promise(function() {})`, "", 0)
		errc <- err
	}()
	assert.Equal(t, 1, eval(t, b, "1"))
	require.NoError(t, b.Close())
	assert.ErrorIs(t, <-errc, core.ErrClosed)
}

func TestUnhandledDispatchErrorsReachCallback(t *testing.T) {
	b := connect(t)
	errs := make(chan error, 1)
	b.OnUnhandledError(func(err error) { errs <- err })
	b.dispatch.Register("Broken", func(*Browser, *ipc.Message) error { return errors.New("handler failed") })
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.loop.Post(func() { b.dispatch.Dispatch(b, &ipc.Message{Name: "Broken"}) }))
	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "handler failed")
	case <-time.After(5 * time.Second):
		t.Fatal("unhandled error not reported")
	}
}
