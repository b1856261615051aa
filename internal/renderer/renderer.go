// Package renderer is the script side of the bridge. A Renderer serves
// browsers: each browser is one transport connection with its own script
// main thread (an eventloop.Loop), its own script contexts and its own
// object registry. Everything a browser owns is touched only from its loop.
package renderer

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/correlator"
	"github.com/cryguy/jsbridge/internal/eventloop"
	"github.com/cryguy/jsbridge/internal/ipc"
)

// Renderer hosts script contexts for any number of browsers.
type Renderer struct {
	cfg    core.BridgeConfig
	engine core.Engine
	log    *zap.Logger
}

// New returns a Renderer creating its contexts from engine. The engine
// must have been prepared with the glue for cfg.GlobalObjectName.
func New(cfg core.BridgeConfig, engine core.Engine, log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{
		cfg:    cfg.WithDefaults(),
		engine: engine,
		log:    log.Named("renderer"),
	}
}

// Serve runs one browser over t until ctx is done or the host closes the
// transport. Serve owns t and closes it before returning.
func (r *Renderer) Serve(ctx context.Context, t ipc.Transport) error {
	return newBrowser(r, t).serve(ctx)
}

// browser is the per-connection state. All fields below loop are owned by
// the loop goroutine.
type browser struct {
	cfg       core.BridgeConfig
	engine    core.Engine
	log       *zap.Logger
	transport ipc.Transport
	ctx       context.Context
	loop      *eventloop.Loop
	dispatch  *ipc.Dispatcher[*browser]

	objects map[string]core.ObjectInfo
	order   []string
	main    *ScriptContext
	frames  map[string]*ScriptContext

	calls *correlator.Table[struct{}]
	binds *correlator.Table[bool]
	evals map[uint64]*ScriptContext // host evaluations awaiting EvalDone
}

func newBrowser(r *Renderer, t ipc.Transport) *browser {
	b := &browser{
		cfg:       r.cfg,
		engine:    r.engine,
		log:       r.log,
		transport: t,
		ctx:       context.Background(),
		loop:      eventloop.New(r.log),
		objects:   make(map[string]core.ObjectInfo),
		frames:    make(map[string]*ScriptContext),
		calls:     correlator.NewTable[struct{}](),
		binds:     correlator.NewTable[bool](),
		evals:     make(map[uint64]*ScriptContext),
	}
	b.dispatch = ipc.NewDispatcher[*browser](r.log)
	b.dispatch.OnUnhandled(b.handlerFailed)
	ipc.On(b.dispatch, (*browser).onRegister)
	ipc.On(b.dispatch, (*browser).onUnregister)
	ipc.On(b.dispatch, (*browser).onCallResult)
	ipc.On(b.dispatch, (*browser).onEvaluation)
	ipc.On(b.dispatch, (*browser).onNavigation)
	return b
}

func (b *browser) serve(ctx context.Context) error {
	defer b.shutdown()

	g, gctx := errgroup.WithContext(ctx)
	b.ctx = gctx
	g.Go(func() error {
		err := b.loop.Run(gctx)
		_ = b.transport.Close()
		return err
	})
	g.Go(func() error {
		defer b.loop.Close()
		return b.receive(gctx)
	})

	if err := b.loop.Post(b.start); err != nil {
		b.log.Debug("browser closed before start", zap.Error(err))
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrClosed) {
		return nil
	}
	return err
}

// start creates the initial about:blank main context.
func (b *browser) start() {
	if _, err := b.createContext("about:blank", true); err != nil {
		b.log.Error("creating initial context", zap.Error(err))
	}
}

func (b *browser) receive(ctx context.Context) error {
	for {
		msg, err := b.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, core.ErrClosed) {
				return nil
			}
			return err
		}
		if err := b.loop.Post(func() { b.dispatch.Dispatch(b, msg) }); err != nil {
			return nil
		}
	}
}

func (b *browser) send(p ipc.Payload) error {
	msg, err := ipc.Encode(p)
	if err != nil {
		return err
	}
	return b.transport.Send(b.ctx, msg)
}

// sendOrLog is used where nobody is waiting for the send to succeed.
func (b *browser) sendOrLog(p ipc.Payload) {
	if err := b.send(p); err != nil && !errors.Is(err, core.ErrClosed) {
		b.log.Warn("sending message", zap.String("message", p.MessageName()), zap.Error(err))
	}
}

// handlerFailed forwards a failed message handler to the host as an
// uncaught exception of the main frame. It runs on the loop.
func (b *browser) handlerFailed(name string, err error) {
	b.log.Error("message handler failed", zap.String("message", name), zap.Error(err))
	notice := ipc.UnhandledExceptionNotice{
		ExceptionType: "Error",
		Message:       name + ": " + err.Error(),
	}
	if b.main != nil {
		notice.FrameID = b.main.FrameID
	}
	b.sendOrLog(notice)
}

// shutdown releases what is left once the loop has stopped. Nothing is
// sent; the transport is gone.
func (b *browser) shutdown() {
	for _, c := range b.contextsForRelease() {
		c.release()
	}
	b.main = nil
	clear(b.frames)
	b.calls.DiscardAll()
	b.binds.DiscardAll()
	clear(b.evals)
}
