// Package host is the embedding application's side of the bridge. A
// Browser talks to one renderer over a transport: it binds Go objects into
// the page, answers script calls on worker goroutines, and evaluates
// script with typed results.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/correlator"
	"github.com/cryguy/jsbridge/internal/eventloop"
	"github.com/cryguy/jsbridge/internal/ipc"
)

// Browser is the host end of one renderer connection.
type Browser struct {
	id        string
	cfg       core.BridgeConfig
	log       *zap.Logger
	transport ipc.Transport
	loop      *eventloop.Loop
	dispatch  *ipc.Dispatcher[*Browser]
	workers   *semaphore.Weighted
	evals     *correlator.Table[[]byte]

	runCtx    context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
	calls     sync.WaitGroup
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once

	mu        sync.RWMutex
	objects   map[string]*boundObject
	contexts  map[string]core.ContextInfo
	mainFrame string
	started   bool

	onCreated   []func(core.ContextInfo)
	onReleased  []func(core.ContextInfo)
	onException func(core.ExceptionInfo)
	onUnhandled func(error)
}

// New returns a Browser speaking over t. Register callbacks, then call
// Start.
func New(t ipc.Transport, cfg core.BridgeConfig, log *zap.Logger) *Browser {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	log = log.Named("host").With(zap.String("browser", id))
	ctx, cancel := context.WithCancel(context.Background())
	b := &Browser{
		id:        id,
		cfg:       cfg,
		log:       log,
		transport: t,
		loop:      eventloop.New(log),
		workers:   semaphore.NewWeighted(int64(cfg.MaxConcurrentCall)),
		evals:     correlator.NewTable[[]byte](),
		runCtx:    ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
		objects:   make(map[string]*boundObject),
		contexts:  make(map[string]core.ContextInfo),
	}
	b.dispatch = ipc.NewDispatcher[*Browser](log)
	b.dispatch.OnUnhandled(func(name string, err error) {
		b.unhandled(fmt.Errorf("handling %s: %w", name, err))
	})
	ipc.On(b.dispatch, (*Browser).onCallRequest)
	ipc.On(b.dispatch, (*Browser).onEvaluationResponse)
	ipc.On(b.dispatch, (*Browser).onUnhandledException)
	ipc.On(b.dispatch, (*Browser).onContextCreated)
	ipc.On(b.dispatch, (*Browser).onContextReleased)
	return b
}

// ID identifies the browser in logs and in the message journal.
func (b *Browser) ID() string { return b.id }

// Start runs the browser and waits until the renderer has announced its
// main context.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("host: browser already started")
	}
	b.started = true
	b.mu.Unlock()

	b.group.Go(func() error {
		return b.loop.Run(b.runCtx)
	})
	b.group.Go(func() error {
		defer b.loop.Close()
		defer b.failPending(core.ErrClosed)
		return b.receive()
	})

	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Browser) receive() error {
	for {
		msg, err := b.transport.Receive(b.runCtx)
		if err != nil {
			if errors.Is(err, core.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			b.unhandled(fmt.Errorf("receiving: %w", err))
			return err
		}
		if err := b.loop.Post(func() { b.dispatch.Dispatch(b, msg) }); err != nil {
			return nil
		}
	}
}

// Close disconnects from the renderer. Pending evaluations fail with
// ErrClosed; running host methods see their context cancelled.
func (b *Browser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		err = b.transport.Close()
		_ = b.group.Wait()
		b.calls.Wait()
		b.failPending(core.ErrClosed)
	})
	return err
}

func (b *Browser) send(ctx context.Context, p ipc.Payload) error {
	msg, err := ipc.Encode(p)
	if err != nil {
		return err
	}
	return b.transport.Send(ctx, msg)
}

func (b *Browser) failPending(err error) {
	for _, slot := range b.evals.DiscardAll() {
		slot.Reject(err)
	}
}

// OnContextCreated registers fn for context creation. Callbacks run on the
// browser loop and must not block.
func (b *Browser) OnContextCreated(fn func(core.ContextInfo)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCreated = append(b.onCreated, fn)
}

// OnContextReleased registers fn for context release.
func (b *Browser) OnContextReleased(fn func(core.ContextInfo)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReleased = append(b.onReleased, fn)
}

// OnUncaughtException sets the receiver of uncaught script errors. By
// default they are logged.
func (b *Browser) OnUncaughtException(fn func(core.ExceptionInfo)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onException = fn
}

// OnUnhandledError sets the receiver of failures inside the bridge itself
// (a message handler that failed, a broken transport). By default they are
// logged.
func (b *Browser) OnUnhandledError(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onUnhandled = fn
}

func (b *Browser) unhandled(err error) {
	b.mu.RLock()
	fn := b.onUnhandled
	b.mu.RUnlock()
	if fn != nil {
		fn(err)
		return
	}
	b.log.Error("unhandled bridge error", zap.Error(err))
}

// Contexts returns the live script contexts.
func (b *Browser) Contexts() []core.ContextInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.ContextInfo, 0, len(b.contexts))
	for _, c := range b.contexts {
		out = append(out, c)
	}
	return out
}

// MainFrame returns the frame id of the current main context, or "" while
// none exists.
func (b *Browser) MainFrame() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mainFrame
}

func (b *Browser) onContextCreated(p ipc.ContextCreated) error {
	info := core.ContextInfo{FrameID: p.FrameID, IsMain: p.IsMain, URL: p.URL}
	b.mu.Lock()
	b.contexts[p.FrameID] = info
	if p.IsMain {
		b.mainFrame = p.FrameID
	}
	callbacks := append([]func(core.ContextInfo){}, b.onCreated...)
	b.mu.Unlock()

	b.log.Debug("context created", zap.String("frame", p.FrameID), zap.Bool("main", p.IsMain), zap.String("url", p.URL))
	for _, fn := range callbacks {
		fn(info)
	}
	if p.IsMain {
		b.readyOnce.Do(func() { close(b.ready) })
	}
	return nil
}

func (b *Browser) onContextReleased(p ipc.ContextReleased) error {
	b.mu.Lock()
	info, ok := b.contexts[p.FrameID]
	delete(b.contexts, p.FrameID)
	if b.mainFrame == p.FrameID {
		b.mainFrame = ""
	}
	callbacks := append([]func(core.ContextInfo){}, b.onReleased...)
	b.mu.Unlock()
	if !ok {
		info = core.ContextInfo{FrameID: p.FrameID, IsMain: p.IsMain}
	}

	b.log.Debug("context released", zap.String("frame", p.FrameID), zap.Bool("main", p.IsMain))
	for _, fn := range callbacks {
		fn(info)
	}
	return nil
}

func (b *Browser) onUnhandledException(p ipc.UnhandledExceptionNotice) error {
	info := core.ExceptionInfo{
		FrameID:       p.FrameID,
		ExceptionType: p.ExceptionType,
		Message:       p.Message,
		StackTrace:    p.StackTrace,
		Frames:        p.Frames,
	}
	b.mu.RLock()
	fn := b.onException
	b.mu.RUnlock()
	if fn != nil {
		fn(info)
		return nil
	}
	b.log.Warn("uncaught script exception",
		zap.String("frame", p.FrameID), zap.String("type", p.ExceptionType), zap.String("message", p.Message))
	return nil
}
