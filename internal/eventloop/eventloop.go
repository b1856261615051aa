package eventloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
)

// Loop is a single-threaded task queue. Everything that touches a script
// engine, or the host-side state owned by the UI thread, runs as a task on
// one Loop. Post is the only way in from other goroutines.
type Loop struct {
	log *zap.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

// New creates a Loop. Nothing runs until Run is called.
func New(log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		log:  log,
		wake: make(chan struct{}, 1),
	}
}

// Post queues fn to run on the loop goroutine. It is safe to call from any
// goroutine, including the loop itself. Tasks run in Post order.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return core.ErrClosed
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if err := l.Post(func() { errc <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc posts fn to the loop once d has elapsed. The returned function
// stops the timer if it has not fired yet.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(d, func() {
		_ = l.Post(fn)
	})
	return t.Stop
}

// Run executes queued tasks until ctx is done or Close is called. A task
// that panics is logged and the loop keeps going.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, task := range tasks {
			l.runTask(task)
		}
		if closed {
			return nil
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if p := recover(); p != nil {
			l.log.Error("task panicked", zap.String("panic", fmt.Sprint(p)))
		}
	}()
	task()
}

// Close stops accepting tasks. Tasks already queued still run before Run
// returns.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
