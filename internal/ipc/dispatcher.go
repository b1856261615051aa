package ipc

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler processes one message received from src.
type Handler[S any] func(src S, msg *Message) error

// Dispatcher routes messages to handlers by exact name. Dispatch runs the
// handler on the calling goroutine; callers dispatch from their owner loop.
type Dispatcher[S any] struct {
	log *zap.Logger

	mu          sync.RWMutex
	handlers    map[string]Handler[S]
	onUnhandled func(name string, err error)
}

// NewDispatcher returns an empty dispatcher. Handler failures are logged
// until OnUnhandled installs a hook.
func NewDispatcher[S any](log *zap.Logger) *Dispatcher[S] {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher[S]{
		log:      log,
		handlers: make(map[string]Handler[S]),
	}
	d.onUnhandled = func(name string, err error) {
		d.log.Error("message handler failed", zap.String("message", name), zap.Error(err))
	}
	return d
}

// Register installs h for name, replacing any previous handler.
func (d *Dispatcher[S]) Register(name string, h Handler[S]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// OnUnhandled sets the hook that receives handler errors and panics.
func (d *Dispatcher[S]) OnUnhandled(fn func(name string, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onUnhandled = fn
}

// Dispatch invokes the handler registered for msg.Name. Unknown names are
// ignored. It reports whether a handler ran.
func (d *Dispatcher[S]) Dispatch(src S, msg *Message) bool {
	d.mu.RLock()
	h, ok := d.handlers[msg.Name]
	hook := d.onUnhandled
	d.mu.RUnlock()
	if !ok {
		d.log.Debug("ignoring unknown message", zap.String("message", msg.Name))
		return false
	}
	if err := invoke(h, src, msg); err != nil {
		hook(msg.Name, err)
	}
	return true
}

func invoke[S any](h Handler[S], src S, msg *Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s handler: %v", msg.Name, p)
		}
	}()
	return h(src, msg)
}

// On registers a typed handler: the payload is decoded before fn runs.
func On[T Payload, S any](d *Dispatcher[S], fn func(src S, p T) error) {
	var zero T
	d.Register(zero.MessageName(), func(src S, msg *Message) error {
		p, err := Decode[T](msg)
		if err != nil {
			return err
		}
		return fn(src, p)
	})
}
