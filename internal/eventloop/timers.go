package eventloop

import (
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/jsbridge/internal/core"
)

// Runner runs fn inside a script context. Implementations bracket the call
// with context enter/exit and pump microtasks afterwards.
type Runner interface {
	Run(fn func(rt core.JSRuntime) error) error
}

// timerEntry represents a pending setTimeout or setInterval callback.
// The actual callback is stored in globalThis.__timerCallbacks[id] on the
// JS side. Go only tracks scheduling metadata.
type timerEntry struct {
	id       int
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	stop     func() bool
}

// minInterval is the floor applied to setInterval delays.
const minInterval = 10 * time.Millisecond

// Timers backs setTimeout/setInterval for one script context with
// wall-clock timers that fire on the owning Loop.
type Timers struct {
	loop    *Loop
	runner  Runner
	onError func(error)

	mu     sync.Mutex
	timers map[int]*timerEntry
	nextID int
	closed bool
}

// NewTimers creates the timer table of one context. onError receives
// exceptions thrown by timer callbacks.
func NewTimers(loop *Loop, runner Runner, onError func(error)) *Timers {
	if onError == nil {
		onError = func(error) {}
	}
	return &Timers{
		loop:    loop,
		runner:  runner,
		onError: onError,
		timers:  make(map[int]*timerEntry),
	}
}

// Register creates a timer entry and returns its ID.
func (t *Timers) Register(delay time.Duration, isInterval bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0
	}
	t.nextID++
	id := t.nextID
	entry := &timerEntry{id: id}
	if isInterval {
		if delay < minInterval {
			delay = minInterval
		}
		entry.interval = delay
	}
	if delay < 0 {
		delay = 0
	}
	entry.stop = t.loop.AfterFunc(delay, func() { t.fire(id) })
	t.timers[id] = entry
	return id
}

// Clear cancels a timer by ID.
func (t *Timers) Clear(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.timers[id]; ok {
		e.stop()
		delete(t.timers, id)
	}
}

// Pending returns the number of active timers.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Close cancels all timers. Used when the owning context is released.
func (t *Timers) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, e := range t.timers {
		e.stop()
		delete(t.timers, id)
	}
}

// fire runs on the loop goroutine.
func (t *Timers) fire(id int) {
	t.mu.Lock()
	e, ok := t.timers[id]
	if !ok || t.closed {
		t.mu.Unlock()
		return
	}
	if e.interval > 0 {
		e.stop = t.loop.AfterFunc(e.interval, func() { t.fire(id) })
	} else {
		delete(t.timers, id)
	}
	t.mu.Unlock()

	err := t.runner.Run(func(rt core.JSRuntime) error {
		return rt.Eval(fireTimerJS(id))
	})
	if err != nil {
		t.onError(err)
	}
}

func fireTimerJS(id int) string {
	return fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
}
