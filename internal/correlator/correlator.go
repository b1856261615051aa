// Package correlator ties request messages to their responses. Each
// outstanding call or evaluation gets an id from a process-wide counter and
// a single-assignment result slot kept in a Table until the matching
// response arrives or the owning context goes away.
package correlator

import (
	"context"
	"sync"
	"sync/atomic"
)

var counter atomic.Uint64

// NextID returns the next correlation id. Ids are process-wide, start at 1
// and are never reused.
func NextID() uint64 {
	return counter.Add(1)
}

// Slot is a single-assignment result slot. The first Resolve or Reject
// wins; later ones are ignored.
type Slot[T any] struct {
	id    uint64
	owner any
	once  sync.Once
	done  chan struct{}
	val   T
	err   error
}

func newSlot[T any](id uint64, owner any) *Slot[T] {
	return &Slot[T]{id: id, owner: owner, done: make(chan struct{})}
}

// ID returns the correlation id of the slot.
func (s *Slot[T]) ID() uint64 { return s.id }

// Owner returns the owner the slot was issued for (a script context, a
// frame id).
func (s *Slot[T]) Owner() any { return s.owner }

// Resolve completes the slot with a value. It reports whether this call
// completed the slot.
func (s *Slot[T]) Resolve(v T) bool {
	return s.complete(v, nil)
}

// Reject completes the slot with an error.
func (s *Slot[T]) Reject(err error) bool {
	var zero T
	return s.complete(zero, err)
}

func (s *Slot[T]) complete(v T, err error) bool {
	completed := false
	s.once.Do(func() {
		s.val, s.err = v, err
		close(s.done)
		completed = true
	})
	return completed
}

// Done is closed once the slot is completed.
func (s *Slot[T]) Done() <-chan struct{} { return s.done }

// Result returns the completed value. It must only be called after Done
// is closed.
func (s *Slot[T]) Result() (T, error) { return s.val, s.err }

// Wait blocks until the slot completes or ctx is done.
func (s *Slot[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		return s.val, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Table maps correlation ids to pending slots. Each slot leaves the table
// exactly once: through Take/Complete, or through a discard.
type Table[T any] struct {
	mu    sync.Mutex
	slots map[uint64]*Slot[T]
}

// NewTable returns an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{slots: make(map[uint64]*Slot[T])}
}

// Issue allocates an id and parks a new slot under it.
func (t *Table[T]) Issue(owner any) (uint64, *Slot[T]) {
	id := NextID()
	s := newSlot[T](id, owner)
	t.mu.Lock()
	t.slots[id] = s
	t.mu.Unlock()
	return id, s
}

// Take removes and returns the slot for id.
func (t *Table[T]) Take(id uint64) (*Slot[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
	}
	return s, ok
}

// Complete takes the slot for id and completes it. It returns false when
// no slot is pending under id; the response is then expected to be
// dropped by the caller.
func (t *Table[T]) Complete(id uint64, v T, err error) bool {
	s, ok := t.Take(id)
	if !ok {
		return false
	}
	s.complete(v, err)
	return true
}

// DiscardWhere removes every slot whose owner matches. Discarded slots are
// not completed. It returns the removed slots.
func (t *Table[T]) DiscardWhere(match func(owner any) bool) []*Slot[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Slot[T]
	for id, s := range t.slots {
		if match(s.owner) {
			delete(t.slots, id)
			out = append(out, s)
		}
	}
	return out
}

// DiscardAll removes every slot and returns them.
func (t *Table[T]) DiscardAll() []*Slot[T] {
	return t.DiscardWhere(func(any) bool { return true })
}

// Len returns the number of pending slots.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Pending reports whether id is still pending.
func (t *Table[T]) Pending(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.slots[id]
	return ok
}
