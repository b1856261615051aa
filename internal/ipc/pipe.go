package ipc

import (
	"context"
	"sync"

	"github.com/cryguy/jsbridge/internal/core"
)

// Transport moves messages between the two processes. Send and Receive may
// be called concurrently with each other but each is used by one goroutine
// at a time. Messages arrive in send order.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
	Receive(ctx context.Context) (*Message, error)
	Close() error
}

// queue is an unbounded FIFO of serialized messages.
type queue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	ready  chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(b []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrClosed
	}
	q.items = append(q.items, b)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop drains queued items before reporting closure.
func (q *queue) pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return b, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, core.ErrClosed
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

type pipeEnd struct {
	in, out *queue
}

// Pipe returns two connected in-memory transports. Every message is
// serialized on Send and parsed on Receive, so the two ends never share
// memory. Closing either end closes both directions.
func Pipe() (Transport, Transport) {
	a, b := newQueue(), newQueue()
	return &pipeEnd{in: a, out: b}, &pipeEnd{in: b, out: a}
}

func (p *pipeEnd) Send(_ context.Context, msg *Message) error {
	data, err := MarshalMessage(msg)
	if err != nil {
		return err
	}
	return p.out.push(data)
}

func (p *pipeEnd) Receive(ctx context.Context) (*Message, error) {
	data, err := p.in.pop(ctx)
	if err != nil {
		return nil, err
	}
	return UnmarshalMessage(data)
}

func (p *pipeEnd) Close() error {
	p.in.close()
	p.out.close()
	return nil
}
