package ipc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/cryguy/jsbridge/internal/core"
)

// streamTransport frames messages over a byte stream (a pipe to a child
// process, a TCP or unix socket).
type streamTransport struct {
	opts FrameOptions
	rwc  io.ReadWriteCloser

	rmu sync.Mutex
	r   *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStreamTransport frames messages over rwc. Receive blocks in Read;
// Close unblocks it by closing rwc.
func NewStreamTransport(rwc io.ReadWriteCloser, opts FrameOptions) Transport {
	return &streamTransport{
		opts:   opts,
		rwc:    rwc,
		r:      bufio.NewReader(rwc),
		w:      bufio.NewWriter(rwc),
		closed: make(chan struct{}),
	}
}

func (t *streamTransport) Send(ctx context.Context, msg *Message) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	frame, err := t.opts.encode(msg)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := writeFrame(t.w, frame); err != nil {
		return t.wrap(err)
	}
	return t.wrap(t.w.Flush())
}

func (t *streamTransport) Receive(ctx context.Context) (*Message, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.rmu.Lock()
	defer t.rmu.Unlock()
	frame, err := readFrame(t.r, t.opts.maxFrame())
	if err != nil {
		return nil, t.wrap(err)
	}
	return t.opts.decode(frame)
}

func (t *streamTransport) check(ctx context.Context) error {
	select {
	case <-t.closed:
		return core.ErrClosed
	default:
	}
	return ctx.Err()
}

// wrap maps errors caused by our own Close to ErrClosed.
func (t *streamTransport) wrap(err error) error {
	if err == nil {
		return nil
	}
	select {
	case <-t.closed:
		return core.ErrClosed
	default:
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return core.ErrClosed
	}
	return err
}

func (t *streamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.rwc.Close()
	})
	return err
}
