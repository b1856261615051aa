package ipc

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/cryguy/jsbridge/internal/core"
)

// wsTransport sends one binary WebSocket message per frame.
type wsTransport struct {
	opts FrameOptions
	conn *websocket.Conn

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketTransport wraps an established connection.
func NewWebSocketTransport(conn *websocket.Conn, opts FrameOptions) Transport {
	conn.SetReadLimit(int64(opts.maxFrame()) + 1)
	return &wsTransport{opts: opts, conn: conn, closed: make(chan struct{})}
}

// DialWebSocket connects to a renderer listening at url.
func DialWebSocket(ctx context.Context, url string, opts FrameOptions) (Transport, error) {
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return NewWebSocketTransport(conn, opts), nil
}

// AcceptWebSocket upgrades an HTTP request into a transport.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, opts FrameOptions) (Transport, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("ipc: accept: %w", err)
	}
	return NewWebSocketTransport(conn, opts), nil
}

func (t *wsTransport) Send(ctx context.Context, msg *Message) error {
	frame, err := t.opts.encode(msg)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.wrap(t.conn.Write(ctx, websocket.MessageBinary, frame))
}

func (t *wsTransport) Receive(ctx context.Context) (*Message, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			return nil, t.wrap(err)
		}
		if typ != websocket.MessageBinary {
			continue
		}
		return t.opts.decode(data)
	}
}

func (t *wsTransport) wrap(err error) error {
	if err == nil {
		return nil
	}
	if t.isClosed() || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return core.ErrClosed
	}
	return err
}

func (t *wsTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}
