package jsbridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/ipc"
)

type (
	// Recorder observes the messages a browser sends and receives.
	Recorder  = ipc.Recorder
	Message   = ipc.Message
	Direction = ipc.Direction
)

// Tap reports every message passing through t to rec.
func Tap(t Transport, rec Recorder, log *zap.Logger) Transport {
	return ipc.Tap(t, rec, log)
}

// InProcess is a browser connected over a pipe to a renderer running in
// the same process on an engine of its own.
type InProcess struct {
	*Browser
	engine Engine
	done   chan error
	once   sync.Once
	err    error
}

// ConnectInProcess starts a renderer and returns a browser connected to
// it. The browser is not started; register callbacks, then call Start.
// A non-nil rec journals the browser's traffic.
func ConnectInProcess(cfg Config, log *zap.Logger, rec Recorder) (*InProcess, error) {
	cfg = cfg.WithDefaults()
	engine, err := NewEngine(cfg, log)
	if err != nil {
		return nil, err
	}

	hostEnd, rendererEnd := ipc.Pipe()
	if rec != nil {
		hostEnd = ipc.Tap(hostEnd, rec, log)
	}
	p := &InProcess{
		Browser: NewBrowser(hostEnd, cfg, log),
		engine:  engine,
		done:    make(chan error, 1),
	}
	r := NewRenderer(cfg, engine, log)
	go func() { p.done <- r.Serve(context.Background(), rendererEnd) }()
	return p, nil
}

// Close disconnects the browser, waits for the renderer to stop and
// releases the engine.
func (p *InProcess) Close() error {
	p.once.Do(func() {
		p.err = p.Browser.Close()
		if err := <-p.done; p.err == nil {
			p.err = err
		}
		p.engine.Close()
	})
	return p.err
}
