package core

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RuntimePool keeps up to size runtimes warm. A background goroutine
// builds runtimes with factory and parks them until NewRuntime takes one.
// Runtimes are handed out once and never returned to the pool.
type RuntimePool struct {
	factory func() (JSRuntime, error)
	log     *zap.Logger

	warm chan JSRuntime
	stop chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

var _ Engine = (*RuntimePool)(nil)

const refillBackoff = 100 * time.Millisecond

// NewRuntimePool builds the first runtime synchronously, so a broken
// factory is reported here, and starts the refill goroutine.
func NewRuntimePool(size int, factory func() (JSRuntime, error), log *zap.Logger) (*RuntimePool, error) {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	first, err := factory()
	if err != nil {
		return nil, fmt.Errorf("warming runtime: %w", err)
	}
	p := &RuntimePool{
		factory: factory,
		log:     log,
		warm:    make(chan JSRuntime, size),
		stop:    make(chan struct{}),
	}
	p.warm <- first
	p.wg.Add(1)
	go p.refill()
	return p, nil
}

func (p *RuntimePool) refill() {
	defer p.wg.Done()
	for {
		rt, err := p.factory()
		if err != nil {
			p.log.Error("warming runtime", zap.Error(err))
			select {
			case <-p.stop:
				return
			case <-time.After(refillBackoff):
				continue
			}
		}
		select {
		case p.warm <- rt:
		case <-p.stop:
			_ = rt.Close()
			return
		}
	}
}

// NewRuntime takes a warm runtime, building one inline when the pool is
// empty.
func (p *RuntimePool) NewRuntime() (JSRuntime, error) {
	select {
	case <-p.stop:
		return nil, ErrClosed
	default:
	}
	select {
	case rt := <-p.warm:
		return rt, nil
	default:
		return p.factory()
	}
}

// Close stops the refill goroutine and disposes the parked runtimes.
// Runtimes already handed out are owned by their callers.
func (p *RuntimePool) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		for {
			select {
			case rt := <-p.warm:
				_ = rt.Close()
			default:
				return
			}
		}
	})
}
