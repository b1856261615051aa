package host

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/ipc"
	"github.com/cryguy/jsbridge/internal/value"
)

// RegisterObject binds the exported methods of target as a script object
// called name. Method names are camel-cased unless WithoutCamelCase is
// given; a leading context.Context parameter receives the browser
// context. It returns false when name is already registered.
func (b *Browser) RegisterObject(name string, target any, opts ...RegisterOption) (bool, error) {
	obj, err := analyseObject(name, target, opts)
	if err != nil {
		return false, fmt.Errorf("host: register %s: %w", name, err)
	}
	return b.register(obj)
}

// RegisterFuncs binds a table of functions as a script object. Keys are
// used as method names verbatim.
func (b *Browser) RegisterFuncs(name string, funcs map[string]any) (bool, error) {
	obj, err := analyseFuncs(name, funcs)
	if err != nil {
		return false, fmt.Errorf("host: register %s: %w", name, err)
	}
	return b.register(obj)
}

func (b *Browser) register(obj *boundObject) (bool, error) {
	name := obj.info.Name
	b.mu.Lock()
	if _, ok := b.objects[name]; ok {
		b.mu.Unlock()
		return false, nil
	}
	b.objects[name] = obj
	b.mu.Unlock()

	if err := b.send(b.runCtx, ipc.ObjectRegistrationRequest{Object: obj.info}); err != nil {
		b.mu.Lock()
		delete(b.objects, name)
		b.mu.Unlock()
		return false, fmt.Errorf("host: register %s: %w", name, err)
	}
	b.log.Debug("registered object", zap.String("object", name), zap.Strings("methods", obj.info.MethodNames()))
	return true, nil
}

// UnregisterObject removes a bound object. It reports whether name was
// registered.
func (b *Browser) UnregisterObject(name string) bool {
	b.mu.Lock()
	_, ok := b.objects[name]
	delete(b.objects, name)
	b.mu.Unlock()
	if !ok {
		return false
	}
	if err := b.send(b.runCtx, ipc.ObjectUnregistrationRequest{Name: name}); err != nil {
		b.log.Warn("unregistering object", zap.String("object", name), zap.Error(err))
	}
	return true
}

func (b *Browser) lookup(object, name string) (*method, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[object]
	if !ok {
		return nil, core.ErrObjectNotFound
	}
	m, ok := obj.methods[name]
	if !ok {
		return nil, fmt.Errorf("no method %q: %w", name, core.ErrObjectNotFound)
	}
	return m, nil
}

// onCallRequest runs on the loop. The method itself runs on a worker; its
// result comes back through Post and is answered from the loop.
func (b *Browser) onCallRequest(p ipc.CallRequest) error {
	m, err := b.lookup(p.Object, p.Method)
	if err != nil {
		b.reply(p, nil, err)
		return nil
	}
	var args []any
	if len(p.Arguments) > 0 {
		decoded, err := value.Unmarshal(p.Arguments)
		if err != nil {
			b.reply(p, nil, fmt.Errorf("decoding arguments: %w", err))
			return nil
		}
		args, _ = decoded.([]any)
	}

	b.calls.Add(1)
	go func() {
		defer b.calls.Done()
		if err := b.workers.Acquire(b.runCtx, 1); err != nil {
			return
		}
		result, err := m.invoke(b.runCtx, args)
		b.workers.Release(1)
		if err := b.loop.Post(func() { b.reply(p, result, err) }); err != nil {
			b.log.Debug("dropping call result", zap.Uint64("call", p.CallID), zap.Error(err))
		}
	}()
	return nil
}

func (b *Browser) reply(p ipc.CallRequest, result any, err error) {
	res := ipc.CallResult{CallID: p.CallID}
	if err == nil {
		res.Result, err = value.Marshal(result)
	}
	if err != nil {
		merr := &core.MethodError{Object: p.Object, Method: p.Method, Err: err}
		b.log.Debug("call failed", zap.Uint64("call", p.CallID), zap.Error(merr))
		res.Result = nil
		res.Error = merr.Error()
	} else {
		res.Success = true
	}
	if err := b.send(b.runCtx, res); err != nil {
		b.log.Debug("sending call result", zap.Uint64("call", p.CallID), zap.Error(err))
	}
}
