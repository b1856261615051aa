package renderer

import (
	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/correlator"
	"github.com/cryguy/jsbridge/internal/glue"
	"github.com/cryguy/jsbridge/internal/ipc"
)

// pendingBind is the owner of a bind slot: a checkObjectBound waiting in
// ctx for name to be registered.
type pendingBind struct {
	ctx  *ScriptContext
	name string
}

func (b *browser) onRegister(p ipc.ObjectRegistrationRequest) error {
	b.registerLocal(p.Object)
	return nil
}

func (b *browser) onUnregister(p ipc.ObjectUnregistrationRequest) error {
	b.unregisterLocal(p.Name)
	return nil
}

// registerLocal stores info, binds it into the main context and resolves
// every bind waiting for its name. Registering a known name is a no-op.
func (b *browser) registerLocal(info core.ObjectInfo) {
	if _, ok := b.objects[info.Name]; ok {
		b.log.Debug("object already registered", zap.String("object", info.Name))
		return
	}
	b.objects[info.Name] = info
	b.order = append(b.order, info.Name)

	if b.main != nil {
		b.materialize(b.main, info)
	}
	for _, slot := range b.binds.DiscardWhere(bindsFor(nil, info.Name)) {
		b.resolveBind(slot, true)
	}
}

// unregisterLocal forgets name and removes its binding from the main
// context.
func (b *browser) unregisterLocal(name string) {
	if _, ok := b.objects[name]; !ok {
		return
	}
	delete(b.objects, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if b.main == nil {
		return
	}
	err := b.main.Run(func(rt core.JSRuntime) error {
		return rt.Eval(glue.UnbindJS(b.cfg.GlobalObjectName, name))
	})
	if err != nil {
		b.log.Warn("unbinding object", zap.String("object", name), zap.Error(err))
	}
}

// contextCreated binds every registered object into a new main context.
func (b *browser) contextCreated(c *ScriptContext) {
	if !c.IsMain {
		return
	}
	for _, name := range b.order {
		b.materialize(c, b.objects[name])
	}
}

// contextReleased discards what was waiting in c. Releasing the main
// context discards everything. Host evaluations still running in c are
// answered as unavailable.
func (b *browser) contextReleased(c *ScriptContext) {
	for id, owner := range b.evals {
		if owner != c {
			continue
		}
		delete(b.evals, id)
		b.sendOrLog(ipc.EvaluationResponse{TaskID: id, Error: core.ErrContextUnavailable.Error(), Unavailable: true})
	}
	if c.IsMain {
		calls, binds := b.calls.DiscardAll(), b.binds.DiscardAll()
		b.logDiscarded(c, len(calls), len(binds))
		return
	}
	calls := b.calls.DiscardWhere(func(owner any) bool { return owner == c })
	binds := b.binds.DiscardWhere(bindsFor(c, ""))
	b.logDiscarded(c, len(calls), len(binds))
}

func (b *browser) logDiscarded(c *ScriptContext, calls, binds int) {
	if calls == 0 && binds == 0 {
		return
	}
	b.log.Debug("discarded pending work of released context",
		zap.String("frame", c.FrameID), zap.Int("calls", calls), zap.Int("binds", binds))
}

func (b *browser) materialize(c *ScriptContext, info core.ObjectInfo) {
	js, err := glue.MaterializeJS(b.cfg.GlobalObjectName, info)
	if err == nil {
		err = c.Run(func(rt core.JSRuntime) error { return rt.Eval(js) })
	}
	if err != nil {
		b.log.Warn("binding object", zap.String("object", info.Name), zap.String("frame", c.FrameID), zap.Error(err))
	}
}

// bind is the native side of checkObjectBound. It returns 0 when name is
// already registered.
func (b *browser) bind(c *ScriptContext, name string) uint64 {
	if _, ok := b.objects[name]; ok {
		return 0
	}
	id, _ := b.binds.Issue(&pendingBind{ctx: c, name: name})
	return id
}

// unbound follows a script-side deleteObjectBound: binds that c still has
// open for name resolve false.
func (b *browser) unbound(c *ScriptContext, name string) {
	for _, slot := range b.binds.DiscardWhere(bindsFor(c, name)) {
		b.resolveBind(slot, false)
	}
}

func (b *browser) resolveBind(slot *correlator.Slot[bool], bound bool) {
	pb := slot.Owner().(*pendingBind)
	err := pb.ctx.Run(func(rt core.JSRuntime) error {
		return rt.Eval(glue.ResolveBindJS(b.cfg.GlobalObjectName, slot.ID(), bound))
	})
	if err != nil {
		b.log.Debug("resolving bind", zap.String("object", pb.name), zap.Error(err))
	}
	slot.Resolve(bound)
}

// bindsFor matches bind owners by context and name. A nil context or an
// empty name matches any.
func bindsFor(c *ScriptContext, name string) func(any) bool {
	return func(owner any) bool {
		pb, ok := owner.(*pendingBind)
		if !ok {
			return false
		}
		return (c == nil || pb.ctx == c) && (name == "" || pb.name == name)
	}
}
