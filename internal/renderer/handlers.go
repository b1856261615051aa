package renderer

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/glue"
	"github.com/cryguy/jsbridge/internal/ipc"
)

// onCallResult settles the promise of a script call. Results for calls
// whose context is gone are dropped.
func (b *browser) onCallResult(p ipc.CallResult) error {
	slot, ok := b.calls.Take(p.CallID)
	if !ok {
		b.log.Debug("dropping call result", zap.Uint64("call", p.CallID), zap.Error(core.ErrUnknownCorrelationID))
		return nil
	}
	defer slot.Resolve(struct{}{})

	c := slot.Owner().(*ScriptContext)
	payload := p.Error
	if p.Success {
		payload = string(p.Result)
	}
	return c.Run(func(rt core.JSRuntime) error {
		if err := glue.StagePayload(rt, payload, b.cfg.LargePayloadBytes); err != nil {
			return err
		}
		return rt.Eval(glue.SettleJS(b.cfg.GlobalObjectName, p.CallID, p.Success))
	})
}

// onEvaluation runs host supplied script. The response is sent from the
// EvalDone hook, possibly after promises settle; failures before the
// script starts are answered here.
func (b *browser) onEvaluation(p ipc.EvaluationRequest) error {
	err := b.evaluate(p)
	if err == nil {
		return nil
	}
	if p.TaskID == 0 {
		return fmt.Errorf("fire-and-forget evaluation: %w", err)
	}
	delete(b.evals, p.TaskID)
	b.sendOrLog(ipc.EvaluationResponse{
		TaskID:      p.TaskID,
		Error:       err.Error(),
		Unavailable: errors.Is(err, core.ErrContextUnavailable),
	})
	return nil
}

func (b *browser) evaluate(p ipc.EvaluationRequest) error {
	c, err := b.frame(p.FrameID)
	if err != nil {
		return err
	}
	src, err := glue.Transpile(p.Script, p.URL)
	if err != nil {
		return err
	}
	if p.TaskID != 0 {
		b.evals[p.TaskID] = c
	}
	return c.Run(func(rt core.JSRuntime) error {
		if err := glue.StagePayload(rt, src, b.cfg.LargePayloadBytes); err != nil {
			return err
		}
		return rt.Eval(glue.EvaluateJS(b.cfg.GlobalObjectName, p.TaskID, p.URL, p.Line))
	})
}

// onNavigation replaces every context with a fresh page built from p.
func (b *browser) onNavigation(p ipc.NavigationRequest) error {
	for _, c := range b.contextsForRelease() {
		b.releaseContext(c)
	}
	main, err := b.createContext(p.URL, true)
	if err != nil {
		return err
	}
	b.loadDocument(main, p.HTML, 0)
	return nil
}

// maxFrameDepth bounds iframe srcdoc nesting.
const maxFrameDepth = 8

// loadDocument runs the inline scripts of doc in c, then loads each
// srcdoc iframe into its own non-main context.
func (b *browser) loadDocument(c *ScriptContext, doc string, depth int) {
	if doc == "" {
		return
	}
	page := scanDocument(doc)
	for _, s := range page.scripts {
		b.runScript(c, s)
	}
	if depth >= maxFrameDepth {
		if len(page.frames) > 0 {
			b.log.Warn("iframe nesting too deep", zap.String("frame", c.FrameID))
		}
		return
	}
	for _, srcdoc := range page.frames {
		child, err := b.createContext(c.URL, false)
		if err != nil {
			b.log.Error("creating iframe context", zap.Error(err))
			continue
		}
		b.loadDocument(child, srcdoc, depth+1)
	}
}

func (b *browser) runScript(c *ScriptContext, s pageScript) {
	url := c.URL
	if s.typeScript {
		url += "#inline.ts"
	}
	src, err := glue.Transpile(s.source, url)
	if err != nil {
		b.reportError(c, "SyntaxError", err.Error(), "")
		return
	}
	err = c.Run(func(rt core.JSRuntime) error {
		if err := glue.StagePayload(rt, src, b.cfg.LargePayloadBytes); err != nil {
			return err
		}
		return rt.Eval(glue.RunJS(b.cfg.GlobalObjectName, c.URL))
	})
	if err != nil {
		b.log.Warn("running page script", zap.String("frame", c.FrameID), zap.Error(err))
	}
}
