package host

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/ipc"
	"github.com/cryguy/jsbridge/internal/value"
)

// EvalOption adjusts one evaluation.
type EvalOption func(*evalOptions)

type evalOptions struct {
	frame   string
	timeout time.Duration
}

// WithTimeout bounds how long the caller waits for the result. It
// overrides BridgeConfig.EvaluateTimeout.
func WithTimeout(d time.Duration) EvalOption {
	return func(o *evalOptions) { o.timeout = d }
}

// InFrame evaluates in the context of frameID instead of the main frame.
func InFrame(frameID string) EvalOption {
	return func(o *evalOptions) { o.frame = frameID }
}

// Evaluate runs script in the page and returns its decoded result.
// Promise results are awaited. url and line name the script in stack
// traces.
func (b *Browser) Evaluate(ctx context.Context, script, url string, line int, opts ...EvalOption) (any, error) {
	raw, err := b.evaluate(ctx, script, url, line, opts)
	if err != nil {
		return nil, err
	}
	v, err := value.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("host: decoding result: %w", err)
	}
	return v, nil
}

// EvaluateAs evaluates script and converts the result to T. Integers are
// widened when T is a float type; they are not when T is an interface.
func EvaluateAs[T any](ctx context.Context, b *Browser, script, url string, line int, opts ...EvalOption) (T, error) {
	var zero T
	v, err := b.Evaluate(ctx, script, url, line, opts...)
	if err != nil {
		return zero, err
	}
	return value.Convert[T](v)
}

func (b *Browser) evaluate(ctx context.Context, script, url string, line int, opts []EvalOption) ([]byte, error) {
	o := evalOptions{timeout: b.cfg.EvaluateTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	id, slot := b.evals.Issue(o.frame)
	err := b.send(ctx, ipc.EvaluationRequest{
		TaskID:  id,
		FrameID: o.frame,
		Script:  script,
		URL:     url,
		Line:    line,
	})
	if err != nil {
		b.evals.Take(id)
		return nil, fmt.Errorf("host: evaluate: %w", err)
	}

	result, err := slot.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		// the response, if it ever comes, is dropped
		b.evals.Take(id)
	}
	return result, err
}

func (b *Browser) onEvaluationResponse(p ipc.EvaluationResponse) error {
	slot, ok := b.evals.Take(p.TaskID)
	if !ok {
		b.log.Debug("dropping evaluation response", zap.Uint64("task", p.TaskID), zap.Error(core.ErrUnknownCorrelationID))
		return nil
	}
	switch {
	case p.Success:
		slot.Resolve(p.Result)
	case p.Unavailable:
		slot.Reject(core.ErrContextUnavailable)
	default:
		slot.Reject(&core.ScriptError{Message: p.Error})
	}
	return nil
}

// ExecuteFireAndForget runs script in the main frame without waiting.
// Errors it throws arrive through OnUncaughtException.
func (b *Browser) ExecuteFireAndForget(script, url string, line int) error {
	return b.send(b.runCtx, ipc.EvaluationRequest{Script: script, URL: url, Line: line})
}

// LoadHTML navigates the page. Every context is replaced: inline scripts
// run in the new main context and srcdoc iframes get contexts of their
// own.
func (b *Browser) LoadHTML(html, url string) error {
	return b.send(b.runCtx, ipc.NavigationRequest{URL: url, HTML: html})
}
