//go:build !v8

// Package quickjs runs script contexts on modernc.org/quickjs. Every
// context is its own VM so releasing a frame tears down all of its state.
package quickjs

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
)

// NewEngine returns a pool of pre-warmed QuickJS runtimes. prepare loads
// the static glue into each VM before it is parked.
func NewEngine(cfg core.BridgeConfig, prepare func(core.JSRuntime) error, log *zap.Logger) (*core.RuntimePool, error) {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	factory := func() (core.JSRuntime, error) {
		rt, err := newVMRuntime(cfg.MemoryLimitMB)
		if err != nil {
			return nil, err
		}
		if prepare != nil {
			if err := prepare(rt); err != nil {
				_ = rt.Close()
				return nil, fmt.Errorf("preparing runtime: %w", err)
			}
		}
		return rt, nil
	}
	return core.NewRuntimePool(cfg.PoolSize, factory, log.Named("quickjs"))
}
