//go:build v8

// Package v8engine runs script contexts on V8 through tommie/v8go. Each
// context owns an isolate.
package v8engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/core"
)

// NewEngine returns a pool of pre-warmed isolates with the static glue
// loaded by prepare.
func NewEngine(cfg core.BridgeConfig, prepare func(core.JSRuntime) error, log *zap.Logger) (*core.RuntimePool, error) {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	factory := func() (core.JSRuntime, error) {
		rt := newIsolateRuntime(cfg.MemoryLimitMB)
		if prepare != nil {
			if err := prepare(rt); err != nil {
				_ = rt.Close()
				return nil, fmt.Errorf("preparing isolate: %w", err)
			}
		}
		return rt, nil
	}
	return core.NewRuntimePool(cfg.PoolSize, factory, log.Named("v8"))
}
