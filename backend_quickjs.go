//go:build !v8

package jsbridge

import (
	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/glue"
	"github.com/cryguy/jsbridge/internal/quickjs"
)

// EngineName names the script engine compiled into this build.
const EngineName = "quickjs"

// NewEngine returns a pool of QuickJS runtimes with the bridge glue
// already evaluated.
func NewEngine(cfg Config, log *zap.Logger) (Engine, error) {
	cfg = cfg.WithDefaults()
	pool, err := quickjs.NewEngine(cfg, glue.Prepare(cfg.GlobalObjectName), log)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
