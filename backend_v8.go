//go:build v8

package jsbridge

import (
	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/glue"
	"github.com/cryguy/jsbridge/internal/v8engine"
)

// EngineName names the script engine compiled into this build.
const EngineName = "v8"

// NewEngine returns a pool of V8 isolates with the bridge glue already
// evaluated.
func NewEngine(cfg Config, log *zap.Logger) (Engine, error) {
	cfg = cfg.WithDefaults()
	pool, err := v8engine.NewEngine(cfg, glue.Prepare(cfg.GlobalObjectName), log)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
