package core

import "time"

// BridgeConfig holds runtime configuration shared by the host and renderer
// sides of the bridge.
type BridgeConfig struct {
	GlobalObjectName  string        // name of the script-visible namespace object
	PoolSize          int           // pre-warmed runtimes kept by the engine
	MemoryLimitMB     int           // per-runtime memory limit, 0 for none
	EvaluateTimeout   time.Duration // default host evaluation timeout, 0 waits forever
	MaxConcurrentCall int           // host methods running at once per browser
	CompressAbove     int           // frames larger than this are brotli compressed
	LargePayloadBytes int           // payloads larger than this use binary transfer
	MaxFrameBytes     int           // upper bound for a single transport frame
}

// DefaultConfig returns the configuration used when no overrides are given.
func DefaultConfig() BridgeConfig {
	return BridgeConfig{
		GlobalObjectName:  "jsbridge",
		PoolSize:          2,
		MemoryLimitMB:     128,
		MaxConcurrentCall: 16,
		CompressAbove:     16 * 1024,
		LargePayloadBytes: 256 * 1024,
		MaxFrameBytes:     64 * 1024 * 1024,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c BridgeConfig) WithDefaults() BridgeConfig {
	d := DefaultConfig()
	if c.GlobalObjectName == "" {
		c.GlobalObjectName = d.GlobalObjectName
	}
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	if c.MaxConcurrentCall <= 0 {
		c.MaxConcurrentCall = d.MaxConcurrentCall
	}
	if c.CompressAbove <= 0 {
		c.CompressAbove = d.CompressAbove
	}
	if c.LargePayloadBytes <= 0 {
		c.LargePayloadBytes = d.LargePayloadBytes
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	return c
}
