package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := Build("jsbridge", LogConfig{Level: "info"}, zapcore.AddSync(&buf))
	log.Named("host").Info("started", zap.String("browser", "b1"))
	log.Debug("hidden")
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "jsbridge.host", entry["logger"])
	assert.Equal(t, "started", entry["msg"])
	assert.Equal(t, "b1", entry["browser"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := Build("x", LogConfig{Level: "loud"}, zapcore.AddSync(&buf))
	log.Debug("no")
	log.Info("yes")
	assert.NotContains(t, buf.String(), `"no"`)
	assert.Contains(t, buf.String(), `"yes"`)
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := Build("x", LogConfig{Level: "debug", Format: "console"}, zapcore.AddSync(&buf))
	log.Debug("plain text")
	assert.Contains(t, buf.String(), "plain text")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	var console bytes.Buffer
	log := Build("x", LogConfig{Level: "info", Format: "console", File: path, MaxSizeMB: 1}, zapcore.AddSync(&console))
	log.Warn("to both")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(bytes.TrimSpace(data)))
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, console.String(), "to both")
}
