//go:build !v8

package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func quiet() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetErr(&bytes.Buffer{})
	return cmd
}

func TestEvalInProcess(t *testing.T) {
	out, err := run(t, "eval", "calc.add(2, 3)")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)
}

func TestEvalStructuredResult(t *testing.T) {
	out, err := run(t, "eval", `({b: [1, "two"], a: null})`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": null, "b": [1, "two"]}`, out)
}

func TestEvalCyclicResult(t *testing.T) {
	out, err := run(t, "eval", `(function() { var o = {}; o.self = o; return o; })()`)
	require.NoError(t, err)
	assert.Contains(t, out, `"$ref"`)
}

func TestEvalScriptError(t *testing.T) {
	_, err := run(t, "eval", `calc.div(1, 0)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestEvalLoadsHTML(t *testing.T) {
	page := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(page, []byte(`<script>var fromPage = calc.mul(6, 7);</script>`), 0o644))
	out, err := run(t, "eval", "--html", page, "fromPage")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestEvalJournalsTraffic(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")
	_, err := run(t, "--journal", db, "eval", "1 + 1")
	require.NoError(t, err)

	out, err := run(t, "--journal", db, "journal", "-n", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "EvaluationRequest")
	assert.Contains(t, out, "ObjectRegistrationRequest")
}

func TestJournalRequiresPath(t *testing.T) {
	_, err := run(t, "journal")
	assert.ErrorContains(t, err, "no journal configured")
}

func TestServeAndConnect(t *testing.T) {
	a := newApp()
	require.NoError(t, a.load(quiet()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, a, serveOptions{connPerSec: 100, connBurst: 10, shutdownFor: time.Second}, ln)
	}()

	out, err := run(t, "eval", "--connect", "ws://"+ln.Addr().String(), "calc.sum(1, 2, 3)")
	require.NoError(t, err)
	assert.Equal(t, "6\n", out)

	cancel()
	require.NoError(t, <-done)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("JSBRIDGE_BRIDGE_POOL_SIZE", "3")
	t.Setenv("JSBRIDGE_BRIDGE_EVALUATE_TIMEOUT", "2s")
	a := newApp()
	require.NoError(t, a.load(quiet()))
	cfg := a.cfg.Bridge.toBridge()
	assert.Equal(t, 3, cfg.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.EvaluateTimeout)
	assert.Equal(t, "jsbridge", cfg.GlobalObjectName)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"bridge:",
		"  global_object: native",
		"  max_concurrent_calls: 4",
		"log:",
		"  level: debug",
	}, "\n")), 0o644))

	a := newApp()
	a.cfgFile = path
	require.NoError(t, a.load(quiet()))
	assert.Equal(t, "native", a.cfg.Bridge.GlobalObject)
	assert.Equal(t, 4, a.cfg.Bridge.MaxConcurrentCalls)
	assert.Equal(t, "debug", a.cfg.Log.Level)
}

func TestCyclicDetection(t *testing.T) {
	shared := []any{1}
	assert.False(t, cyclic(map[string]any{"a": shared, "b": shared}))
	m := map[string]any{}
	m["self"] = m
	assert.True(t, cyclic(m))
	l := []any{nil}
	l[0] = []any{l}
	assert.True(t, cyclic(l))
}

