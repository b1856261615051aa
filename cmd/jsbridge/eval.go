package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cryguy/jsbridge"
	"github.com/cryguy/jsbridge/internal/value"
)

type evalOptions struct {
	connect  string
	htmlFile string
	pageURL  string
	timeout  time.Duration
	fire     bool
}

func newEvalCmd(a *app) *cobra.Command {
	o := evalOptions{}
	cmd := &cobra.Command{
		Use:   "eval SCRIPT",
		Short: "Evaluate a script with a demo calc object bound and print the result as JSON",
		Long: "Evaluate SCRIPT (or stdin when SCRIPT is -) in a page. Without --connect\n" +
			"a renderer is started in this process.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script := args[0]
			if script == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				script = string(data)
			}
			return runEval(cmd.Context(), a, o, script, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.connect, "connect", "", "WebSocket URL of a `jsbridge serve` instance")
	f.StringVar(&o.htmlFile, "html", "", "HTML file to load before evaluating")
	f.StringVar(&o.pageURL, "url", "about:blank", "page URL for --html")
	f.DurationVar(&o.timeout, "timeout", 0, "evaluation timeout (default from config)")
	f.BoolVar(&o.fire, "no-wait", false, "run without waiting for a result")
	return cmd
}

type session interface {
	Start(ctx context.Context) error
	Close() error
}

func runEval(ctx context.Context, a *app, o evalOptions, script string, out io.Writer) error {
	cfg := a.cfg.Bridge.toBridge()
	if o.timeout > 0 {
		cfg.EvaluateTimeout = o.timeout
	}
	log := a.log.Named("eval")

	j, err := a.openJournal()
	if err != nil {
		return err
	}
	if j != nil {
		defer func() { _ = j.Close() }()
	}
	var rec jsbridge.Recorder
	if j != nil {
		rec = j.For(uuid.NewString())
	}

	var (
		b *jsbridge.Browser
		s session
	)
	if o.connect != "" {
		t, err := jsbridge.DialWebSocket(ctx, o.connect, cfg)
		if err != nil {
			return err
		}
		if rec != nil {
			t = jsbridge.Tap(t, rec, log)
		}
		b = jsbridge.NewBrowser(t, cfg, a.log)
		s = b
	} else {
		p, err := jsbridge.ConnectInProcess(cfg, a.log, rec)
		if err != nil {
			return err
		}
		b, s = p.Browser, p
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Debug("closing session", zap.Error(err))
		}
	}()

	b.OnUncaughtException(func(e jsbridge.ExceptionInfo) {
		log.Warn("uncaught exception", zap.String("type", e.ExceptionType), zap.String("message", e.Message))
	})
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting page: %w", err)
	}
	if _, err := b.RegisterObject("calc", demoCalc{}); err != nil {
		return err
	}
	if o.htmlFile != "" {
		html, err := os.ReadFile(o.htmlFile)
		if err != nil {
			return err
		}
		if err := b.LoadHTML(string(html), o.pageURL); err != nil {
			return err
		}
	}

	if o.fire {
		if err := b.ExecuteFireAndForget(script, "eval.js", 1); err != nil {
			return err
		}
		// a round trip guarantees the script has run before the session closes
		_, err := b.Evaluate(ctx, "undefined", "", 0)
		return err
	}
	v, err := b.Evaluate(ctx, script, "eval.js", 1)
	if err != nil {
		return err
	}
	data, err := render(v)
	if err != nil {
		return fmt.Errorf("printing result: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// render prints v as indented JSON. Cyclic results have no plain JSON
// form and are printed in the bridge's own reference notation.
func render(v any) ([]byte, error) {
	if cyclic(v) {
		return value.Marshal(v)
	}
	return jsonAPI.MarshalIndent(v, "", "  ")
}

// cyclic reports whether a decoded result contains itself.
func cyclic(v any) bool {
	type frame struct {
		v    any
		exit bool
	}
	onPath := map[uintptr]bool{}
	stack := []frame{{v: v}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		var children []any
		switch c := f.v.(type) {
		case []any:
			children = c
		case map[string]any:
			for _, child := range c {
				children = append(children, child)
			}
		}
		if len(children) == 0 {
			continue
		}
		id := reflect.ValueOf(f.v).Pointer()
		if f.exit {
			delete(onPath, id)
			continue
		}
		if onPath[id] {
			return true
		}
		onPath[id] = true
		stack = append(stack, frame{v: f.v, exit: true})
		for _, child := range children {
			stack = append(stack, frame{v: child})
		}
	}
	return false
}
