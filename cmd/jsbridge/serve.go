package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cryguy/jsbridge"
	"github.com/cryguy/jsbridge/internal/journal"
)

type serveOptions struct {
	addr        string
	connPerSec  float64
	connBurst   int
	shutdownFor time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	o := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run renderers; every WebSocket connection gets its own page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ln, err := net.Listen("tcp", o.addr)
			if err != nil {
				return err
			}
			return serve(ctx, a, o, ln)
		},
	}
	cmd.Flags().StringVar(&o.addr, "addr", "127.0.0.1:9340", "listen address")
	cmd.Flags().Float64Var(&o.connPerSec, "conn-rate", 20, "new connections accepted per second")
	cmd.Flags().IntVar(&o.connBurst, "conn-burst", 10, "connection burst above conn-rate")
	cmd.Flags().DurationVar(&o.shutdownFor, "shutdown-timeout", 5*time.Second, "grace period for open pages on exit")
	return cmd
}

// serve runs until ctx ends. Page contexts derive from ctx, so cancelling
// it tears every connection down.
func serve(ctx context.Context, a *app, o serveOptions, ln net.Listener) error {
	cfg := a.cfg.Bridge.toBridge()
	log := a.log.Named("serve")

	engine, err := jsbridge.NewEngine(cfg, a.log)
	if err != nil {
		return err
	}
	defer engine.Close()
	j, err := a.openJournal()
	if err != nil {
		return err
	}
	if j != nil {
		defer func() { _ = j.Close() }()
	}

	h := &pageHandler{
		cfg:      cfg,
		renderer: jsbridge.NewRenderer(cfg, engine, a.log),
		journal:  j,
		limiter:  rate.NewLimiter(rate.Limit(o.connPerSec), o.connBurst),
		log:      log,
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("engine", jsbridge.EngineName))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), o.shutdownFor)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()
	// hijacked connections are not tracked by Shutdown
	h.pages.Wait()
	log.Info("stopped")
	return err
}

type pageHandler struct {
	cfg      jsbridge.Config
	renderer *jsbridge.Renderer
	journal  *journal.Journal
	limiter  *rate.Limiter
	log      *zap.Logger
	pages    sync.WaitGroup
}

func (h *pageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	h.pages.Add(1)
	defer h.pages.Done()

	t, err := jsbridge.AcceptWebSocket(w, r, h.cfg)
	if err != nil {
		h.log.Warn("upgrading connection", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	session := uuid.NewString()
	log := h.log.With(zap.String("session", session), zap.String("remote", r.RemoteAddr))
	if h.journal != nil {
		t = jsbridge.Tap(t, h.journal.For(session), log)
	}
	log.Info("page connected")
	if err := h.renderer.Serve(r.Context(), t); err != nil {
		log.Warn("page ended", zap.Error(err))
		return
	}
	log.Info("page disconnected")
}
