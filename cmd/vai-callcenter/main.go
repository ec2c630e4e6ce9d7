package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/vai-callcenter/internal/dotenv"
	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/gateway/config"
)

type callCenterDeps struct {
	loadConfig   func() (config.Config, error)
	buildRuntime func(context.Context, config.Config, *slog.Logger) (*runtime, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultCallCenterDeps() callCenterDeps {
	return callCenterDeps{
		loadConfig:   config.LoadFromEnv,
		buildRuntime: buildRuntime,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	// No ReadTimeout: media streams are long-lived websockets.
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runCallCenter(ctx context.Context, stderr io.Writer, deps callCenterDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildRuntime == nil {
		return errors.New("missing buildRuntime dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, stderr)

	rt, err := deps.buildRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer func() {
		if err := rt.close(); err != nil {
			logger.Warn("closing backends", "error", err)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if rt.store != nil {
		callstate.StartSweeper(sweepCtx, rt.store, cfg.SweepInterval, logger)
	}

	httpSrv := buildHTTPServer(cfg, rt.gateway.Handler())
	logger.Info("starting call center",
		"addr", cfg.Addr,
		"media_path", cfg.MediaPath,
		"store", cfg.StoreBackend,
		"actions", cfg.ActionsBackend,
		"tts", cfg.TTSProvider,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown requested", "reason", ctx.Err())
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	rt.gateway.Lifecycle().SetDraining(true)

	// Shutdown does not wait for hijacked websockets, so in-flight calls
	// are drained through the tracker.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !rt.gateway.Calls().Wait(waitCtx) {
		n := rt.gateway.Calls().CancelAll()
		logger.Warn("grace period elapsed, canceling calls", "calls", n)
		cancelCtx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
		rt.gateway.Calls().Wait(cancelCtx)
		cancel()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("call center stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps callCenterDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFiles(".env.local", ".env"); err != nil {
		fmt.Fprintf(stderr, "vai-callcenter: %v\n", err)
		return 1
	}

	if err := runCallCenter(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "vai-callcenter: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultCallCenterDeps()))
}
