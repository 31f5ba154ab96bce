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

	"github.com/vango-go/callbridge/internal/dotenv"
	"github.com/vango-go/callbridge/pkg/gateway/calllog"
	"github.com/vango-go/callbridge/pkg/gateway/config"
	"github.com/vango-go/callbridge/pkg/gateway/lifecycle"
	"github.com/vango-go/callbridge/pkg/gateway/metrics"
	"github.com/vango-go/callbridge/pkg/gateway/registry"
	gatewayserver "github.com/vango-go/callbridge/pkg/gateway/server"
	"github.com/vango-go/callbridge/pkg/gateway/usage"
)

type bridgeDeps struct {
	loadConfig   func() (config.Config, error)
	newGateway   func(gatewayserver.Deps) *gatewayserver.Server
	openCallLog  func(ctx context.Context, databaseURL string) (calllog.Recorder, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig: config.LoadFromEnv,
		newGateway: gatewayserver.New,
		openCallLog: func(ctx context.Context, databaseURL string) (calllog.Recorder, error) {
			return calllog.Open(ctx, databaseURL)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runBridge(ctx context.Context, logger *slog.Logger, deps bridgeDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var recorder calllog.Recorder = calllog.Nop{}
	if cfg.DatabaseURL != "" && deps.openCallLog != nil {
		recorder, err = deps.openCallLog(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open call log: %w", err)
		}
	}
	defer recorder.Close()

	var meter usage.Meter = usage.Nop{}
	if cfg.StripeAPIKey != "" {
		meter = usage.NewStripeMeter(cfg.StripeAPIKey, cfg.StripeMeterName, cfg.StripeCustomerID)
	}

	gw := deps.newGateway(gatewayserver.Deps{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.NewMetrics(cfg.MetricsNamespace),
		Lifecycle: &lifecycle.Lifecycle{},
		Registry: registry.New(registry.Defaults{
			SystemPrompt: cfg.SystemPrompt,
			Voice:        cfg.RealtimeVoice,
			Greeting:     cfg.GreetingText,
		}),
		Recorder: recorder,
		Usage:    meter,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting call bridge",
		"addr", cfg.Addr, "auth_mode", cfg.AuthMode, "model", cfg.RealtimeModel)

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
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitCalls(waitCtx) {
		closed := gw.CloseCalls()
		logger.Warn("drain timed out; calls hung up", "closed", closed)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("call bridge stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "callbridge: %v\n", err)
		return 1
	}

	if err := runBridge(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "callbridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBridgeDeps()))
}
