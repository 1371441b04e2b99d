// node-metrics-exporter samples host, process and accelerator state on a
// fixed interval and serves it in the Prometheus text format.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/accel"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/config"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/exporter"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/health"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/logging"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/sampler"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/server"
	"github.com/Dicklesworthstone/node_metrics_exporter/internal/ui"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "node-metrics-exporter: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The dashboard owns the terminal.
	logger := zap.NewNop()
	if !cfg.TUI {
		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accelSource := accel.Open(logger, cfg.GPUBackend)
	defer func() {
		if err := accelSource.Close(); err != nil {
			logger.Warn("accelerator shutdown failed", zap.Error(err))
		}
	}()

	host := sampler.NewHostSampler(logger)
	cores := sampler.CoreCount(ctx)
	logger.Info("starting",
		zap.String("version", version),
		zap.String("addr", cfg.Addr()),
		zap.Duration("interval", cfg.Interval),
		zap.Int("top_processes", cfg.TopProcesses),
		zap.String("host_sampler", host.Name()),
		zap.String("accelerator", accelSource.Name()),
		zap.Int("cores", cores))

	exp := exporter.New(exporter.Options{
		Host:     host,
		Procs:    sampler.NewTopCollector(logger),
		Accel:    accelSource,
		Scorer:   health.Scorer{Cores: cores},
		TopN:     cfg.TopProcesses,
		Interval: cfg.Interval,
		Logger:   logger,
	})
	// Publish once before accepting connections.
	exp.Refresh(ctx)

	srv, err := server.New(exp, exp.Registry(), logger)
	if err != nil {
		return err
	}
	ln, err := server.Listen(cfg.Addr())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return exp.Run(gctx) })
	g.Go(func() error { return srv.Serve(gctx, ln) })
	if cfg.TUI {
		g.Go(func() error {
			defer stop()
			return ui.RunTUI(gctx, exp, cfg.Addr())
		})
	}

	err = g.Wait()
	logger.Info("stopped")
	return err
}
