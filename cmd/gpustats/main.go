package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/worldland/gpustats/internal/adapters/nvml"
	"github.com/worldland/gpustats/internal/cli"
	"github.com/worldland/gpustats/internal/config"
	"github.com/worldland/gpustats/internal/domain"
	"github.com/worldland/gpustats/internal/emitter"
	"github.com/worldland/gpustats/internal/logging"
	"github.com/worldland/gpustats/internal/services"
	"github.com/worldland/gpustats/internal/setup"
	"github.com/worldland/gpustats/internal/telemetry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		cli.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	started := time.Now()

	cfg, err := config.Load(args, os.Getenv, os.Stderr)
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	setup.NewPreflight().Run(cfg.ProcSource).Log(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lib domain.DeviceLibrary = nvml.NewNVMLLibrary()
	if cfg.Mock {
		logger.Info("using mock device library")
		lib = nvml.NewMockLibrary(nvml.NewDemoDevice())
	}

	var metrics *telemetry.Metrics
	if cfg.MetricsAddr != "" {
		metrics = telemetry.NewMetrics()
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	daemon, err := services.NewStatsDaemon(lib, emitter.New(os.Stdout, cfg.Format), metrics, services.Options{
		Interval:   cfg.Interval,
		TargetPID:  cfg.TargetPID,
		Policy:     cfg.DeviceFailure,
		ProcSource: cfg.ProcSource,
	}, logger)
	if err != nil {
		return err
	}

	// timing lines would corrupt a binary stream
	var diag io.Writer = os.Stdout
	if cfg.Format == emitter.FormatCBOR {
		diag = os.Stderr
	}

	cli.PrintTiming(diag, "library init", daemon.Init())
	cli.PrintTiming(diag, "startup", time.Since(started))

	return daemon.Run(ctx)
}
