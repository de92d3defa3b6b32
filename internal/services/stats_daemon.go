package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/worldland/gpustats/internal/attribution"
	"github.com/worldland/gpustats/internal/domain"
	"github.com/worldland/gpustats/internal/emitter"
	"github.com/worldland/gpustats/internal/proctree"
	"github.com/worldland/gpustats/internal/record"
	"github.com/worldland/gpustats/internal/sampler"
	"github.com/worldland/gpustats/internal/scheduler"
	"github.com/worldland/gpustats/internal/telemetry"
)

// Options configure a StatsDaemon
type Options struct {
	Interval   time.Duration
	TargetPID  uint32
	Policy     sampler.FailurePolicy
	ProcSource string // see proctree.NewLister
}

// StatsDaemon owns the device library for one process lifetime and drives
// the sample, emit loop on a fixed cadence.
type StatsDaemon struct {
	lib     domain.DeviceLibrary
	lister  domain.ChildLister
	emitter *emitter.Emitter
	metrics *telemetry.Metrics
	opts    Options
	logger  *zap.Logger

	available   bool
	cudaVersion string

	now   func() time.Time
	sleep scheduler.SleepFunc
}

// NewStatsDaemon creates a daemon. metrics may be nil.
func NewStatsDaemon(lib domain.DeviceLibrary, emit *emitter.Emitter, metrics *telemetry.Metrics, opts Options, logger *zap.Logger) (*StatsDaemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	lister, err := proctree.NewLister(opts.ProcSource)
	if err != nil {
		return nil, err
	}
	return &StatsDaemon{
		lib:     lib,
		lister:  lister,
		emitter: emit,
		metrics: metrics,
		opts:    opts,
		logger:  logger.With(zap.String("component", "daemon")),
		now:     time.Now,
		sleep:   scheduler.Sleep,
	}, nil
}

// WithLister replaces the process table source (for testing)
func (d *StatsDaemon) WithLister(lister domain.ChildLister) *StatsDaemon {
	d.lister = lister
	return d
}

// WithClock replaces the clock and sleep function (for testing)
func (d *StatsDaemon) WithClock(now func() time.Time, sleep scheduler.SleepFunc) *StatsDaemon {
	d.now = now
	d.sleep = sleep
	return d
}

// Init initializes the device library once and returns how long it took.
// A failure is not retried: every later pass emits the fallback record.
func (d *StatsDaemon) Init() time.Duration {
	start := d.now()
	err := d.lib.Init()
	took := d.now().Sub(start)
	if err != nil {
		d.logger.Warn("device library unavailable, emitting fallback records", zap.Error(err))
		return took
	}
	d.available = true

	if version, err := d.lib.CudaDriverVersion(); err == nil {
		d.cudaVersion = sampler.FormatCudaVersion(version)
	} else {
		d.logger.Debug("cuda driver version unavailable", zap.Error(err))
	}
	return took
}

// Available reports whether Init succeeded
func (d *StatsDaemon) Available() bool {
	return d.available
}

// Run samples until ctx is cancelled (returns nil) or the record stream
// breaks (returns the write error). The library is shut down on return.
func (d *StatsDaemon) Run(ctx context.Context) error {
	var smp *sampler.Sampler
	if d.available {
		defer func() {
			if err := d.lib.Shutdown(); err != nil {
				d.logger.Warn("device library shutdown failed", zap.Error(err))
			}
		}()

		resolver := proctree.NewResolver(d.lister, d.logger)
		engine := attribution.NewEngine(d.logger)
		smp = sampler.New(d.lib, resolver, engine, sampler.Options{
			TargetPID:   d.opts.TargetPID,
			CudaVersion: d.cudaVersion,
			Policy:      d.opts.Policy,
		}, d.logger).WithClock(d.now)

		if d.opts.TargetPID == 0 && (d.opts.ProcSource == proctree.SourcePgrep || d.opts.ProcSource == "") {
			d.logger.Info("target pid 0 resolves the whole process table with one pgrep call per process each pass; --proc-source table reads it in a single snapshot")
		}
	}

	sched, err := scheduler.New(d.opts.Interval, d.pass(smp), d.logger)
	if err != nil {
		return err
	}
	sched.WithClock(d.now, d.sleep)

	d.logger.Info("sampling started",
		zap.Duration("interval", d.opts.Interval),
		zap.Uint32("target_pid", d.opts.TargetPID),
		zap.Bool("library_available", d.available))

	err = sched.Run(ctx)
	d.logger.Info("sampling stopped")
	return err
}

func (d *StatsDaemon) pass(smp *sampler.Sampler) scheduler.Pass {
	return func(ctx context.Context, start time.Time) error {
		rec, outcome := d.collect(ctx, smp)
		if err := d.emitter.Emit(rec, start); err != nil {
			return err
		}
		d.metrics.ObservePass(outcome, d.now().Sub(start), countDevices(rec), countAttributed(rec))
		return nil
	}
}

func (d *StatsDaemon) collect(ctx context.Context, smp *sampler.Sampler) (record.Record, string) {
	if smp == nil {
		return sampler.Fallback(), telemetry.OutcomeFallback
	}
	rec, err := smp.Sample(ctx)
	if err != nil {
		d.logger.Warn("sampling pass failed, emitting fallback record", zap.Error(err))
		return sampler.Fallback(), telemetry.OutcomeFallback
	}
	return rec, telemetry.OutcomeOK
}

func gpuCount(rec record.Record) int {
	v, ok := rec.Get(sampler.KeyGPUCount)
	if !ok {
		return 0
	}
	n, _ := v.Float64()
	return int(n)
}

// countDevices counts devices that made it into rec (skip mode may drop some)
func countDevices(rec record.Record) int {
	n := 0
	for i := 0; i < gpuCount(rec); i++ {
		if _, ok := rec.Get(sampler.DevicePrefix(i) + sampler.FieldName); ok {
			n++
		}
	}
	return n
}

func countAttributed(rec record.Record) int {
	n := 0
	for i := 0; i < gpuCount(rec); i++ {
		if _, ok := rec.Get(sampler.ProcessPrefix(i) + sampler.FieldGPU); ok {
			n++
		}
	}
	return n
}
