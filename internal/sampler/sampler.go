// Package sampler builds one flat Sample Record per pass from every
// installed device.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/worldland/gpustats/internal/domain"
	"github.com/worldland/gpustats/internal/proctree"
	"github.com/worldland/gpustats/internal/record"
)

// ErrSamplingFailed marks a pass that must be replaced by the fallback record
var ErrSamplingFailed = errors.New("sampling failed")

// FailurePolicy decides what a failed device handle or required metric does
type FailurePolicy string

const (
	// PolicyAbort fails the whole pass
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip drops the failing device and keeps the others
	PolicySkip FailurePolicy = "skip"
)

// ParseFailurePolicy validates a --device-failure value
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case PolicyAbort, PolicySkip:
		return FailurePolicy(s), nil
	}
	return "", fmt.Errorf("unknown device failure policy %q (want %q or %q)", s, PolicyAbort, PolicySkip)
}

// Resolver expands the target pid into its process tree
type Resolver interface {
	Resolve(ctx context.Context, root uint32) proctree.Set
}

// Attributor decides whether a process set is using a device
type Attributor interface {
	Attributed(device domain.Device, set proctree.Set) bool
}

// Options configure a Sampler
type Options struct {
	TargetPID   uint32
	CudaVersion string // omitted from records when empty
	Policy      FailurePolicy
}

// Sampler queries every device once per pass
type Sampler struct {
	lib      domain.DeviceLibrary
	resolver Resolver
	engine   Attributor
	opts     Options
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a Sampler. logger may be nil; an empty Policy means PolicyAbort.
func New(lib domain.DeviceLibrary, resolver Resolver, engine Attributor, opts Options, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Policy == "" {
		opts.Policy = PolicyAbort
	}
	return &Sampler{
		lib:      lib,
		resolver: resolver,
		engine:   engine,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "sampler")),
	}
}

// WithClock replaces the clock used for _sampling_duration_ms (for testing)
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// Fallback is the record emitted when a pass fails or the library never initialized
func Fallback() record.Record {
	rec := record.New()
	rec.Set(KeyGPUCount, record.Int(0))
	return rec
}

// FormatCudaVersion renders the driver CUDA version integer as "major.minor"
func FormatCudaVersion(version int) string {
	return fmt.Sprintf("%d.%d", version/1000, (version%1000)/10)
}

// Sample runs one pass. Any error wraps ErrSamplingFailed and no record is returned.
func (s *Sampler) Sample(ctx context.Context) (record.Record, error) {
	start := s.now()

	count, err := s.lib.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("%w: device count: %w", ErrSamplingFailed, err)
	}

	rec := record.New()
	if s.opts.CudaVersion != "" {
		rec.Set(KeyCudaVersion, record.String(s.opts.CudaVersion))
	}
	rec.Set(KeyGPUCount, record.Int(int64(count)))

	var set proctree.Set
	if count > 0 {
		set = s.resolver.Resolve(ctx, s.opts.TargetPID)
	}

	for i := 0; i < count; i++ {
		staged := record.New()
		if err := s.sampleDevice(staged, i, set); err != nil {
			if s.opts.Policy == PolicySkip {
				s.logger.Warn("skipping device", zap.Int("index", i), zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("%w: device %d: %w", ErrSamplingFailed, i, err)
		}
		for k, v := range staged {
			rec[k] = v
		}
	}

	elapsed := s.now().Sub(start)
	rec.Set(KeySamplingDurationMs, record.Float(float64(elapsed)/float64(time.Millisecond)))
	return rec, nil
}

// sampleDevice writes every obtainable field of one device into rec. A
// required metric failure returns an error; optional ones are omitted.
func (s *Sampler) sampleDevice(rec record.Record, index int, set proctree.Set) error {
	device, err := s.lib.DeviceByIndex(index)
	if err != nil {
		return fmt.Errorf("handle: %w", err)
	}

	attributed := s.engine.Attributed(device, set)
	gpu := rec.Scope(DevicePrefix(index))
	logger := s.logger.With(zap.Int("index", index))

	name, err := device.Name()
	if err != nil {
		return fmt.Errorf("name: %w", err)
	}
	gpu.String(FieldName, name)

	brand, err := device.Brand()
	if err != nil {
		return fmt.Errorf("brand: %w", err)
	}
	gpu.String(FieldBrand, brand)

	if fan, err := device.FanSpeed(); err == nil {
		gpu.Int(FieldFanSpeed, int64(fan))
	} else {
		logger.Debug("fan speed unavailable", zap.Error(err))
	}

	if enc, err := device.EncoderUtilization(); err == nil {
		gpu.Int(FieldEncoderUtilization, int64(enc))
	} else {
		logger.Debug("encoder utilization unavailable", zap.Error(err))
	}

	util, err := device.UtilizationRates()
	if err != nil {
		return fmt.Errorf("utilization rates: %w", err)
	}
	gpu.Int(FieldGPU, int64(util.GPU))
	gpu.Int(FieldMemory, int64(util.Memory))

	mem, err := device.MemoryInfo()
	if err != nil {
		return fmt.Errorf("memory info: %w", err)
	}
	gpu.Int(FieldMemoryTotal, int64(mem.Total))
	if pct, ok := mem.AllocatedPercent(); ok {
		gpu.Float(FieldMemoryAllocated, pct)
	}
	gpu.Int(FieldMemoryAllocatedBytes, int64(mem.Used))

	temp, err := device.Temperature()
	if err != nil {
		return fmt.Errorf("temperature: %w", err)
	}
	gpu.Int(FieldTemp, int64(temp))

	powerMw, err := device.PowerUsage()
	if err != nil {
		return fmt.Errorf("power usage: %w", err)
	}
	powerWatts := float64(powerMw) / 1000
	gpu.Float(FieldPowerWatts, powerWatts)

	if limitMw, err := device.EnforcedPowerLimit(); err == nil {
		limitWatts := float64(limitMw) / 1000
		gpu.Float(FieldEnforcedPowerLimitWatts, limitWatts)
		if limitWatts > 0 {
			gpu.Float(FieldPowerPercent, powerWatts/limitWatts*100)
		}
	} else {
		logger.Debug("enforced power limit unavailable", zap.Error(err))
	}

	graphicsClock, err := device.GraphicsClock()
	if err != nil {
		return fmt.Errorf("graphics clock: %w", err)
	}
	gpu.Int(FieldGraphicsClock, int64(graphicsClock))

	memoryClock, err := device.MemoryClock()
	if err != nil {
		return fmt.Errorf("memory clock: %w", err)
	}
	gpu.Int(FieldMemoryClock, int64(memoryClock))

	linkGen, err := device.CurrentPcieLinkGeneration()
	if err != nil {
		return fmt.Errorf("pcie link generation: %w", err)
	}
	gpu.Int(FieldPcieLinkGen, int64(linkGen))

	if speed, err := device.PcieLinkSpeed(); err == nil {
		gpu.Int(FieldPcieLinkSpeed, int64(speed)*1_000_000)
	} else {
		logger.Debug("pcie link speed unavailable", zap.Error(err))
	}

	linkWidth, err := device.CurrentPcieLinkWidth()
	if err != nil {
		return fmt.Errorf("pcie link width: %w", err)
	}
	gpu.Int(FieldPcieLinkWidth, int64(linkWidth))

	maxLinkGen, err := device.MaxPcieLinkGeneration()
	if err != nil {
		return fmt.Errorf("max pcie link generation: %w", err)
	}
	gpu.Int(FieldMaxPcieLinkGen, int64(maxLinkGen))

	maxLinkWidth, err := device.MaxPcieLinkWidth()
	if err != nil {
		return fmt.Errorf("max pcie link width: %w", err)
	}
	gpu.Int(FieldMaxPcieLinkWidth, int64(maxLinkWidth))

	cores, err := device.CoreCount()
	if err != nil {
		return fmt.Errorf("core count: %w", err)
	}
	gpu.Int(FieldCudaCores, int64(cores))

	arch, err := device.Architecture()
	if err != nil {
		return fmt.Errorf("architecture: %w", err)
	}
	gpu.String(FieldArchitecture, arch)

	if attributed {
		proc := rec.Scope(ProcessPrefix(index))
		for _, field := range attributableFields {
			if v, ok := rec.Get(gpu.Key(field)); ok {
				rec.Set(proc.Key(field), v)
			}
		}
	}
	return nil
}
