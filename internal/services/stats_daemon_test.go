package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/worldland/gpustats/internal/adapters/nvml"
	"github.com/worldland/gpustats/internal/domain"
	"github.com/worldland/gpustats/internal/emitter"
	"github.com/worldland/gpustats/internal/proctree"
	"github.com/worldland/gpustats/internal/sampler"
	"github.com/worldland/gpustats/internal/telemetry"
)

// fakeClock only moves when the scheduler sleeps; it cancels the run after
// stopAfter sleeps, so stopAfter passes are executed.
type fakeClock struct {
	now       time.Time
	sleeps    int
	stopAfter int
	cancel    context.CancelFunc
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	c.now = c.now.Add(d)
	if c.sleeps >= c.stopAfter {
		c.cancel()
	}
	return ctx.Err()
}

type fakeLister struct {
	children map[uint32][]uint32
}

func (f *fakeLister) Children(_ context.Context, pid uint32) ([]uint32, error) {
	return f.children[pid], nil
}

type failingWriter struct{ err error }

func (w failingWriter) Write(p []byte) (int, error) { return 0, w.err }

func newTestDaemon(t *testing.T, lib domain.DeviceLibrary, w *bytes.Buffer, metrics *telemetry.Metrics, opts Options) *StatsDaemon {
	t.Helper()
	d, err := NewStatsDaemon(lib, emitter.New(w, emitter.FormatJSON), metrics, opts, nil)
	require.NoError(t, err)
	d.WithLister(&fakeLister{})
	return d
}

// run executes exactly passes passes on a fake clock
func run(t *testing.T, d *StatsDaemon, passes int) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{now: time.Unix(1700000000, 0), stopAfter: passes, cancel: cancel}
	d.WithClock(clock.Now, clock.Sleep)
	d.Init()
	return d.Run(ctx)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		out = append(out, line)
	}
	return out
}

func scrape(t *testing.T, metrics *telemetry.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestStatsDaemon_LibraryUnavailableEmitsFallbackForever(t *testing.T) {
	lib := nvml.NewMockLibrary(nvml.NewDemoDevice())
	lib.InitErr = domain.ErrLibraryUnavailable
	var buf bytes.Buffer
	d := newTestDaemon(t, lib, &buf, nil, Options{Interval: time.Second})

	require.NoError(t, run(t, d, 5))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 5)
	var prev float64
	for _, line := range lines {
		assert.Len(t, line, 2)
		assert.Equal(t, 0.0, line[sampler.KeyGPUCount])
		ts, ok := line[emitter.KeyTimestamp].(float64)
		require.True(t, ok)
		assert.Greater(t, ts, prev)
		prev = ts
	}
	assert.False(t, d.Available())
	assert.Equal(t, 1, lib.InitCalls)
	assert.Equal(t, 0, lib.CountCalls)
	assert.Equal(t, 0, lib.ShutdownCalls)
}

func TestStatsDaemon_SamplesAndShutsDown(t *testing.T) {
	lib := nvml.NewMockLibrary(nvml.NewDemoDevice())
	var buf bytes.Buffer
	d := newTestDaemon(t, lib, &buf, nil, Options{Interval: time.Second})

	require.NoError(t, run(t, d, 2))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "12.2", lines[0][sampler.KeyCudaVersion])
	assert.Equal(t, 1.0, lines[0][sampler.KeyGPUCount])
	assert.Equal(t, "Mock GPU", lines[0]["gpu.0.name"])
	assert.Contains(t, lines[0], sampler.KeySamplingDurationMs)
	assert.NotContains(t, lines[0], "gpu.process.0.gpu")
	assert.Equal(t, 1, lib.ShutdownCalls)
}

func TestStatsDaemon_MissingCudaVersionOmitsKey(t *testing.T) {
	lib := nvml.NewMockLibrary(nvml.NewDemoDevice())
	lib.CudaErr = domain.ErrNotSupported
	var buf bytes.Buffer
	d := newTestDaemon(t, lib, &buf, nil, Options{Interval: time.Second})

	require.NoError(t, run(t, d, 1))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], sampler.KeyCudaVersion)
	assert.Equal(t, 1.0, lines[0][sampler.KeyGPUCount])
}

func TestStatsDaemon_FailedPassFallsBackAndContinues(t *testing.T) {
	lib := nvml.NewMockLibrary(nvml.NewDemoDevice())
	lib.CountErr = errors.New("gpu lost")
	var buf bytes.Buffer
	metrics := telemetry.NewMetrics()
	d := newTestDaemon(t, lib, &buf, metrics, Options{Interval: time.Second})

	require.NoError(t, run(t, d, 3))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Len(t, line, 2)
		assert.Equal(t, 0.0, line[sampler.KeyGPUCount])
	}
	assert.Equal(t, 3, lib.CountCalls)
	assert.Equal(t, 1, lib.ShutdownCalls)

	body := scrape(t, metrics)
	assert.Contains(t, body, `gpustats_sampler_passes_total{outcome="fallback"} 3`)
}

func TestStatsDaemon_AttributesTargetTree(t *testing.T) {
	device := nvml.NewDemoDevice()
	device.ComputePIDs = []uint32{4243}
	lib := nvml.NewMockLibrary(device, nvml.NewDemoDevice())
	var buf bytes.Buffer
	metrics := telemetry.NewMetrics()
	d := newTestDaemon(t, lib, &buf, metrics, Options{Interval: time.Second, TargetPID: 4242})
	d.WithLister(&fakeLister{children: map[uint32][]uint32{4242: {4243}}})

	require.NoError(t, run(t, d, 1))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, 50.0, lines[0]["gpu.process.0.gpu"])
	assert.Equal(t, lines[0]["gpu.0.powerPercent"], lines[0]["gpu.process.0.powerPercent"])
	assert.NotContains(t, lines[0], "gpu.process.1.gpu")

	body := scrape(t, metrics)
	assert.Contains(t, body, `gpustats_sampler_passes_total{outcome="ok"} 1`)
	assert.Contains(t, body, "gpustats_sampler_devices 2")
	assert.Contains(t, body, "gpustats_sampler_attributed_devices 1")
}

func TestStatsDaemon_SkipPolicyDropsFailingDevice(t *testing.T) {
	broken := nvml.NewDemoDevice()
	broken.Fail = map[string]error{"Temperature": errors.New("sensor fault")}
	lib := nvml.NewMockLibrary(broken, nvml.NewDemoDevice())
	var buf bytes.Buffer
	d := newTestDaemon(t, lib, &buf, nil, Options{Interval: time.Second, Policy: sampler.PolicySkip})

	require.NoError(t, run(t, d, 1))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, 2.0, lines[0][sampler.KeyGPUCount])
	assert.NotContains(t, lines[0], "gpu.0.name")
	assert.Equal(t, "Mock GPU", lines[0]["gpu.1.name"])
}

func TestStatsDaemon_WriteFailureIsFatal(t *testing.T) {
	lib := nvml.NewMockLibrary(nvml.NewDemoDevice())
	broken := errors.New("broken pipe")
	d, err := NewStatsDaemon(lib, emitter.New(failingWriter{err: broken}, emitter.FormatJSON), nil, Options{Interval: time.Second}, nil)
	require.NoError(t, err)
	d.WithLister(&fakeLister{})

	err = run(t, d, 5)

	assert.ErrorIs(t, err, broken)
	assert.Equal(t, 1, lib.CountCalls)
	assert.Equal(t, 1, lib.ShutdownCalls)
}

func TestNewStatsDaemon_RejectsUnknownSource(t *testing.T) {
	_, err := NewStatsDaemon(nvml.NewMockLibrary(), emitter.New(&bytes.Buffer{}, emitter.FormatJSON), nil, Options{ProcSource: "ps"}, nil)
	assert.Error(t, err)
}

func TestInit_ReportsDuration(t *testing.T) {
	lib := nvml.NewMockLibrary()
	d, err := NewStatsDaemon(lib, emitter.New(&bytes.Buffer{}, ""), nil, Options{}, nil)
	require.NoError(t, err)
	ticks := []time.Time{time.Unix(100, 0), time.Unix(100, int64(30*time.Millisecond))}
	d.WithClock(func() time.Time {
		now := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return now
	}, nil)

	took := d.Init()

	assert.Equal(t, 30*time.Millisecond, took)
	assert.True(t, d.Available())
}

func TestStatsDaemon_PidZeroWithPgrepLogsTableHint(t *testing.T) {
	cases := []struct {
		name   string
		opts   Options
		hinted bool
	}{
		{name: "pid 0 pgrep", opts: Options{ProcSource: proctree.SourcePgrep}, hinted: true},
		{name: "pid 0 default source", opts: Options{}, hinted: true},
		{name: "pid 0 table", opts: Options{ProcSource: proctree.SourceTable}},
		{name: "target pid pgrep", opts: Options{TargetPID: 4242, ProcSource: proctree.SourcePgrep}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			d, err := NewStatsDaemon(nvml.NewMockLibrary(), emitter.New(&bytes.Buffer{}, emitter.FormatJSON), nil, tc.opts, zap.New(core))
			require.NoError(t, err)
			d.WithLister(&fakeLister{})

			require.NoError(t, run(t, d, 2))

			hints := logs.FilterMessageSnippet("--proc-source table").Len()
			if tc.hinted {
				assert.Equal(t, 1, hints)
			} else {
				assert.Zero(t, hints)
			}
		})
	}
}
