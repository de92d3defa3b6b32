// Package telemetry exposes the sidecar's own health as Prometheus metrics.
// It never reports GPU readings; those belong to the record stream.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "gpustats"

// Pass outcomes
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
)

// Metrics holds the self-metrics of one process
type Metrics struct {
	registry   *prometheus.Registry
	passes     *prometheus.CounterVec
	duration   prometheus.Histogram
	devices    prometheus.Gauge
	attributed prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "passes_total",
			Help:      "Sampling passes by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "pass_duration_seconds",
			Help:      "Wall time spent inside one sampling pass.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "devices",
			Help:      "Devices reported in the last record.",
		}),
		attributed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "attributed_devices",
			Help:      "Devices used by the target process tree in the last record.",
		}),
	}

	m.registry.MustRegister(m.passes, m.duration, m.devices, m.attributed)
	// pre-create both series so they show up as zero
	m.passes.WithLabelValues(OutcomeOK)
	m.passes.WithLabelValues(OutcomeFallback)
	return m
}

// ObservePass records one finished pass
func (m *Metrics) ObservePass(outcome string, took time.Duration, devices, attributed int) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
	m.devices.Set(float64(devices))
	m.attributed.Set(float64(attributed))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
		return nil
	}
}
