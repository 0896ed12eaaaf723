// Package metrics holds the Prometheus collectors for scans and provider calls.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the signal engine.
type Metrics struct {
	ScanDuration        *prometheus.HistogramVec
	SignalsTotal        *prometheus.CounterVec
	ScanFailures        prometheus.Counter
	ProviderCalls       *prometheus.CounterVec
	ProviderRetries     *prometheus.CounterVec
	ProviderLatency     *prometheus.HistogramVec
	ConstituentsScanned *prometheus.GaugeVec
	Overrides           prometheus.Counter
	StreamClients       prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScanDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "End-to-end scan latency by index",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"index"}),

		SignalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals produced by index and action",
		}, []string{"index", "action"}),

		ScanFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_failures_total",
			Help:      "Scans that ended in ScanFailed",
		}),

		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls by operation and outcome",
		}, []string{"op", "outcome"}),

		ProviderRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Provider call retries",
		}, []string{"op"}),

		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_seconds",
			Help:      "Provider call latency per attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		ConstituentsScanned: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "constituents_scanned_ratio",
			Help:      "Share of index constituents scanned successfully in the last scan",
		}, []string{"index"}),

		Overrides: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manipulation_overrides_total",
			Help:      "Scans where a manipulation event overrode the MTF bias",
		}),

		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected signal stream clients",
		}),
	}
}

// ObserveScan records a completed scan.
func (m *Metrics) ObserveScan(index, action string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScanDuration.WithLabelValues(index).Observe(d.Seconds())
	m.SignalsTotal.WithLabelValues(index, action).Inc()
}

// ScanFailed increments the fatal scan counter.
func (m *Metrics) ScanFailed() {
	if m == nil {
		return
	}
	m.ScanFailures.Inc()
}

// ProviderCall records one provider operation.
func (m *Metrics) ProviderCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(op, outcome).Inc()
	m.ProviderLatency.WithLabelValues(op).Observe(d.Seconds())
}

// ProviderRetry records a retried provider call.
func (m *Metrics) ProviderRetry(op string) {
	if m == nil {
		return
	}
	m.ProviderRetries.WithLabelValues(op).Inc()
}

// Coverage records the scanned/total constituent ratio.
func (m *Metrics) Coverage(index string, scanned, total int) {
	if m == nil || total == 0 {
		return
	}
	m.ConstituentsScanned.WithLabelValues(index).Set(float64(scanned) / float64(total))
}

// Override records a manipulation override.
func (m *Metrics) Override() {
	if m == nil {
		return
	}
	m.Overrides.Inc()
}

// Clients sets the connected stream client count.
func (m *Metrics) Clients(n int) {
	if m == nil {
		return
	}
	m.StreamClients.Set(float64(n))
}
