// Package metrics wires the service's Prometheus instrumentation.
//
// All collectors live on a private registry rather than the process-global
// default, so repeated construction (one instance per test) never collides
// and the exposition endpoint serves exactly what this service registered,
// plus the standard Go and process collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// Metrics owns the service's collectors and the registry they live on.
type Metrics struct {
	registry *prometheus.Registry

	samplesAppended prometheus.Counter
	scanSeconds     prometheus.Histogram
	scans           *prometheus.CounterVec
	sinkDropped     *prometheus.CounterVec
}

// Metrics counts appended samples by acting as a trend sink.
var _ trend.Sink = (*Metrics)(nil)

// New creates the registry and the instruments written by the service's
// own code paths. Gauges that mirror component state are attached later
// through the Wire methods, once those components exist.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		samplesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sastrend_samples_appended_total",
			Help: "Samples appended to the live trend buffer.",
		}),
		scanSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sastrend_discovery_scan_seconds",
			Help:    "Wall-clock duration of finished discovery scans.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sastrend_discovery_scans_total",
			Help: "Finished discovery scans by outcome.",
		}, []string{"outcome"}),
		sinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sastrend_sink_dropped_total",
			Help: "Samples a sink discarded instead of blocking the sampler.",
		}, []string{"sink"}),
	}

	registry.MustRegister(m.samplesAppended, m.scanSeconds, m.scans, m.sinkDropped)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// PublishSample counts one appended sample.
func (m *Metrics) PublishSample(string, trend.Sample) {
	m.samplesAppended.Inc()
}

// ObserveScan records one finished discovery scan.
func (m *Metrics) ObserveScan(outcome string, elapsed time.Duration) {
	m.scans.WithLabelValues(outcome).Inc()
	m.scanSeconds.Observe(elapsed.Seconds())
}

// DropSample counts a sample discarded by the named sink.
func (m *Metrics) DropSample(sink string) {
	m.sinkDropped.WithLabelValues(sink).Inc()
}

// WireLink mirrors the controller link's own statistics as collectors.
// The link already counts everything of interest; the closures only
// expose those counts at scrape time.
func (m *Metrics) WireLink(stats func() controller.Stats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sastrend_link_connected",
			Help: "1 while the controller link is connected.",
		}, func() float64 {
			if stats().Connected {
				return 1
			}
			return 0
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sastrend_link_connects_total",
			Help: "Successful link connections since start.",
		}, func() float64 { return float64(stats().ConnectsTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sastrend_reads_total",
			Help: "Batch reads issued over the link.",
		}, func() float64 { return float64(stats().ReadsTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sastrend_read_failures_total",
			Help: "Batch reads that failed outright.",
		}, func() float64 { return float64(stats().ReadFailures) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sastrend_readings_absent_total",
			Help: "Individual tag readings reported absent.",
		}, func() float64 { return float64(stats().ReadingsAbsent) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sastrend_probes_total",
			Help: "Discovery probes issued over the link.",
		}, func() float64 { return float64(stats().ProbesTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sastrend_probes_absent_total",
			Help: "Discovery probes answered with file-not-present.",
		}, func() float64 { return float64(stats().ProbesAbsent) }),
	)
}

// WireSessions exposes whether a trend session currently exists.
func (m *Metrics) WireSessions(active func() bool) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sastrend_sessions_active",
		Help: "1 while a trend session exists.",
	}, func() float64 {
		if active() {
			return 1
		}
		return 0
	}))
}

// WireWSClients exposes the current WebSocket client count.
func (m *Metrics) WireWSClients(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sastrend_ws_clients",
		Help: "Connected WebSocket clients.",
	}, func() float64 { return float64(count()) }))
}
