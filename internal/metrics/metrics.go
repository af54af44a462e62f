// Package metrics implements §6's ambient Prometheus endpoint: active
// sources, active consumers, bytes in/out, and segment counts — plain
// in-process counters, not the "statistics exporter" product feature
// §1 excludes.
//
// Grounded on Emibrown-HLS-Playlist-Orchestrator's internal/platform/metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus counters and gauges.
type Metrics struct {
	registry *prometheus.Registry

	activeSources   prometheus.Gauge
	activeConsumers prometheus.Gauge
	bytesIn         prometheus.Counter
	bytesOut        prometheus.Counter
	segmentsTotal   *prometheus.CounterVec
	publishesTotal  prometheus.Counter
	playsTotal      prometheus.Counter
	forwardErrors   prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		activeSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livehub_active_sources",
			Help: "Number of LiveSources currently registered in the hub.",
		}),
		activeConsumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livehub_active_consumers",
			Help: "Number of play consumers currently attached across all sources.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livehub_bytes_in_total",
			Help: "Total bytes received from publishers.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livehub_bytes_out_total",
			Help: "Total bytes sent to consumers across all output protocols.",
		}),
		segmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livehub_segments_total",
			Help: "Total segments written by the HLS/DASH segmenters.",
		}, []string{"protocol"}),
		publishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livehub_publishes_total",
			Help: "Total publish claims accepted by the hub.",
		}),
		playsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livehub_plays_total",
			Help: "Total play attachments accepted by the hub.",
		}),
		forwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livehub_forward_errors_total",
			Help: "Total push/pull attempt failures in the Forwarder.",
		}),
	}

	registry.MustRegister(
		m.activeSources, m.activeConsumers, m.bytesIn, m.bytesOut,
		m.segmentsTotal, m.publishesTotal, m.playsTotal, m.forwardErrors,
	)
	return m
}

func (m *Metrics) SetActiveSources(n int)     { m.activeSources.Set(float64(n)) }
func (m *Metrics) SetActiveConsumers(n int)   { m.activeConsumers.Set(float64(n)) }
func (m *Metrics) AddBytesIn(n int)           { m.bytesIn.Add(float64(n)) }
func (m *Metrics) AddBytesOut(n int)          { m.bytesOut.Add(float64(n)) }
func (m *Metrics) IncSegment(protocol string) { m.segmentsTotal.WithLabelValues(protocol).Inc() }
func (m *Metrics) IncPublish()                { m.publishesTotal.Inc() }
func (m *Metrics) IncPlay()                   { m.playsTotal.Inc() }
func (m *Metrics) IncForwardError()           { m.forwardErrors.Inc() }

// Handler returns the GET /metrics http.Handler, calling refresh (if
// non-nil) before each scrape to update the gauges from live state.
func (m *Metrics) Handler(refresh func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refresh != nil {
			refresh()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
