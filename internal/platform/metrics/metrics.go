package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for layer completions.
const (
	OutcomeApplied   = "applied"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

// Metrics holds Prometheus collectors for the timelapse engine and its HTTP surface.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	layerRequests   prometheus.Counter
	layerOutcomes   *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	playbackTicks   prometheus.Counter
	bridgeClients   prometheus.Gauge
	catalogSize     prometheus.Gauge
	notificationsTx prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		layerRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_layer_requests_total",
			Help: "Layer requests submitted to the synchronizer",
		}),
		layerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timelapse_layer_outcomes_total",
			Help: "Layer request completions by outcome (applied, discarded, failed)",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timelapse_metadata_fetch_seconds",
			Help:    "Latency of raster metadata fetches",
			Buckets: prometheus.DefBuckets,
		}),
		playbackTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_playback_ticks_total",
			Help: "Playback ticks dispatched",
		}),
		bridgeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timelapse_bridge_clients",
			Help: "Map bridge websocket clients currently connected",
		}),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timelapse_catalog_timestamps",
			Help: "Number of timestamps in the loaded catalog",
		}),
		notificationsTx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timelapse_notifications_total",
			Help: "User-facing notifications emitted",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.layerRequests,
		m.layerOutcomes,
		m.fetchDuration,
		m.playbackTicks,
		m.bridgeClients,
		m.catalogSize,
		m.notificationsTx,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncLayerRequests counts a submitted layer request.
func (m *Metrics) IncLayerRequests() {
	if m == nil {
		return
	}
	m.layerRequests.Inc()
}

// IncLayerOutcome counts a completion; outcome is one of the Outcome* labels.
func (m *Metrics) IncLayerOutcome(outcome string) {
	if m == nil {
		return
	}
	m.layerOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the duration of one metadata fetch.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

// IncPlaybackTicks counts a dispatched playback tick.
func (m *Metrics) IncPlaybackTicks() {
	if m == nil {
		return
	}
	m.playbackTicks.Inc()
}

// SetBridgeClients sets the connected bridge clients gauge.
func (m *Metrics) SetBridgeClients(n int) {
	if m == nil {
		return
	}
	m.bridgeClients.Set(float64(n))
}

// SetCatalogSize sets the catalog size gauge.
func (m *Metrics) SetCatalogSize(n int) {
	if m == nil {
		return
	}
	m.catalogSize.Set(float64(n))
}

// IncNotifications counts a user-facing notification.
func (m *Metrics) IncNotifications() {
	if m == nil {
		return
	}
	m.notificationsTx.Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
