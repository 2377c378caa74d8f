package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's instrumentation. A single instance is created at
// agent construction and shared with the kernel and sinks; the REST sink
// serves the handler.
type Metrics struct {
	registry *prometheus.Registry

	ObservationsAdmitted prometheus.Counter
	ObservationsFiltered prometheus.Counter
	AssetsStored         prometheus.Gauge
	AdaptersConnected    prometheus.Gauge
	SinkPublishes        *prometheus.CounterVec
}

// New creates and registers the agent's metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ObservationsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mtcagent_observations_admitted_total",
			Help: "Observations admitted to the circular buffer.",
		}),
		ObservationsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mtcagent_observations_filtered_total",
			Help: "Observations rejected by duplicate suppression.",
		}),
		AssetsStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mtcagent_assets_stored",
			Help: "Non-removed assets currently in the store.",
		}),
		AdaptersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mtcagent_adapters_connected",
			Help: "Adapters with an established connection.",
		}),
		SinkPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtcagent_sink_publishes_total",
			Help: "Entities published per sink.",
		}, []string{"sink", "kind"}),
	}

	registry.MustRegister(
		m.ObservationsAdmitted,
		m.ObservationsFiltered,
		m.AssetsStored,
		m.AdaptersConnected,
		m.SinkPublishes,
	)
	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
