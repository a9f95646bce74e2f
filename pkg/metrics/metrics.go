package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported by the query service
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	duration  prometheus.Histogram
	seeds     prometheus.Histogram
	indexRows prometheus.Gauge
}

// New registers collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadsearch_retrieve_total",
			Help: "Retrieve calls by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "threadsearch_retrieve_duration_seconds",
			Help:    "Retrieve latency including query embedding.",
			Buckets: prometheus.DefBuckets,
		}),
		seeds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "threadsearch_retrieve_seeds",
			Help:    "Seeds returned per successful retrieve.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		indexRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threadsearch_index_rows",
			Help: "Rows in the loaded index.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.seeds,
		m.indexRows,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveRetrieve records one retrieve outcome
func (m *Metrics) ObserveRetrieve(outcome string, seeds int, d time.Duration) {
	m.requests.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
	if outcome == "ok" {
		m.seeds.Observe(float64(seeds))
	}
}

// SetIndexRows records the size of the loaded index
func (m *Metrics) SetIndexRows(n int) {
	m.indexRows.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
