// Package metrics holds the Prometheus collectors for the client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Submissions     *prometheus.CounterVec
	Logins          *prometheus.CounterVec
	Pushes          *prometheus.CounterVec
	AccessLogs      *prometheus.CounterVec
	ViewSubscribers prometheus.Gauge
}

// New registers every collector on a fresh registry, so tests can build as
// many as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peddy",
			Name:      "submissions_total",
			Help:      "Submission attempts by final gateway phase.",
		}, []string{"phase"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peddy",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peddy",
			Name:      "store_pushes_total",
			Help:      "Snapshots received from store subscriptions.",
		}, []string{"path", "outcome"}),
		AccessLogs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peddy",
			Name:      "access_log_writes_total",
			Help:      "Best-effort access log appends by outcome.",
		}, []string{"outcome"}),
		ViewSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "peddy",
			Name:      "view_subscribers",
			Help:      "Renderer connections currently receiving view snapshots.",
		}),
	}
	m.registry.MustRegister(
		m.Submissions,
		m.Logins,
		m.Pushes,
		m.AccessLogs,
		m.ViewSubscribers,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
