// Package metrics defines the Prometheus metrics exported by the portal gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	RelaysActive     prometheus.Gauge
	RelaySubscribers prometheus.Gauge
	RelayEvents      *prometheus.CounterVec
	RelayDropped     prometheus.Counter
	RelayPolls       prometheus.Counter
	RelayOutcomes    *prometheus.CounterVec
	LogsArchived     prometheus.Counter

	Submissions *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RelaysActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "active",
			Help: "Deployment relays currently running.",
		}),
		RelaySubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "subscribers",
			Help: "Clients subscribed to deployment events.",
		}),
		RelayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "events_total",
			Help: "Events relayed to subscribers, by type.",
		}, []string{"type"}),
		RelayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "dropped_events_total",
			Help: "Events dropped because a subscriber was not keeping up.",
		}),
		RelayPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "status_polls_total",
			Help: "Status checks made against the deployment API.",
		}),
		RelayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "outcomes_total",
			Help: "How relays ended: completed, failed, timeout or stream_error.",
		}, []string{"outcome"}),
		LogsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "logs_archived_total",
			Help: "Log entries written to the archive.",
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "submit", Name: "requests_total",
			Help: "Deployment submissions, by outcome.",
		}, []string{"outcome", "provider"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Gateway HTTP requests.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Gateway HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RelaysActive,
		m.RelaySubscribers,
		m.RelayEvents,
		m.RelayDropped,
		m.RelayPolls,
		m.RelayOutcomes,
		m.LogsArchived,
		m.Submissions,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
