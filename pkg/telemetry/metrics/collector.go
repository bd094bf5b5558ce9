// Package metrics exposes Prometheus metrics for dashboard fetches and
// commands on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

// Command outcomes.
const (
	OutcomeOK = "ok"
)

// Collector records dashboard activity. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	commandTotal  *prometheus.CounterVec
}

// NewCollector creates a collector registering its metrics with registry.
// A nil registry gets a fresh private one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devscope",
				Name:      "fetch_total",
				Help:      "Analytics fetches by resource and outcome (applied, failed, discarded)",
			},
			[]string{"resource", "outcome"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "devscope",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of analytics fetches in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"resource"},
		),
		commandTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devscope",
				Name:      "command_total",
				Help:      "Dashboard commands by name and outcome",
			},
			[]string{"command", "outcome"},
		),
	}

	registry.MustRegister(c.fetchTotal, c.fetchDuration, c.commandTotal)
	return c
}

// RecordFetch records one completed fetch.
func (c *Collector) RecordFetch(resource, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.fetchTotal.WithLabelValues(resource, outcome).Inc()
	c.fetchDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// RecordCommand records one completed command.
func (c *Collector) RecordCommand(command string, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	c.commandTotal.WithLabelValues(command, outcome).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
