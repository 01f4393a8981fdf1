// Package metrics exposes Prometheus instrumentation on an isolated
// registry so only credproxy metrics appear on the endpoint, without the
// default Go runtime collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request result labels.
const (
	ResultSuccess      = "success"
	ResultUnauthorized = "unauthorized"
	ResultError        = "error"
)

// durationBuckets track credential request latency; the upper buckets
// cover the assume-role network call on cache misses.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Metrics owns the Prometheus collectors. A single instance is created at
// process start and handed to the registry and the HTTP layer.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeServices  prometheus.Gauge
	appInfo         *prometheus.GaugeVec
}

// New creates the collectors and registers them on a fresh registry.
func New(version string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credproxy_requests_total",
			Help: "Total number of credential requests",
		}, []string{"result", "service_name"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credproxy_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: durationBuckets,
		}, []string{"result", "service_name"}),
		activeServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credproxy_active_services_total",
			Help: "Number of currently active services",
		}),
		appInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credproxy_app_info",
			Help: "Application information",
		}, []string{"name", "version"}),
	}

	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.activeServices, m.appInfo)
	m.appInfo.WithLabelValues("credproxy", version).Set(1)
	return m
}

// RecordRequest counts one credential request and observes its duration.
func (m *Metrics) RecordRequest(result, serviceName string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(result, serviceName).Inc()
	m.requestDuration.WithLabelValues(result, serviceName).Observe(duration.Seconds())
}

// SetActiveServices updates the active service gauge. The registry calls
// this on every successful add or remove.
func (m *Metrics) SetActiveServices(count int) {
	m.activeServices.Set(float64(count))
}

// Handler returns the scrape endpoint for the isolated registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
