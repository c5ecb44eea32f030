// Package metrics exposes bridge counters and gauges for Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source reports live sizes sampled at scrape time.
type Source interface {
	Subscribers() int
	Pending() int
}

// Metrics owns a private registry. All methods are safe on a nil receiver so
// callers need no guard when metrics are disabled.
type Metrics struct {
	registry *prometheus.Registry

	records      prometheus.Counter
	dropped      prometheus.Counter
	timeouts     *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

// New creates and registers all collectors.
func New(src Source) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_bridge_records_total",
			Help: "Total number of records read from the child process",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_bridge_dropped_subscribers_total",
			Help: "Total number of stream subscribers dropped for falling behind",
		}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_bridge_correlation_timeouts_total",
			Help: "Total number of correlated requests that timed out",
		}, []string{"method"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_bridge_http_requests_total",
			Help: "Total number of HTTP requests served",
		}, []string{"route", "code"}),
	}

	registry.MustRegister(m.records, m.dropped, m.timeouts, m.httpRequests)

	if src != nil {
		registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "mcp_bridge_sse_subscribers",
				Help: "Number of connected stream subscribers",
			}, func() float64 { return float64(src.Subscribers()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "mcp_bridge_pending_requests",
				Help: "Number of correlated requests awaiting a response",
			}, func() float64 { return float64(src.Pending()) }),
		)
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRead() {
	if m != nil {
		m.records.Inc()
	}
}

func (m *Metrics) SubscriberDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) CorrelationTimeout(method string) {
	if m != nil {
		m.timeouts.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m != nil {
		m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	}
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
