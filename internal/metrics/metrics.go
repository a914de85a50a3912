// Package metrics holds the Prometheus instruments for the receiver.
//
// Each Metrics value owns its registry so tests can build isolated servers.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ConversionsTotal  prometheus.Counter
	BlockedTotal      prometheus.Counter
	RejectedTotal     *prometheus.CounterVec
	AuditWriteErrors  *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConversionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "postback_conversions_total",
			Help: "Total number of accepted postbacks",
		}),
		BlockedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "postback_blocked_total",
			Help: "Total number of postbacks denied by the access guard",
		}),
		RejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postback_rejected_total",
			Help: "Total number of requests rejected for invalid input",
		}, []string{"reason"}),
		AuditWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_write_errors_total",
			Help: "Total number of failed audit log appends",
		}, []string{"stream"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"method", "route"}),
	}
}

// RegisterStoredGauge exposes the current store size, read at scrape time.
func (m *Metrics) RegisterStoredGauge(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "postback_conversions_stored",
		Help: "Current number of distinct offer IDs in the conversion store",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConversionRecorded() {
	if m != nil {
		m.ConversionsTotal.Inc()
	}
}

func (m *Metrics) Blocked() {
	if m != nil {
		m.BlockedTotal.Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.RejectedTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AuditWriteFailed(stream string) {
	if m != nil {
		m.AuditWriteErrors.WithLabelValues(stream).Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
