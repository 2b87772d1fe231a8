package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusMetrics struct {
	registry *prometheus.Registry

	RequestsTotal       prometheus.Counter
	RequestsDuration    *prometheus.HistogramVec
	ResponsesTotal      *prometheus.CounterVec
	RequestsInFlight    prometheus.Gauge
	FailedRequestsTotal *prometheus.CounterVec
	UpstreamLatency     *prometheus.HistogramVec
	EndpointStatus      *prometheus.GaugeVec
	BreakerFailures     *prometheus.CounterVec
	ProbeChecks         *prometheus.CounterVec
}

// NewPrometheus builds a provider backed by its own registry, so several instances can coexist.
func NewPrometheus() Metrics {
	m := &prometheusMetrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of proxied requests",
		}),
		FailedRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_failed_requests_total",
				Help: "Total number of failed requests by reason",
			},
			[]string{"reason"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_requests_duration_seconds",
				Help:    "Proxied request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"proxy"},
		),
		ResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_responses_total",
				Help: "Total number of responses by status code",
			},
			[]string{"proxy", "status"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_requests_in_flight",
			Help: "Current number of in-flight requests",
		}),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_upstream_latency_seconds",
				Help:    "Time to the first upstream response byte",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"proxy"},
		),
		EndpointStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_endpoint_status",
				Help: "Endpoint status: -1 down, 0 checking, 1 up",
			},
			[]string{"remote", "url"},
		),
		BreakerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_breaker_failures_total",
				Help: "Failures reported to endpoint liveness policies",
			},
			[]string{"remote", "reason"},
		),
		ProbeChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_probe_checks_total",
				Help: "Active health checks by result",
			},
			[]string{"remote", "result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestsDuration,
		m.ResponsesTotal,
		m.RequestsInFlight,
		m.FailedRequestsTotal,
		m.UpstreamLatency,
		m.EndpointStatus,
		m.BreakerFailures,
		m.ProbeChecks,
	)

	return m
}

func (m *prometheusMetrics) IncRequestsTotal() {
	m.RequestsTotal.Inc()
}

func (m *prometheusMetrics) UpdateRequestsDuration(proxy string, start time.Time) {
	m.RequestsDuration.WithLabelValues(proxy).Observe(time.Since(start).Seconds())
}

func (m *prometheusMetrics) IncResponsesTotal(proxy string, status int) {
	m.ResponsesTotal.WithLabelValues(proxy, strconv.Itoa(status)).Inc()
}

func (m *prometheusMetrics) IncRequestsInFlight() {
	m.RequestsInFlight.Inc()
}

func (m *prometheusMetrics) DecRequestsInFlight() {
	m.RequestsInFlight.Dec()
}

func (m *prometheusMetrics) IncFailedRequestsTotal(reason FailReason) {
	m.FailedRequestsTotal.WithLabelValues(string(reason)).Inc()
}

func (m *prometheusMetrics) UpdateUpstreamLatency(proxy string, lat time.Duration) {
	m.UpstreamLatency.WithLabelValues(proxy).Observe(lat.Seconds())
}

func (m *prometheusMetrics) SetEndpointStatus(remote, url string, status int) {
	m.EndpointStatus.WithLabelValues(remote, url).Set(float64(status))
}

func (m *prometheusMetrics) IncBreakerFailures(remote, reason string) {
	m.BreakerFailures.WithLabelValues(remote, reason).Inc()
}

func (m *prometheusMetrics) IncProbeChecks(remote, result string) {
	m.ProbeChecks.WithLabelValues(remote, result).Inc()
}

func (m *prometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
