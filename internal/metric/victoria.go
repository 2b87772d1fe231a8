package metric

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

type victoriaMetrics struct {
	set *metrics.Set

	requestsTotal    *metrics.Counter
	requestsInFlight *metrics.Gauge
}

// NewVictoria builds a VictoriaMetrics provider on a private metrics.Set.
func NewVictoria() Metrics {
	set := metrics.NewSet()

	return &victoriaMetrics{
		set:              set,
		requestsTotal:    set.GetOrCreateCounter("relay_requests_total"),
		requestsInFlight: set.GetOrCreateGauge("relay_requests_in_flight", nil),
	}
}

func (m *victoriaMetrics) IncRequestsTotal() {
	m.requestsTotal.Inc()
}

func (m *victoriaMetrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

func (m *victoriaMetrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

func (m *victoriaMetrics) UpdateRequestsDuration(proxy string, start time.Time) {
	m.set.GetOrCreateHistogram(fmt.Sprintf(`relay_requests_duration_seconds{proxy=%q}`, proxy)).UpdateDuration(start)
}

func (m *victoriaMetrics) IncResponsesTotal(proxy string, status int) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`relay_responses_total{proxy=%q,status="%d"}`, proxy, status)).Inc()
}

func (m *victoriaMetrics) IncFailedRequestsTotal(reason FailReason) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`relay_failed_requests_total{reason=%q}`, reason)).Inc()
}

func (m *victoriaMetrics) UpdateUpstreamLatency(proxy string, lat time.Duration) {
	m.set.GetOrCreateHistogram(fmt.Sprintf(`relay_upstream_latency_seconds{proxy=%q}`, proxy)).Update(lat.Seconds())
}

func (m *victoriaMetrics) SetEndpointStatus(remote, url string, status int) {
	m.set.GetOrCreateGauge(fmt.Sprintf(`relay_endpoint_status{remote=%q,url=%q}`, remote, url), nil).Set(float64(status))
}

func (m *victoriaMetrics) IncBreakerFailures(remote, reason string) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`relay_breaker_failures_total{remote=%q,reason=%q}`, remote, reason)).Inc()
}

func (m *victoriaMetrics) IncProbeChecks(remote, result string) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`relay_probe_checks_total{remote=%q,result=%q}`, remote, result)).Inc()
}

func (m *victoriaMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m.WritePrometheus(w)
	})
}

func (m *victoriaMetrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}
