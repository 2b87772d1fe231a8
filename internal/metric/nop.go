package metric

import (
	"net/http"
	"time"
)

type nopMetrics struct{}

func NewNop() Metrics {
	return nopMetrics{}
}

func (nopMetrics) IncRequestsTotal()                           {}
func (nopMetrics) IncRequestsInFlight()                        {}
func (nopMetrics) DecRequestsInFlight()                        {}
func (nopMetrics) UpdateRequestsDuration(string, time.Time)    {}
func (nopMetrics) IncResponsesTotal(string, int)               {}
func (nopMetrics) IncFailedRequestsTotal(FailReason)           {}
func (nopMetrics) UpdateUpstreamLatency(string, time.Duration) {}
func (nopMetrics) SetEndpointStatus(string, string, int)       {}
func (nopMetrics) IncBreakerFailures(string, string)           {}
func (nopMetrics) IncProbeChecks(string, string)               {}
func (nopMetrics) Handler() http.Handler                       { return http.NotFoundHandler() }
