// Package metric defines the gateway's instrumentation surface and its providers.
package metric

import (
	"net/http"
	"time"
)

type FailReason string

const (
	FailReasonNoMatchedRoute FailReason = "no_matched_route"
	FailReasonNoEndpoint     FailReason = "no_endpoint"
	FailReasonUpstreamError  FailReason = "upstream_error"
	FailReasonRateLimited    FailReason = "rate_limited"
)

const (
	ProviderPrometheus = "prometheus"
	ProviderVictoria   = "victoria"
)

type Metrics interface {
	IncRequestsTotal()
	IncRequestsInFlight()
	DecRequestsInFlight()
	UpdateRequestsDuration(proxy string, start time.Time)
	IncResponsesTotal(proxy string, status int)
	IncFailedRequestsTotal(reason FailReason)
	UpdateUpstreamLatency(proxy string, lat time.Duration)

	SetEndpointStatus(remote, url string, status int)
	IncBreakerFailures(remote, reason string)
	IncProbeChecks(remote, result string)

	// Handler exposes the collected metrics in the Prometheus text format.
	Handler() http.Handler
}

// New returns the provider registered under name, or a no-op implementation for unknown names.
func New(provider string) Metrics {
	switch provider {
	case ProviderPrometheus:
		return NewPrometheus()
	case ProviderVictoria:
		return NewVictoria()
	default:
		return NewNop()
	}
}
