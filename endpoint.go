package relay

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
)

type PoolName string

const (
	PoolDefault  PoolName = "default"
	PoolFallback PoolName = "fallback"
)

// Endpoint is one upstream URL together with its health state.
// Status changes only through Success and Failure, or through the owning Remote's direct overrides.
type Endpoint struct {
	url      string
	pools    []PoolName
	liveness Policy

	mu    sync.Mutex
	state LivenessState
}

type EndpointSnapshot struct {
	URL            string       `json:"url"`
	Pools          []PoolName   `json:"pools"`
	Status         Status       `json:"status"`
	FailureReasons []string     `json:"failure_reasons,omitempty"`
	Liveness       LivenessKind `json:"liveness"`
}

func newEndpoint(rawURL string, pools []PoolName, liveness Policy) (*Endpoint, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	if len(pools) == 0 {
		pools = []PoolName{PoolDefault}
	}

	return &Endpoint{
		url:      normalized,
		pools:    slices.Compact(slices.Sorted(slices.Values(pools))),
		liveness: liveness,
		state:    newLivenessState(),
	}, nil
}

// NormalizeURL canonicalizes an endpoint URL: lower-case scheme and host, no fragment,
// and a path that always ends with a slash. URLs with a query are rejected.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint url %q: %w", raw, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid endpoint url %q: scheme must be http or https", raw)
	}

	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint url %q: host is required", raw)
	}

	// Request paths are appended to the endpoint URL, so it cannot carry a query.
	if u.RawQuery != "" || u.ForceQuery {
		return "", fmt.Errorf("invalid endpoint url %q: endpoint url must not contain a query", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		if u.RawPath != "" {
			u.RawPath += "/"
		}
	}

	return u.String(), nil
}

// joinURL appends p to a normalized base URL.
func joinURL(base, p string) string {
	return base + strings.TrimPrefix(p, "/")
}

func (e *Endpoint) URL() string {
	return e.url
}

func (e *Endpoint) Pools() []PoolName {
	return slices.Clone(e.pools)
}

func (e *Endpoint) InPool(name PoolName) bool {
	return slices.Contains(e.pools, name)
}

func (e *Endpoint) Liveness() Policy {
	return e.liveness
}

func (e *Endpoint) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Status
}

func (e *Endpoint) FailureReasons() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.reasons()
}

// Success records a successful interaction and reports whether the status changed.
func (e *Endpoint) Success() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.liveness.Success(&e.state)
}

// Failure records a failed interaction tagged with reason and reports whether the status changed.
func (e *Endpoint) Failure(reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.liveness.Failure(&e.state, reason)
}

// setStatus bypasses the policy counters.
func (e *Endpoint) setStatus(status Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.setStatus(status)
}

// transition moves the endpoint from one status to another, and does nothing if it is
// no longer in from.
func (e *Endpoint) transition(from, to Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status != from {
		return false
	}

	return e.state.setStatus(to)
}

func (e *Endpoint) Snapshot() EndpointSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return EndpointSnapshot{
		URL:            e.url,
		Pools:          slices.Clone(e.pools),
		Status:         e.state.Status,
		FailureReasons: e.state.reasons(),
		Liveness:       e.liveness.Kind(),
	}
}
