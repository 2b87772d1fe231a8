package relay

import (
	"crypto/rand"
	"math"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/xff16/relay/internal/metric"
	"github.com/xff16/relay/internal/ratelimit"
)

// Route binds a path prefix to the controller of one proxy.
type Route struct {
	Name        string
	Path        string
	StripPrefix bool
	Controller  http.Handler
}

type Router struct {
	Routes []Route

	log     *zap.Logger
	metrics metric.Metrics

	rateLimiter *ratelimit.RateLimit
}

type RouterOption func(*Router)

func WithRouterMetrics(m metric.Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

func WithRateLimiter(rl *ratelimit.RateLimit) RouterOption {
	return func(r *Router) {
		r.rateLimiter = rl
	}
}

// NewRouter orders routes so that longer prefixes win.
func NewRouter(routes []Route, log *zap.Logger, opts ...RouterOption) *Router {
	router := &Router{
		Routes:  slices.Clone(routes),
		log:     log,
		metrics: metric.NewNop(),
	}

	slices.SortStableFunc(router.Routes, func(a, b Route) int {
		return len(b.Path) - len(a.Path)
	})

	for _, opt := range opts {
		opt(router)
	}

	return router
}

// ServeHTTP matches the request to a route and hands it to the route's controller.
//
// The processing steps are:
//
// 1. Route matching: the longest path prefix wins. No match responds with 404.
// 2. Rate limiting (if enabled): clients over their budget get 429.
// 3. The request ID is taken from X-Request-ID or generated.
// 4. With strip_prefix the matched prefix is removed from the path before forwarding.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.metrics.IncRequestsTotal()

	r.metrics.IncRequestsInFlight()
	defer r.metrics.DecRequestsInFlight()

	requestID := getOrCreateRequestID(req)
	req.Header.Set("X-Request-ID", requestID)

	route := r.match(req)
	if route == nil {
		r.log.Debug("no route matched", zap.String("request_uri", req.URL.RequestURI()))
		r.metrics.IncFailedRequestsTotal(metric.FailReasonNoMatchedRoute)

		WriteError(w, ErrorCodeNotFound, "no route matched", requestID, http.StatusNotFound)

		return
	}

	if r.rateLimiter != nil && !r.rateLimiter.Allow(extractClientIP(req)) {
		r.metrics.IncFailedRequestsTotal(metric.FailReasonRateLimited)

		w.Header().Set("Retry-After", "1")
		WriteError(w, ErrorCodeRateLimitExceeded, "rate limit exceeded", requestID, http.StatusTooManyRequests)

		return
	}

	start := time.Now()
	defer r.metrics.UpdateRequestsDuration(route.Name, start)

	if route.StripPrefix {
		req = stripPrefix(req, route.Path)
	}

	route.Controller.ServeHTTP(w, req)
}

func (r *Router) match(req *http.Request) *Route {
	for i := range r.Routes {
		route := &r.Routes[i]

		if matchPrefix(route.Path, req.URL.Path) {
			return route
		}
	}

	return nil
}

// matchPrefix reports whether path lies under prefix on a segment boundary,
// so /api matches /api and /api/users but not /apiv2.
func matchPrefix(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}

	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

// stripPrefix returns a shallow copy of req with prefix removed from its path, as http.StripPrefix does.
func stripPrefix(req *http.Request, prefix string) *http.Request {
	prefix = strings.TrimSuffix(prefix, "/")

	r2 := new(http.Request)
	*r2 = *req
	r2.URL = new(url.URL)
	*r2.URL = *req.URL
	r2.URL.Path = "/" + strings.TrimPrefix(strings.TrimPrefix(req.URL.Path, prefix), "/")

	if req.URL.RawPath != "" {
		r2.URL.RawPath = "/" + strings.TrimPrefix(strings.TrimPrefix(req.URL.RawPath, prefix), "/")
	}

	return r2
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}

	return r.RemoteAddr
}

func getOrCreateRequestID(r *http.Request) string {
	requestID := r.Header.Get("X-Request-ID")
	if requestID != "" {
		return requestID
	}

	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, math.MaxInt64)

	return strings.ToLower(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}
