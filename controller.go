package relay

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xff16/relay/internal/metric"
)

const defaultUserAgentVersion = "dev"

// Hop-by-hop headers, RFC 7230 section 6.1. Accept-Encoding is dropped as well so that the
// transport negotiates compression itself and hands back decoded bodies.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream response headers never relayed to the client.
var strippedResponseHeaders = []string{
	"Server",
	"Date",
	"Content-Encoding",
	"Content-Length",
}

// Controller forwards requests to the endpoints of one remote.
type Controller struct {
	name   string
	remote *Remote
	client *http.Client

	userAgent string
	timeout   time.Duration
	debug     bool

	log     *zap.Logger
	events  EventSink
	metrics metric.Metrics
}

type ControllerOption func(*Controller)

func WithControllerLogger(log *zap.Logger) ControllerOption {
	return func(c *Controller) {
		c.log = log
	}
}

func WithEventSink(sink EventSink) ControllerOption {
	return func(c *Controller) {
		c.events = sink
	}
}

func WithControllerMetrics(m metric.Metrics) ControllerOption {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithDebug includes the underlying cause in error responses.
func WithDebug(debug bool) ControllerOption {
	return func(c *Controller) {
		c.debug = debug
	}
}

// WithVersion sets the version advertised in the outbound User-Agent.
func WithVersion(version string) ControllerOption {
	return func(c *Controller) {
		if version != "" {
			c.userAgent = "relay/" + version
		}
	}
}

// WithRequestTimeout bounds each upstream round trip, body included. Zero means no bound.
func WithRequestTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.timeout = d
	}
}

func NewController(name string, remote *Remote, client *http.Client, opts ...ControllerOption) *Controller {
	c := &Controller{
		name:      name,
		remote:    remote,
		client:    client,
		userAgent: "relay/" + defaultUserAgentVersion,
		log:       zap.NewNop(),
		events:    NopSink{},
		metrics:   metric.NewNop(),
	}

	if c.client == nil {
		c.client = http.DefaultClient
	}

	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.With(zap.String("proxy", name))

	return c
}

func (c *Controller) Name() string {
	return c.name
}

func (c *Controller) Remote() *Remote {
	return c.remote
}

// ServeHTTP forwards req to the next endpoint of the remote's serving pool and relays the answer.
// Transport failures are answered with a classified JSON error and may count against the endpoint.
// Upstream error statuses are relayed as they are.
func (c *Controller) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	requestID := getOrCreateRequestID(req)

	ev := Event{
		Transaction: requestID,
		Proxy:       c.name,
		Method:      req.Method,
		Path:        req.URL.Path,
	}

	c.emit(ev, EventTransactionStarted, start)

	endpointURL, err := c.remote.GetURL()
	if err != nil {
		c.log.Warn("no endpoint available", zap.String("request_id", requestID))
		c.metrics.IncFailedRequestsTotal(metric.FailReasonNoEndpoint)

		WriteError(w, ErrorCodeUpstreamUnavailable, "Unavailable", requestID, http.StatusServiceUnavailable)

		ev.StatusCode = http.StatusServiceUnavailable
		ev.StatusClass = StatusClassError
		ev.Error = err.Error()
		c.emit(ev, EventTransactionEnded, start)

		return
	}

	ev.Endpoint = endpointURL

	ctx := req.Context()
	if c.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	outReq, err := c.newRequest(ctx, req, endpointURL, requestID)
	if err != nil {
		c.fail(w, ev, start, endpointURL, requestID, Classify(err))

		return
	}

	c.emit(Event{
		Transaction: requestID,
		Proxy:       c.name,
		Endpoint:    endpointURL,
		Direction:   DirectionRequest,
		Method:      outReq.Method,
		Path:        outReq.URL.Path,
	}, EventTransactionMessage, start)

	resp, err := c.client.Do(outReq)
	if err != nil {
		c.fail(w, ev, start, endpointURL, requestID, Classify(err))

		return
	}
	defer resp.Body.Close()

	c.remote.NotifyURLStatus(endpointURL, resp.StatusCode)

	ev.StatusCode = resp.StatusCode
	ev.StatusClass = StatusClass(resp.StatusCode)

	response := ev
	response.Direction = DirectionResponse
	c.emit(response, EventTransactionMessage, start)

	copyHeader(w.Header(), resp.Header)
	removeHeaders(w.Header(), hopHeaders)
	removeHeaders(w.Header(), strippedResponseHeaders)
	w.Header().Set("X-Request-ID", requestID)

	w.WriteHeader(resp.StatusCode)

	if _, err = io.Copy(w, resp.Body); err != nil {
		c.log.Warn("failed to relay response body",
			zap.String("request_id", requestID),
			zap.String("endpoint", endpointURL),
			zap.Error(err),
		)

		ev.Error = err.Error()
	}

	c.emit(ev, EventTransactionEnded, start)
}

func (c *Controller) fail(w http.ResponseWriter, ev Event, start time.Time, endpointURL, requestID string, te *TransportError) {
	// Clients that go away are not the upstream's fault.
	if te.Class != ClassCanceled && c.remote.Breaks(te.Class) {
		_, _ = c.remote.Failure(endpointURL, te.Tag)
	}

	c.log.Warn("upstream request failed",
		zap.String("request_id", requestID),
		zap.String("endpoint", endpointURL),
		zap.String("tag", te.Tag),
		zap.Int("status", te.Status),
		zap.Error(te.Err),
	)
	c.metrics.IncFailedRequestsTotal(metric.FailReasonUpstreamError)

	writeTransportError(w, te, requestID, c.debug)

	ev.StatusCode = te.Status
	ev.StatusClass = StatusClassError
	ev.Error = te.Tag
	c.emit(ev, EventTransactionEnded, start)
}

func (c *Controller) newRequest(ctx context.Context, req *http.Request, endpointURL, requestID string) (*http.Request, error) {
	target := joinURL(endpointURL, req.URL.EscapedPath())
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}

	var body io.Reader = http.NoBody
	if req.Body != nil && req.Body != http.NoBody && req.ContentLength != 0 {
		body = req.Body
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	if body != http.NoBody {
		outReq.ContentLength = req.ContentLength
	}

	outReq.Header = req.Header.Clone()
	if outReq.Header == nil {
		outReq.Header = make(http.Header)
	}

	removeConnectionHeaders(outReq.Header)
	removeHeaders(outReq.Header, hopHeaders)
	outReq.Header.Del("Accept-Encoding")

	outReq.Host = outReq.URL.Host
	outReq.Header.Set("User-Agent", c.userAgent)
	outReq.Header.Set("X-Request-ID", requestID)

	if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		if prior := req.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}

		outReq.Header.Set("X-Forwarded-For", clientIP)
	}

	return outReq, nil
}

func (c *Controller) emit(ev Event, typ EventType, start time.Time) {
	ev.Type = typ
	ev.Elapsed = time.Since(start)
	ev.Timestamp = time.Now()

	c.events.Emit(ev)
}

// removeConnectionHeaders drops the headers named by the Connection header.
func removeConnectionHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for name := range strings.SplitSeq(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
}

func removeHeaders(h http.Header, names []string) {
	for _, name := range names {
		h.Del(name)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
