package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xff16/relay/internal/metric"
)

// Remote is a named group of endpoints serving one proxy. It keeps the serving pool, applies the
// circuit breaker rules and schedules delayed recovery of endpoints taken down.
type Remote struct {
	id   string
	name string

	endpoints map[string]*Endpoint
	ordered   []*Endpoint

	minPoolSize int
	breakOn     []FailureClass
	checkAfter  time.Duration
	liveness    Policy
	probe       *Probe

	log         *zap.Logger
	metrics     metric.Metrics
	now         func() time.Time
	probeClient *http.Client

	mu       sync.Mutex
	pool     []*Endpoint
	poolName PoolName
	timers   map[uint64]*time.Timer
	timerSeq uint64
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

type RemoteOption func(*Remote)

func WithRemoteLogger(log *zap.Logger) RemoteOption {
	return func(r *Remote) {
		r.log = log
	}
}

func WithRemoteMetrics(m metric.Metrics) RemoteOption {
	return func(r *Remote) {
		r.metrics = m
	}
}

// WithClock replaces time.Now for leaky bucket policies.
func WithClock(now func() time.Time) RemoteOption {
	return func(r *Remote) {
		r.now = now
	}
}

// WithProbeClient sets the client used for active health checks.
func WithProbeClient(client *http.Client) RemoteOption {
	return func(r *Remote) {
		r.probeClient = client
	}
}

type RemoteSnapshot struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	CurrentPool PoolName           `json:"current_pool"`
	PoolURLs    []string           `json:"pool_urls"`
	MinPoolSize int                `json:"min_pool_size"`
	BreakOn     []FailureClass     `json:"break_on"`
	CheckAfter  Duration           `json:"check_after"`
	Probing     bool               `json:"probing"`
	Endpoints   []EndpointSnapshot `json:"endpoints"`
}

// NewRemote builds a remote from cfg. Unset config fields take their defaults.
func NewRemote(name string, cfg RemoteConfig, opts ...RemoteOption) (*Remote, error) {
	cfg = cfg.WithDefaults()

	r := &Remote{
		id:          uuid.NewString(),
		name:        name,
		endpoints:   make(map[string]*Endpoint, len(cfg.Endpoints)),
		minPoolSize: cfg.MinPoolSize,
		breakOn:     slices.Clone(cfg.BreakOn),
		checkAfter:  cfg.CheckAfter.Std(),
		log:         zap.NewNop(),
		metrics:     metric.NewNop(),
		now:         time.Now,
		poolName:    PoolDefault,
		timers:      make(map[uint64]*time.Timer),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.log = r.log.With(zap.String("remote", name), zap.String("remote_id", r.id))

	configs := make([]LivenessConfig, len(cfg.Endpoints))
	for i, ec := range cfg.Endpoints {
		configs[i] = ec.Liveness
	}

	policies, err := buildPolicies(cfg.Liveness, configs, r.now)
	if err != nil {
		return nil, fmt.Errorf("remote %q: %w", name, err)
	}

	r.liveness = policies[0]

	for i, ec := range cfg.Endpoints {
		e, err := newEndpoint(ec.URL, ec.Pools, policies[i+1])
		if err != nil {
			return nil, fmt.Errorf("remote %q: %w", name, err)
		}

		if _, ok := r.endpoints[e.url]; ok {
			return nil, fmt.Errorf("remote %q: duplicate endpoint %q", name, e.url)
		}

		r.endpoints[e.url] = e
		r.ordered = append(r.ordered, e)
	}

	if cfg.Probe != nil {
		if cfg.Probe.Interval <= 0 || cfg.Probe.Timeout <= 0 {
			return nil, fmt.Errorf("remote %q: probe interval and timeout must be > 0", name)
		}

		client := r.probeClient
		if client == nil {
			client = newProbeClient(cfg.Probe.Verify == nil || *cfg.Probe.Verify)
		}

		r.probe = newProbe(r, *cfg.Probe, client)
	}

	r.Refresh()

	return r, nil
}

func newProbeClient(verify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !verify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per probe
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (r *Remote) ID() string {
	return r.id
}

func (r *Remote) Name() string {
	return r.name
}

func (r *Remote) Liveness() Policy {
	return r.liveness
}

func (r *Remote) Probe() *Probe {
	return r.probe
}

// Breaks reports whether failures of class take part in circuit breaking.
func (r *Remote) Breaks(class FailureClass) bool {
	return slices.Contains(r.breakOn, class)
}

// Endpoints returns every endpoint in configuration order.
func (r *Remote) Endpoints() []*Endpoint {
	return slices.Clone(r.ordered)
}

// Endpoint looks up an endpoint by URL. The URL is normalized first, so trailing slashes and
// letter case of the host do not matter.
func (r *Remote) Endpoint(rawURL string) (*Endpoint, bool) {
	if e, ok := r.endpoints[rawURL]; ok {
		return e, true
	}

	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, false
	}

	e, ok := r.endpoints[normalized]

	return e, ok
}

func (r *Remote) CurrentPoolName() PoolName {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.poolName
}

// CurrentPool returns the URLs of the serving pool in rotation order.
func (r *Remote) CurrentPool() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return poolURLs(r.pool)
}

func poolURLs(pool []*Endpoint) []string {
	urls := make([]string, len(pool))
	for i, e := range pool {
		urls[i] = e.url
	}

	return urls
}

// Refresh recomputes the serving pool from the endpoints' current statuses. Default-tagged endpoints
// that are not down come first, in configuration order. When there are fewer of them than
// min_pool_size, the fallback-tagged endpoints that are not down are appended.
func (r *Remote) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool := make([]*Endpoint, 0, len(r.ordered))

	for _, e := range r.ordered {
		status := e.Status()
		r.metrics.SetEndpointStatus(r.name, e.url, int(status))

		if e.InPool(PoolDefault) && status != StatusDown {
			pool = append(pool, e)
		}
	}

	name := PoolDefault

	if len(pool) < r.minPoolSize {
		name = PoolFallback

		for _, e := range r.ordered {
			if e.InPool(PoolFallback) && !slices.Contains(pool, e) && e.Status() != StatusDown {
				pool = append(pool, e)
			}
		}
	}

	if name != r.poolName {
		r.log.Warn("serving pool switched",
			zap.String("from", string(r.poolName)),
			zap.String("to", string(name)),
			zap.Int("size", len(pool)),
		)
	}

	if len(pool) == 0 && len(r.pool) > 0 {
		r.log.Error("no endpoints available")
	}

	r.pool = pool
	r.poolName = name
}

// GetURL returns the URL at the head of the serving pool and rotates the pool left by one.
func (r *Remote) GetURL() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pool) == 0 {
		return "", ErrNoEndpointAvailable
	}

	head := r.pool[0]
	copy(r.pool, r.pool[1:])
	r.pool[len(r.pool)-1] = head

	return head.url, nil
}

// NotifyURLStatus feeds the status code of an upstream response to the circuit breaker.
// Client and server errors count as failures only when their class is in break_on; responses
// below 400 count as successes. Unknown URLs are ignored.
func (r *Remote) NotifyURLStatus(rawURL string, status int) {
	if _, ok := r.Endpoint(rawURL); !ok {
		return
	}

	var class FailureClass

	switch {
	case status >= 500 && status < 600:
		class = ClassHTTP5xx
	case status >= 400 && status < 500:
		class = ClassHTTP4xx
	case status < 400:
		_, _ = r.Success(rawURL)

		return
	default:
		return
	}

	if !r.Breaks(class) {
		return
	}

	_, _ = r.Failure(rawURL, "HTTP_"+strconv.Itoa(status))
}

// Failure records a failure of the endpoint at rawURL and reports whether its status changed.
// An endpoint the failure takes down recovers to checking after check_after.
func (r *Remote) Failure(rawURL, reason string) (bool, error) {
	e, ok := r.Endpoint(rawURL)
	if !ok {
		return false, ErrUnknownEndpoint
	}

	r.metrics.IncBreakerFailures(r.name, reason)

	if !e.Failure(reason) {
		return false, nil
	}

	status := e.Status()

	r.log.Warn("endpoint status changed",
		zap.String("url", e.url),
		zap.Stringer("status", status),
		zap.String("reason", reason),
	)

	r.Refresh()

	if status == StatusDown {
		r.scheduleRecovery(e)
	}

	return true, nil
}

// Success records a successful interaction with the endpoint at rawURL.
func (r *Remote) Success(rawURL string) (bool, error) {
	e, ok := r.Endpoint(rawURL)
	if !ok {
		return false, ErrUnknownEndpoint
	}

	if !e.Success() {
		return false, nil
	}

	r.log.Info("endpoint status changed",
		zap.String("url", e.url),
		zap.Stringer("status", e.Status()),
	)

	r.Refresh()

	return true, nil
}

// SetUp marks the endpoint up and clears its failure reasons.
func (r *Remote) SetUp(rawURL string) error {
	return r.set(rawURL, StatusUp)
}

// SetChecking marks the endpoint checking. It stays in the serving pool.
func (r *Remote) SetChecking(rawURL string) error {
	return r.set(rawURL, StatusChecking)
}

// SetDown marks the endpoint down and schedules its move to checking after check_after,
// unless something else changes its status first.
func (r *Remote) SetDown(rawURL string) error {
	if err := r.set(rawURL, StatusDown); err != nil {
		return err
	}

	e, _ := r.Endpoint(rawURL)
	r.scheduleRecovery(e)

	return nil
}

func (r *Remote) set(rawURL string, status Status) error {
	e, ok := r.Endpoint(rawURL)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, rawURL)
	}

	if e.setStatus(status) {
		r.log.Info("endpoint status set", zap.String("url", e.url), zap.Stringer("status", status))
	}

	r.Refresh()

	return nil
}

func (r *Remote) scheduleRecovery(e *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.log.Warn("remote is closed, endpoint recovery not scheduled", zap.String("url", e.url))

		return
	}

	r.timerSeq++
	id := r.timerSeq

	r.timers[id] = time.AfterFunc(r.checkAfter, func() {
		r.mu.Lock()
		delete(r.timers, id)
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return
		}

		if e.transition(StatusDown, StatusChecking) {
			r.log.Info("endpoint recovering", zap.String("url", e.url), zap.Stringer("status", StatusChecking))
			r.Refresh()
		}
	})
}

// PendingRecoveries returns the number of scheduled recovery timers that have not fired yet.
func (r *Remote) PendingRecoveries() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.timers)
}

// Start launches the probe loop, if the remote has a probe. It returns immediately.
func (r *Remote) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRemoteClosed
	}

	if r.probe == nil || r.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)

		r.probe.Run(ctx)
	}()

	r.log.Info("probe started", zap.Duration("interval", r.probe.interval))

	return nil
}

// Close stops the probe loop and every pending recovery timer, and waits for the probe to return.
// It is safe to call more than once.
func (r *Remote) Close() {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return
	}

	r.closed = true

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}

	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	r.log.Info("remote closed")
}

func (r *Remote) Snapshot() RemoteSnapshot {
	r.mu.Lock()
	pool := poolURLs(r.pool)
	name := r.poolName
	r.mu.Unlock()

	endpoints := make([]EndpointSnapshot, len(r.ordered))
	for i, e := range r.ordered {
		endpoints[i] = e.Snapshot()
	}

	return RemoteSnapshot{
		ID:          r.id,
		Name:        r.name,
		CurrentPool: name,
		PoolURLs:    pool,
		MinPoolSize: r.minPoolSize,
		BreakOn:     slices.Clone(r.breakOn),
		CheckAfter:  Duration(r.checkAfter),
		Probing:     r.probe != nil,
		Endpoints:   endpoints,
	}
}
