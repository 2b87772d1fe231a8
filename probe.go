package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	probeResultSuccess = "success"
	probeResultFailure = "failure"
)

// Probe actively checks every endpoint of a remote on a fixed interval.
type Probe struct {
	remote *Remote
	client *http.Client

	method   string
	path     string
	headers  http.Header
	interval time.Duration
	timeout  time.Duration

	log *zap.Logger
}

func newProbe(remote *Remote, cfg ProbeConfig, client *http.Client) *Probe {
	headers := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	return &Probe{
		remote:   remote,
		client:   client,
		method:   cfg.Method,
		path:     cfg.Path,
		headers:  headers,
		interval: cfg.Interval.Std(),
		timeout:  cfg.Timeout.Std(),
		log:      remote.log.Named("probe"),
	}
}

func (p *Probe) Interval() time.Duration {
	return p.interval
}

// Check sends one probe request to e and feeds the outcome to its liveness policy.
// It reports whether the endpoint's status changed.
func (p *Probe) Check(ctx context.Context, e *Endpoint) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reason, ok := p.do(ctx, e)
	if ok {
		p.remote.metrics.IncProbeChecks(p.remote.name, probeResultSuccess)

		return e.Success()
	}

	// Shutting down says nothing about the endpoint.
	if errors.Is(ctx.Err(), context.Canceled) {
		return false
	}

	p.remote.metrics.IncProbeChecks(p.remote.name, probeResultFailure)
	p.log.Debug("probe failed", zap.String("url", e.url), zap.String("reason", reason))

	return e.Failure(reason)
}

func (p *Probe) do(ctx context.Context, e *Endpoint) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, p.method, joinURL(e.url, p.path), nil)
	if err != nil {
		return probeTagPrefix + TagUnhandledError, false
	}

	req.Header = p.headers.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		return probeTagPrefix + Classify(err).Tag, false
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return "", true
	}

	return "HTTP_" + strconv.Itoa(resp.StatusCode), false
}

// Sweep checks every endpoint of the remote concurrently, whatever its pool or status, and refreshes
// the serving pool once if any status changed.
func (p *Probe) Sweep(ctx context.Context) bool {
	var changed atomic.Bool

	g, gctx := errgroup.WithContext(ctx)

	for _, e := range p.remote.ordered {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					p.log.Error("probe check panicked", zap.String("url", e.url), zap.Any("panic", rec))
				}
			}()

			if p.Check(gctx, e) {
				changed.Store(true)
			}

			return nil
		})
	}

	_ = g.Wait()

	if changed.Load() {
		p.remote.Refresh()
	}

	return changed.Load()
}

// Run sweeps immediately and then once per interval until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.safeSweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Probe) safeSweep(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("probe sweep panicked", zap.Any("panic", rec))
		}
	}()

	if ctx.Err() != nil {
		return
	}

	p.Sweep(ctx)
}
