package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xff16/relay/internal/metric"
	"github.com/xff16/relay/internal/ratelimit"
)

const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second

	historySize = 100
)

// Gateway is everything built from one Config: the router, the remote of every proxy
// and the shared instrumentation.
type Gateway struct {
	Router  *Router
	Metrics metric.Metrics
	History *HistorySink

	remotes     []*Remote
	byName      map[string]*Remote
	rateLimiter *ratelimit.RateLimit

	log *zap.Logger
}

// Build assembles a gateway from a validated config. Nothing is started.
func Build(cfg Config, log *zap.Logger) (*Gateway, error) {
	gw := &Gateway{
		Metrics: metric.NewNop(),
		History: NewHistorySink(historySize),
		byName:  make(map[string]*Remote, len(cfg.Proxies)),
		log:     log,
	}

	if cfg.Server.Metrics.Enabled {
		gw.Metrics = metric.New(cfg.Server.Metrics.Provider)
	}

	client := &http.Client{
		Transport: newTransport(cfg.Transport),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	events := MultiSink{
		NewLogSink(log.Named("events")),
		NewMetricsSink(gw.Metrics),
		gw.History,
	}

	routes := make([]Route, 0, len(cfg.Proxies))

	for _, pcfg := range cfg.Proxies {
		remote, err := NewRemote(pcfg.Name, pcfg.Remote,
			WithRemoteLogger(log.Named("remote")),
			WithRemoteMetrics(gw.Metrics),
		)
		if err != nil {
			gw.Close()

			return nil, err
		}

		gw.remotes = append(gw.remotes, remote)
		gw.byName[pcfg.Name] = remote

		controller := NewController(pcfg.Name, remote, client,
			WithControllerLogger(log.Named("controller")),
			WithControllerMetrics(gw.Metrics),
			WithEventSink(events),
			WithDebug(cfg.Debug),
			WithVersion(cfg.Version),
			WithRequestTimeout(cfg.Transport.RequestTimeout.Std()),
		)

		routes = append(routes, Route{
			Name:        pcfg.Name,
			Path:        pcfg.Path,
			StripPrefix: pcfg.StripPrefix,
			Controller:  controller,
		})

		log.Info("proxy initialized",
			zap.String("name", pcfg.Name),
			zap.String("path", pcfg.Path),
			zap.Int("endpoints", len(pcfg.Remote.Endpoints)),
		)
	}

	opts := []RouterOption{WithRouterMetrics(gw.Metrics)}

	if rl := cfg.Features.RateLimit; rl.Enabled {
		gw.rateLimiter = ratelimit.New(ratelimit.Config{
			Rate:  rl.Rate,
			Burst: rl.Burst,
			TTL:   rl.TTL.Std(),
		})

		opts = append(opts, WithRateLimiter(gw.rateLimiter))
	}

	gw.Router = NewRouter(routes, log.Named("router"), opts...)

	return gw, nil
}

func newTransport(cfg TransportConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = defaultMaxIdleConns
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
	}

	transport.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}

	transport.IdleConnTimeout = defaultIdleConnTimeout
	if cfg.IdleConnTimeout > 0 {
		transport.IdleConnTimeout = cfg.IdleConnTimeout.Std()
	}

	transport.ForceAttemptHTTP2 = true

	return transport
}

// Remotes returns the remote of every proxy in configuration order.
func (gw *Gateway) Remotes() []*Remote {
	return gw.remotes
}

func (gw *Gateway) Remote(name string) (*Remote, bool) {
	r, ok := gw.byName[name]

	return r, ok
}

// Start launches the probes of every remote and the rate limiter janitor.
func (gw *Gateway) Start(ctx context.Context) error {
	var errs []error

	for _, r := range gw.remotes {
		if err := r.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("remote %q: %w", r.Name(), err))
		}
	}

	if gw.rateLimiter != nil {
		if err := gw.rateLimiter.Start(); err != nil {
			errs = append(errs, fmt.Errorf("ratelimit: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Close stops every probe, pending recovery timer and the rate limiter janitor.
func (gw *Gateway) Close() {
	for _, r := range gw.remotes {
		r.Close()
	}

	if gw.rateLimiter != nil {
		gw.rateLimiter.Stop()
	}
}
